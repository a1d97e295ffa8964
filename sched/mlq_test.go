package sched

import (
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
)

var _ = Describe("MLQ", func() {
	var s Scheduler

	BeforeEach(func() {
		s = MakeBuilder().
			WithMaxPrio(4).
			WithQueueCapacity(10).
			Build("MLQ")
	})

	It("should return nil when empty", func() {
		Expect(s.Empty()).To(BeTrue())
		Expect(s.GetProc()).To(BeNil())
		Expect(s.Policy()).To(Equal(PolicyMLQ))
	})

	It("should weight levels by their slot budget", func() {
		a := proc.New(1, 0, 0, nil)
		b := proc.New(2, 0, 0, nil)
		c := proc.New(3, 1, 0, nil)
		Expect(s.AddProc(a)).To(Succeed())
		Expect(s.AddProc(b)).To(Succeed())
		Expect(s.AddProc(c)).To(Succeed())

		var levels []int
		for i := 0; i < 5; i++ {
			p := s.GetProc()
			Expect(p).NotTo(BeNil())
			levels = append(levels, p.Prio)
			Expect(s.PutProc(p)).To(Succeed())
		}

		Expect(levels).To(Equal([]int{0, 0, 0, 0, 1}))
	})

	It("should start a new round when the budgets run out", func() {
		a := proc.New(1, 0, 0, nil)
		c := proc.New(3, 1, 0, nil)
		Expect(s.AddProc(a)).To(Succeed())
		Expect(s.AddProc(c)).To(Succeed())

		var served []vm.PID
		for i := 0; i < 10; i++ {
			p := s.GetProc()
			served = append(served, p.PID)
			Expect(s.PutProc(p)).To(Succeed())
		}

		Expect(served).To(Equal([]vm.PID{1, 1, 1, 1, 3, 3, 3, 1, 1, 1}))
	})

	It("should never return nil while a level holds a process", func() {
		last := proc.New(1, 3, 0, nil)
		Expect(s.AddProc(last)).To(Succeed())

		for i := 0; i < 5; i++ {
			p := s.GetProc()
			Expect(p).To(BeIdenticalTo(last))
			Expect(s.PutProc(p)).To(Succeed())
		}
	})

	It("should reject priorities without a level", func() {
		Expect(s.AddProc(proc.New(1, 4, 0, nil))).
			To(MatchError(ErrInvalidPriority))
		Expect(s.PutProc(proc.New(1, -1, 0, nil))).
			To(MatchError(ErrInvalidPriority))
		Expect(s.Empty()).To(BeTrue())
	})

	It("should be empty only when every level is empty", func() {
		p := proc.New(1, 2, 0, nil)
		Expect(s.AddProc(p)).To(Succeed())
		Expect(s.Empty()).To(BeFalse())

		Expect(s.GetProc()).To(BeIdenticalTo(p))
		Expect(s.Empty()).To(BeTrue())
	})

	It("should describe the non-empty levels", func() {
		Expect(s.AddProc(proc.New(1, 2, 0, nil))).To(Succeed())
		Expect(s.AddProc(proc.New(2, 2, 0, nil))).To(Succeed())
		s.GetProc()

		snapshot := s.Snapshot()

		Expect(snapshot.Policy).To(Equal("mlq"))
		Expect(snapshot.Dispatches).To(Equal(uint64(1)))
		Expect(snapshot.Queues).To(Equal([]QueueSnapshot{{
			Name:     "MLQ.Level[2]",
			Level:    2,
			Budget:   1,
			Capacity: 10,
			PIDs:     []vm.PID{2},
		}}))
	})

	It("should count round resets", func() {
		hook := newCountingHook()
		s.AcceptHook(hook)
		Expect(s.AddProc(proc.New(1, 3, 0, nil))).To(Succeed())

		for i := 0; i < 3; i++ {
			p := s.GetProc()
			Expect(s.PutProc(p)).To(Succeed())
		}

		Expect(hook.counts[HookPosDispatch]).To(Equal(3))
		Expect(hook.counts[HookPosRoundReset]).To(Equal(2))
	})

	It("should be safe for concurrent use", func() {
		s = MakeBuilder().WithQueueCapacity(10).Build("MLQ")
		for i := 0; i < 10; i++ {
			Expect(s.AddProc(proc.New(vm.PID(i+1), i%3, 0, nil))).To(Succeed())
		}

		var (
			wg         sync.WaitGroup
			dispatched atomic.Int64
		)

		for cpu := 0; cpu < 4; cpu++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				for i := 0; i < 100; i++ {
					p := s.GetProc()
					if p == nil {
						continue
					}

					dispatched.Add(1)
					Expect(s.PutProc(p)).To(Succeed())
				}
			}()
		}
		wg.Wait()

		Expect(dispatched.Load()).To(BeNumerically(">", 0))
		total := 0
		for _, q := range s.Snapshot().Queues {
			total += len(q.PIDs)
		}
		Expect(total).To(Equal(10))
	})
})

var _ = Describe("Policy", func() {
	It("should parse", func() {
		p, err := ParsePolicy("single")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(PolicySingleLevel))

		_, err = ParsePolicy("cfs")
		Expect(err).To(HaveOccurred())
	})
})
