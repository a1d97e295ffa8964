package tlb_test

import (
	"bytes"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kernelsim/mem/mem"
	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

type recordingHook struct {
	ctxs []hooking.HookCtx
}

func (h *recordingHook) Func(ctx hooking.HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

func (h *recordingHook) positions() []*hooking.HookPos {
	var positions []*hooking.HookPos
	for _, ctx := range h.ctxs {
		positions = append(positions, ctx.Pos)
	}

	return positions
}

func mustRead(c *tlb.Cache, pid vm.PID, page uint64) (byte, bool) {
	value, hit, err := c.Read(pid, page)
	Expect(err).NotTo(HaveOccurred())

	return value, hit
}

var _ = Describe("Cache", func() {
	var cache *tlb.Cache

	BeforeEach(func() {
		cache = tlb.MakeBuilder().
			WithNumEntries(4).
			WithLog2PageSize(8).
			WithMirrorSize(1 << 16).
			Build("TLB")
	})

	It("should miss when empty", func() {
		_, hit := mustRead(cache, 1, 3)

		Expect(hit).To(BeFalse())
	})

	It("should read what was written last", func() {
		Expect(cache.Write(1, 3, 0x11)).To(Succeed())
		Expect(cache.Write(1, 5, 0x22)).To(Succeed())
		Expect(cache.Write(1, 3, 0x33)).To(Succeed())

		value, hit := mustRead(cache, 1, 3)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(0x33)))

		value, hit = mustRead(cache, 1, 5)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(0x22)))
	})

	It("should keep duplicated entries under the clear-all policy", func() {
		Expect(cache.Write(1, 3, 0x11)).To(Succeed())
		Expect(cache.Write(1, 3, 0x12)).To(Succeed())

		Expect(cache.Len()).To(Equal(2))
	})

	It("should record the page base address in the entry", func() {
		Expect(cache.Write(2, 3, 0)).To(Succeed())

		Expect(cache.Entries()).To(Equal([]tlb.Entry{
			{PID: 2, Page: 3, Address: 0x300},
		}))
	})

	It("should clear everything when the capacity is exceeded", func() {
		for page := uint64(0); page < 5; page++ {
			Expect(cache.Write(1, page, byte(page+1))).To(Succeed())
		}

		Expect(cache.Len()).To(Equal(1))

		for page := uint64(0); page < 4; page++ {
			_, hit := mustRead(cache, 1, page)
			Expect(hit).To(BeFalse())
		}

		value, hit := mustRead(cache, 1, 4)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(5)))
	})

	It("should flush only the entries of a process", func() {
		Expect(cache.Write(1, 1, 0xa)).To(Succeed())
		Expect(cache.Write(2, 1, 0xb)).To(Succeed())
		Expect(cache.Write(1, 2, 0xc)).To(Succeed())
		Expect(cache.Write(3, 2, 0xd)).To(Succeed())

		Expect(cache.Flush(1)).To(Succeed())

		_, hit := mustRead(cache, 1, 1)
		Expect(hit).To(BeFalse())
		_, hit = mustRead(cache, 1, 2)
		Expect(hit).To(BeFalse())

		value, hit := mustRead(cache, 2, 1)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(0xb)))

		value, hit = mustRead(cache, 3, 2)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(0xd)))

		Expect(cache.Entries()).To(Equal([]tlb.Entry{
			{PID: 2, Page: 1, Address: 0x100},
			{PID: 3, Page: 2, Address: 0x200},
		}))
	})

	It("should drop the mirror of a flushed process", func() {
		Expect(cache.Write(1, 1, 0xa)).To(Succeed())
		Expect(cache.Write(2, 1, 0xb)).To(Succeed())

		Expect(cache.Flush(1)).To(Succeed())

		buf := new(bytes.Buffer)
		Expect(cache.Dump(buf)).To(Succeed())
		Expect(buf.String()).NotTo(ContainSubstring("pid 1:"))
		Expect(buf.String()).To(ContainSubstring("pid 2:"))

		Expect(cache.Write(1, 1, 0xc)).To(Succeed())
		value, hit := mustRead(cache, 1, 1)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(0xc)))
	})

	It("should not let processes alias each other's page", func() {
		Expect(cache.Write(1, 7, 0x01)).To(Succeed())
		Expect(cache.Write(2, 7, 0x02)).To(Succeed())

		value, hit := mustRead(cache, 1, 7)
		Expect(hit).To(BeTrue())
		Expect(value).To(Equal(byte(0x01)))
	})

	It("should invalidate a single translation", func() {
		Expect(cache.Write(1, 1, 0xa)).To(Succeed())
		Expect(cache.Write(1, 2, 0xb)).To(Succeed())

		Expect(cache.Invalidate(1, 1)).To(Succeed())

		_, hit := mustRead(cache, 1, 1)
		Expect(hit).To(BeFalse())
		_, hit = mustRead(cache, 1, 2)
		Expect(hit).To(BeTrue())
	})

	It("should reject pages beyond the mirror", func() {
		err := cache.Write(1, 1<<8, 1)

		Expect(err).To(MatchError(mem.ErrOutOfRange))
		Expect(cache.Len()).To(Equal(0))
	})

	It("should count hits and misses", func() {
		Expect(cache.Write(1, 1, 0xa)).To(Succeed())
		mustRead(cache, 1, 1)
		mustRead(cache, 1, 2)
		mustRead(cache, 1, 1)

		hits, misses := cache.Stats()
		Expect(hits).To(Equal(uint64(2)))
		Expect(misses).To(Equal(uint64(1)))
	})

	It("should invoke hooks", func() {
		hook := &recordingHook{}
		cache.AcceptHook(hook)

		for page := uint64(0); page < 5; page++ {
			Expect(cache.Write(1, page, 0)).To(Succeed())
		}
		mustRead(cache, 1, 4)
		mustRead(cache, 1, 0)
		Expect(cache.Flush(1)).To(Succeed())

		Expect(hook.positions()).To(Equal([]*hooking.HookPos{
			tlb.HookPosInsert, tlb.HookPosInsert,
			tlb.HookPosInsert, tlb.HookPosInsert,
			tlb.HookPosClear, tlb.HookPosInsert,
			tlb.HookPosHit, tlb.HookPosMiss,
			tlb.HookPosFlush,
		}))
		Expect(hook.ctxs[4].Detail).To(Equal(4))
		Expect(hook.ctxs[8].Detail).To(Equal(1))
	})

	It("should dump the mirror", func() {
		small := tlb.MakeBuilder().
			WithNumEntries(2).
			WithLog2PageSize(1).
			WithMirrorSize(4).
			Build("Small")
		Expect(small.Write(1, 1, 0xAB)).To(Succeed())

		buf := new(bytes.Buffer)
		Expect(small.Dump(buf)).To(Succeed())

		Expect(buf.String()).To(Equal(
			"==== Small mirror dump ====\n" +
				"pid 1:\n" +
				"\t0: 00\n\t1: 00\n\t2: AB\n\t3: 00\n" +
				"==== End of Small mirror dump ====\n"))
	})

	It("should be safe for concurrent use", func() {
		var wg sync.WaitGroup

		for pid := vm.PID(1); pid <= 4; pid++ {
			wg.Add(1)
			go func(pid vm.PID) {
				defer GinkgoRecover()
				defer wg.Done()

				for page := uint64(0); page < 100; page++ {
					Expect(cache.Write(pid, page, byte(page))).To(Succeed())
					_, _, err := cache.Read(pid, page)
					Expect(err).NotTo(HaveOccurred())
				}
			}(pid)
		}
		wg.Wait()

		Expect(cache.Len()).To(BeNumerically("<=", 4))
	})

	Context("with a nil cache", func() {
		It("should report an error from every operation", func() {
			var nilCache *tlb.Cache

			_, _, err := nilCache.Read(1, 1)
			Expect(err).To(MatchError(tlb.ErrNilCache))
			Expect(nilCache.Write(1, 1, 1)).To(MatchError(tlb.ErrNilCache))
			Expect(nilCache.Flush(1)).To(MatchError(tlb.ErrNilCache))
			Expect(nilCache.Invalidate(1, 1)).To(MatchError(tlb.ErrNilCache))
			Expect(nilCache.Dump(new(bytes.Buffer))).To(MatchError(tlb.ErrNilCache))
		})
	})

	Context("with the FIFO policy", func() {
		BeforeEach(func() {
			cache = tlb.MakeBuilder().
				WithNumEntries(2).
				WithEvictionPolicy(tlb.EvictFIFO).
				Build("TLB")
		})

		It("should evict the oldest translation only", func() {
			Expect(cache.Write(1, 1, 0xa)).To(Succeed())
			Expect(cache.Write(1, 2, 0xb)).To(Succeed())
			Expect(cache.Write(1, 3, 0xc)).To(Succeed())

			Expect(cache.Len()).To(Equal(2))
			_, hit := mustRead(cache, 1, 1)
			Expect(hit).To(BeFalse())
			_, hit = mustRead(cache, 1, 2)
			Expect(hit).To(BeTrue())
		})
	})

	Context("with the LRU policy", func() {
		BeforeEach(func() {
			cache = tlb.MakeBuilder().
				WithNumEntries(2).
				WithEvictionPolicy(tlb.EvictLRU).
				Build("TLB")
		})

		It("should evict the least recently read translation", func() {
			Expect(cache.Write(1, 1, 0xa)).To(Succeed())
			Expect(cache.Write(1, 2, 0xb)).To(Succeed())
			mustRead(cache, 1, 1)
			Expect(cache.Write(1, 3, 0xc)).To(Succeed())

			_, hit := mustRead(cache, 1, 2)
			Expect(hit).To(BeFalse())
			value, hit := mustRead(cache, 1, 1)
			Expect(hit).To(BeTrue())
			Expect(value).To(Equal(byte(0xa)))
		})
	})
})

var _ = Describe("Builder", func() {
	It("should convert page sizes", func() {
		c := tlb.MakeBuilder().WithPageSize(4096).Build("TLB")

		Expect(c.Log2PageSize()).To(Equal(uint64(12)))
	})

	It("should panic on invalid page sizes", func() {
		Expect(func() { tlb.MakeBuilder().WithPageSize(1000) }).To(Panic())
	})

	It("should parse eviction policies", func() {
		p, err := tlb.ParseEvictionPolicy("LRU")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(tlb.EvictLRU))

		_, err = tlb.ParseEvictionPolicy("random")
		Expect(err).To(HaveOccurred())

		Expect(tlb.EvictFIFO.String()).To(Equal("fifo"))
	})
})
