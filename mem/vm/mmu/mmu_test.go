package mmu

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

type faultHook struct {
	errs []error
}

func (h *faultHook) Func(ctx hooking.HookCtx) {
	h.errs = append(h.errs, ctx.Detail.(error))
}

var _ = Describe("MMU", func() {
	var (
		mockCtrl *gomock.Controller
		paging   *MockPagingSystem
		cache    *tlb.Cache
		m        *MMU
		p        *proc.Proc
	)

	cached := func(page uint64) (byte, bool) {
		value, hit, err := cache.Read(p.PID, page)
		Expect(err).NotTo(HaveOccurred())

		return value, hit
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		paging = NewMockPagingSystem(mockCtrl)
		cache = tlb.MakeBuilder().
			WithNumEntries(8).
			WithLog2PageSize(8).
			Build("TLB")
		m = MakeBuilder().
			WithTLB(cache).
			WithPagingSystem(paging).
			Build("MMU")
		p = proc.New(3, 0, 0, nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("read", func() {
		BeforeEach(func() {
			p.Regs[1] = 0x200
		})

		It("should serve a hit from the cache", func() {
			Expect(cache.Write(p.PID, 2, 0x7)).To(Succeed())

			err := m.Read(p, 1, 4, 5)

			Expect(err).NotTo(HaveOccurred())
			Expect(p.Regs[5]).To(Equal(uint32(0x7)))
		})

		It("should go to the paging system on a miss", func() {
			paging.EXPECT().
				Read(p, 0, 1, uint32(4)).
				Return(byte(0x9), nil)

			err := m.Read(p, 1, 4, 5)

			Expect(err).NotTo(HaveOccurred())
			Expect(p.Regs[5]).To(Equal(uint32(0x9)))

			value, hit := cached(2)
			Expect(hit).To(BeTrue())
			Expect(value).To(Equal(byte(0x9)))
		})

		It("should return the paging error unchanged", func() {
			pagingErr := errors.New("page fault")
			paging.EXPECT().
				Read(p, 0, 1, uint32(4)).
				Return(byte(0), pagingErr)
			p.Regs[5] = 42

			err := m.Read(p, 1, 4, 5)

			Expect(err).To(BeIdenticalTo(pagingErr))
			Expect(p.Regs[5]).To(Equal(uint32(42)))
			_, hit := cached(2)
			Expect(hit).To(BeFalse())
		})

		It("should reject invalid registers", func() {
			err := m.Read(p, proc.NumRegs, 0, 0)

			Expect(err).To(MatchError(ErrInvalidRegister))
		})
	})

	Context("write", func() {
		BeforeEach(func() {
			p.Regs[2] = 0x100
		})

		It("should write through to the paging system", func() {
			paging.EXPECT().
				Write(p, 0, 2, uint32(0x10), byte(0xab)).
				Return(nil)

			err := m.Write(p, 0xab, 2, 0x10)

			Expect(err).NotTo(HaveOccurred())
			value, hit := cached(1)
			Expect(hit).To(BeTrue())
			Expect(value).To(Equal(byte(0xab)))
		})

		It("should update the cache even if the paging system fails", func() {
			pagingErr := errors.New("page fault")
			paging.EXPECT().
				Write(p, 0, 2, uint32(0x10), byte(0xab)).
				Return(pagingErr)

			err := m.Write(p, 0xab, 2, 0x10)

			Expect(err).To(BeIdenticalTo(pagingErr))
			value, hit := cached(1)
			Expect(hit).To(BeTrue())
			Expect(value).To(Equal(byte(0xab)))
		})

		It("should report paging failures to hooks", func() {
			hook := &faultHook{}
			m.AcceptHook(hook)
			pagingErr := errors.New("page fault")
			paging.EXPECT().
				Write(p, 0, 2, uint32(0), byte(1)).
				Return(pagingErr)

			_ = m.Write(p, 1, 2, 0)

			Expect(hook.errs).To(ConsistOf(pagingErr))
		})
	})

	Context("alloc", func() {
		It("should prime every page of the new region", func() {
			paging.EXPECT().
				Alloc(p, 0, 4, uint32(0x180)).
				Return(uint32(0x100), nil)

			err := m.Alloc(p, 0x180, 4)

			Expect(err).NotTo(HaveOccurred())
			Expect(cache.Entries()).To(Equal([]tlb.Entry{
				{PID: 3, Page: 1, Address: 0x100},
				{PID: 3, Page: 2, Address: 0x200},
			}))
		})

		It("should not touch the cache if allocation fails", func() {
			allocErr := errors.New("out of memory")
			paging.EXPECT().
				Alloc(p, 0, 4, uint32(0x180)).
				Return(uint32(0), allocErr)

			err := m.Alloc(p, 0x180, 4)

			Expect(err).To(BeIdenticalTo(allocErr))
			Expect(cache.Len()).To(Equal(0))
		})
	})

	Context("free", func() {
		region := vm.Region{ID: 4, Start: 0x100, End: 0x200}

		BeforeEach(func() {
			Expect(cache.Write(p.PID, 1, 0x5)).To(Succeed())
		})

		It("should do nothing if the region does not exist", func() {
			paging.EXPECT().
				RegionByID(p, 4).
				Return(vm.Region{}, false)

			err := m.Free(p, 4)

			Expect(err).To(MatchError(ErrNoRegion))
			Expect(cache.Len()).To(Equal(1))
			value, _ := cached(1)
			Expect(value).To(Equal(byte(0x5)))
		})

		It("should stamp the region with zero", func() {
			paging.EXPECT().RegionByID(p, 4).Return(region, true)
			paging.EXPECT().Free(p, 0, 4).Return(nil)

			err := m.Free(p, 4)

			Expect(err).NotTo(HaveOccurred())
			value, hit := cached(1)
			Expect(hit).To(BeTrue())
			Expect(value).To(Equal(byte(0)))
		})

		It("should invalidate the region", func() {
			m = MakeBuilder().
				WithTLB(cache).
				WithPagingSystem(paging).
				WithFreePolicy(FreeInvalidate).
				Build("MMU")
			paging.EXPECT().RegionByID(p, 4).Return(region, true)
			paging.EXPECT().Free(p, 0, 4).Return(nil)

			err := m.Free(p, 4)

			Expect(err).NotTo(HaveOccurred())
			_, hit := cached(1)
			Expect(hit).To(BeFalse())
		})

		It("should report a failed free", func() {
			paging.EXPECT().RegionByID(p, 4).Return(region, true)
			paging.EXPECT().Free(p, 0, 4).Return(errors.New("busy"))

			err := m.Free(p, 4)

			Expect(err).To(MatchError(ErrFreeFailed))
		})
	})

	It("should flush the translations of a process", func() {
		other := proc.New(4, 0, 0, nil)
		Expect(cache.Write(p.PID, 1, 1)).To(Succeed())
		Expect(cache.Write(other.PID, 1, 2)).To(Succeed())

		Expect(m.ChangeAllPageTablesOf(p)).To(Succeed())

		Expect(cache.Entries()).To(Equal([]tlb.Entry{
			{PID: 4, Page: 1, Address: 0x100},
		}))
	})
})

var _ = Describe("FreePolicy", func() {
	It("should parse", func() {
		p, err := ParseFreePolicy("invalidate")

		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(FreeInvalidate))
		Expect(FreeZeroStamp.String()).To(Equal("zero"))

		_, err = ParseFreePolicy("none")
		Expect(err).To(HaveOccurred())
	})
})
