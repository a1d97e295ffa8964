package internal_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb/internal"
)

func entry(pid vm.PID, page uint64) internal.Entry {
	return internal.Entry{PID: pid, Page: page, Address: page << 8}
}

func mustFind(l internal.EntryList, e internal.Entry) int {
	i, found := l.Lookup(e.PID, e.Page, e.Address)
	Expect(found).To(BeTrue())
	return i
}

func mustMiss(l internal.EntryList, e internal.Entry) {
	_, found := l.Lookup(e.PID, e.Page, e.Address)
	Expect(found).To(BeFalse())
}

var _ = Describe("ClearAllList", func() {
	var l internal.EntryList

	BeforeEach(func() {
		l = internal.NewClearAllList(2)
	})

	It("should keep duplicates", func() {
		l.Insert(entry(1, 1))
		l.Insert(entry(1, 1))

		Expect(l.Len()).To(Equal(2))
		Expect(mustFind(l, entry(1, 1))).To(Equal(0))
	})

	It("should clear everything on overflow", func() {
		l.Insert(entry(1, 1))
		l.Insert(entry(1, 2))
		evicted := l.Insert(entry(1, 3))

		Expect(evicted).To(Equal([]internal.Entry{entry(1, 1), entry(1, 2)}))
		Expect(l.Entries()).To(Equal([]internal.Entry{entry(1, 3)}))
	})

	It("should remove matching entries and keep the order", func() {
		l = internal.NewClearAllList(4)
		l.Insert(entry(1, 1))
		l.Insert(entry(2, 1))
		l.Insert(entry(1, 2))
		l.Insert(entry(3, 1))

		removed := l.RemoveIf(func(e internal.Entry) bool { return e.PID == 1 })

		Expect(removed).To(Equal(2))
		Expect(l.Entries()).To(Equal([]internal.Entry{entry(2, 1), entry(3, 1)}))
	})
})

var _ = Describe("FIFOList", func() {
	var l internal.EntryList

	BeforeEach(func() {
		l = internal.NewFIFOList(2)
	})

	It("should not duplicate", func() {
		l.Insert(entry(1, 1))
		Expect(l.Insert(entry(1, 1))).To(BeEmpty())
		Expect(l.Len()).To(Equal(1))
	})

	It("should evict the oldest entry", func() {
		l.Insert(entry(1, 1))
		l.Insert(entry(1, 2))
		mustFind(l, entry(1, 1))

		evicted := l.Insert(entry(1, 3))

		Expect(evicted).To(Equal([]internal.Entry{entry(1, 1)}))
		Expect(l.Entries()).To(Equal([]internal.Entry{entry(1, 2), entry(1, 3)}))
	})
})

var _ = Describe("LRUList", func() {
	var l internal.EntryList

	BeforeEach(func() {
		l = internal.NewLRUList(2)
	})

	It("should evict the least recently visited entry", func() {
		l.Insert(entry(1, 1))
		l.Insert(entry(1, 2))
		l.Visit(mustFind(l, entry(1, 1)))

		evicted := l.Insert(entry(1, 3))

		Expect(evicted).To(Equal([]internal.Entry{entry(1, 2)}))
		mustFind(l, entry(1, 1))
		mustFind(l, entry(1, 3))
		mustMiss(l, entry(1, 2))
	})

	It("should count a repeated insert as a visit", func() {
		l.Insert(entry(1, 1))
		l.Insert(entry(1, 2))
		l.Insert(entry(1, 1))

		evicted := l.Insert(entry(1, 3))

		Expect(evicted).To(Equal([]internal.Entry{entry(1, 2)}))
	})

	It("should keep visit times aligned after removals", func() {
		l = internal.NewLRUList(3)
		l.Insert(entry(1, 1))
		l.Insert(entry(2, 1))
		l.Insert(entry(2, 2))
		l.Visit(mustFind(l, entry(2, 1)))

		l.RemoveIf(func(e internal.Entry) bool { return e.PID == 1 })
		l.Insert(entry(3, 1))
		evicted := l.Insert(entry(3, 2))

		Expect(evicted).To(Equal([]internal.Entry{entry(2, 2)}))
	})
})
