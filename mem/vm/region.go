package vm

import "fmt"

// PageNumber returns the number of the page that holds addr.
func PageNumber(addr uint64, log2PageSize uint64) uint64 {
	return addr >> log2PageSize
}

// PageBase returns the first address of a page.
func PageBase(page uint64, log2PageSize uint64) uint64 {
	return page << log2PageSize
}

// A Region is a named span [Start, End) of a process's virtual address space,
// as recorded by the symbol table of the paging subsystem.
type Region struct {
	ID    int
	Start uint64
	End   uint64
}

// Size returns the number of bytes in the region.
func (r Region) Size() uint64 {
	return r.End - r.Start
}

// Pages returns the numbers of all the pages the region touches, in
// ascending order. An empty region touches no page.
func (r Region) Pages(log2PageSize uint64) []uint64 {
	if r.End <= r.Start {
		return nil
	}

	first := PageNumber(r.Start, log2PageSize)
	last := PageNumber(r.End-1, log2PageSize)

	pages := make([]uint64, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}

	return pages
}

func (r Region) String() string {
	return fmt.Sprintf("region %d [0x%x, 0x%x)", r.ID, r.Start, r.End)
}
