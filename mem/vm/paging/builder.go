package paging

import (
	"github.com/sarchlab/kernelsim/mem/mem"
	"github.com/sarchlab/kernelsim/mem/vm"
)

// A Builder can build paging systems.
type Builder struct {
	log2PageSize     uint64
	ramSize          uint64
	addressSpaceSize uint64
	numRegions       int
	pageTable        vm.PageTable
}

// MakeBuilder returns a Builder with 256-byte pages, 1 MiB of RAM, 4 MiB
// address spaces, and 30 regions per process.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize:     8,
		ramSize:          1 << 20,
		addressSpaceSize: 1 << 22,
		numRegions:       30,
	}
}

// WithLog2PageSize sets the page size as a power of 2.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithRAMSize sets the number of bytes of physical memory. It is rounded
// down to whole frames.
func (b Builder) WithRAMSize(n uint64) Builder {
	b.ramSize = n
	return b
}

// WithAddressSpaceSize sets the number of bytes a process can address.
func (b Builder) WithAddressSpaceSize(n uint64) Builder {
	b.addressSpaceSize = n
	return b
}

// WithNumRegions sets the number of region IDs a process can use.
func (b Builder) WithNumRegions(n int) Builder {
	b.numRegions = n
	return b
}

// WithPageTable sets the page table to fill. By default the system creates
// its own.
func (b Builder) WithPageTable(pt vm.PageTable) Builder {
	b.pageTable = pt
	return b
}

// Build creates a new paging system.
func (b Builder) Build(name string) *System {
	pageSize := uint64(1) << b.log2PageSize
	numFrames := b.ramSize / pageSize

	if numFrames == 0 {
		panic("RAM must hold at least one frame")
	}

	if b.numRegions <= 0 {
		panic("number of regions must be positive")
	}

	pt := b.pageTable
	if pt == nil {
		pt = vm.NewPageTable(b.log2PageSize)
	}

	s := &System{
		name:             name,
		log2PageSize:     b.log2PageSize,
		addressSpaceSize: b.addressSpaceSize,
		numRegions:       b.numRegions,
		numFrames:        numFrames,
		ram:              mem.NewStorage(numFrames * pageSize),
		pageTable:        pt,
		spaces:           make(map[vm.PID]*addressSpace),
		freeFrames:       make([]uint64, 0, numFrames),
	}

	for f := numFrames; f > 0; f-- {
		s.freeFrames = append(s.freeFrames, f-1)
	}

	return s
}
