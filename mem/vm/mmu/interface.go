package mmu

import (
	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
)

// A PagingSystem resolves the memory accesses of a process against its
// address spaces. The vmaID selects the address space; the kernel only uses
// VMA 0.
type PagingSystem interface {
	// Read returns the byte at Regs[srcReg] + offset.
	Read(p *proc.Proc, vmaID, srcReg int, offset uint32) (byte, error)

	// Write stores data at Regs[dstReg] + offset.
	Write(p *proc.Proc, vmaID, dstReg int, offset uint32, data byte) error

	// Alloc reserves size bytes for the region and returns its start
	// address.
	Alloc(p *proc.Proc, vmaID, regionID int, size uint32) (uint32, error)

	// Free releases the region.
	Free(p *proc.Proc, vmaID, regionID int) error

	// RegionByID looks up the span of a region.
	RegionByID(p *proc.Proc, regionID int) (vm.Region, bool)
}
