// Package mmu routes the memory instructions of the simulated CPU through the
// TLB before falling back to the paging system.
package mmu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

var (
	// ErrNoRegion is returned by Free when the process has no such region.
	ErrNoRegion = errors.New("region does not exist")

	// ErrFreeFailed is returned by Free when the region could not be
	// released.
	ErrFreeFailed = errors.New("failed to free region")

	// ErrInvalidRegister is returned when an instruction names a register
	// the process does not have.
	ErrInvalidRegister = errors.New("invalid register")
)

// HookPosFault marks an access rejected by the paging system. The Item is the
// process and the Detail is the error.
var HookPosFault = &hooking.HookPos{Name: "MMU Fault"}

// MMU serves the memory instructions of processes. It is safe for concurrent
// use as long as a process is executed by one CPU at a time.
type MMU struct {
	hooking.HookableBase

	name       string
	cache      *tlb.Cache
	paging     PagingSystem
	freePolicy FreePolicy
}

// Name returns the name of the MMU.
func (m *MMU) Name() string {
	return m.name
}

// TLB returns the cache the MMU consults.
func (m *MMU) TLB() *tlb.Cache {
	return m.cache
}

// FreePolicy returns how Free retires cached translations.
func (m *MMU) FreePolicy() FreePolicy {
	return m.freePolicy
}

func (m *MMU) page(base uint32, offset uint32) uint64 {
	addr := uint64(base) + uint64(offset)
	return vm.PageNumber(addr, m.cache.Log2PageSize())
}

func checkRegs(regs ...int) error {
	for _, r := range regs {
		if r < 0 || r >= proc.NumRegs {
			return fmt.Errorf("%w: %d", ErrInvalidRegister, r)
		}
	}

	return nil
}

// Read loads the byte at Regs[srcReg] + offset into Regs[dstReg]. A TLB hit
// is served from the cache. On a miss the byte comes from the paging system
// and is cached. Errors of the paging system are returned unchanged.
func (m *MMU) Read(p *proc.Proc, srcReg int, offset uint32, dstReg int) error {
	if err := checkRegs(srcReg, dstReg); err != nil {
		return err
	}

	page := m.page(p.Regs[srcReg], offset)

	value, hit, err := m.cache.Read(p.PID, page)
	if err != nil {
		return err
	}

	if hit {
		p.Regs[dstReg] = uint32(value)
		return nil
	}

	value, err = m.paging.Read(p, 0, srcReg, offset)
	if err != nil {
		m.fault(p, err)
		return err
	}

	p.Regs[dstReg] = uint32(value)

	return m.cache.Write(p.PID, page, value)
}

// Write stores data at Regs[dstReg] + offset. The paging system is always
// written; the cache is then updated even if the paging system failed, and
// the paging error is returned unchanged.
func (m *MMU) Write(p *proc.Proc, data byte, dstReg int, offset uint32) error {
	if err := checkRegs(dstReg); err != nil {
		return err
	}

	page := m.page(p.Regs[dstReg], offset)

	// The probe only feeds the hit and miss statistics.
	if _, _, err := m.cache.Read(p.PID, page); err != nil {
		return err
	}

	pagingErr := m.paging.Write(p, 0, dstReg, offset, data)
	if pagingErr != nil {
		m.fault(p, pagingErr)
	}

	if err := m.cache.Write(p.PID, page, data); err != nil && pagingErr == nil {
		return err
	}

	return pagingErr
}

// Alloc reserves size bytes for a region and primes the cache with a zero
// byte for every page the new region spans.
func (m *MMU) Alloc(p *proc.Proc, size uint32, regionID int) error {
	addr, err := m.paging.Alloc(p, 0, regionID, size)
	if err != nil {
		m.fault(p, err)
		return err
	}

	region := vm.Region{
		ID:    regionID,
		Start: uint64(addr),
		End:   uint64(addr) + uint64(size),
	}

	for _, page := range region.Pages(m.cache.Log2PageSize()) {
		if err := m.cache.Write(p.PID, page, 0); err != nil {
			return err
		}
	}

	return nil
}

// Free retires the cached translations of a region and releases it. A
// missing region reports ErrNoRegion without touching the cache or the
// paging system. Any other failure reports ErrFreeFailed.
func (m *MMU) Free(p *proc.Proc, regionID int) error {
	region, ok := m.paging.RegionByID(p, regionID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoRegion, regionID)
	}

	for _, page := range region.Pages(m.cache.Log2PageSize()) {
		var err error

		switch m.freePolicy {
		case FreeInvalidate:
			err = m.cache.Invalidate(p.PID, page)
		default:
			err = m.cache.Write(p.PID, page, 0)
		}

		if err != nil {
			return fmt.Errorf("%w: %w", ErrFreeFailed, err)
		}
	}

	if err := m.paging.Free(p, 0, regionID); err != nil {
		m.fault(p, err)
		return fmt.Errorf("%w: %w", ErrFreeFailed, err)
	}

	return nil
}

// FlushOf drops every cached translation of the process.
func (m *MMU) FlushOf(p *proc.Proc) error {
	return m.cache.Flush(p.PID)
}

// ChangeAllPageTablesOf is called when the page tables of the process are
// replaced. The cached translations are no longer valid.
func (m *MMU) ChangeAllPageTablesOf(p *proc.Proc) error {
	return m.FlushOf(p)
}

func (m *MMU) fault(p *proc.Proc, err error) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosFault,
		Item:   p,
		Detail: err,
	})
}
