// Package paging is the reference paging system of the kernel. It gives each
// process an address space made of regions, backs the touched pages with
// frames of a shared RAM, and resolves the byte accesses of the MMU.
package paging

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/kernelsim/mem/mem"
	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
)

var (
	// ErrPageFault is returned when accessing an unmapped address.
	ErrPageFault = errors.New("page fault")

	// ErrInvalidVMA is returned for any address space other than VMA 0.
	ErrInvalidVMA = errors.New("invalid virtual memory area")

	// ErrInvalidRegion is returned for region IDs that are out of range or
	// not allocated.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrRegionInUse is returned when allocating a region twice.
	ErrRegionInUse = errors.New("region already allocated")

	// ErrOutOfVirtualMemory is returned when the address space is full.
	ErrOutOfVirtualMemory = errors.New("out of virtual memory")

	// ErrOutOfMemory is returned when no frame is left.
	ErrOutOfMemory = errors.New("out of physical memory")
)

type addressSpace struct {
	regions map[int]vm.Region
	holes   []vm.Region
	brk     uint64
}

// System is a paging system. It is safe for concurrent use.
type System struct {
	lock sync.Mutex

	name             string
	log2PageSize     uint64
	addressSpaceSize uint64
	numRegions       int
	numFrames        uint64

	ram        *mem.Storage
	pageTable  vm.PageTable
	freeFrames []uint64
	spaces     map[vm.PID]*addressSpace
}

// Name returns the name of the paging system.
func (s *System) Name() string {
	return s.name
}

// Log2PageSize returns the page size as a power of 2.
func (s *System) Log2PageSize() uint64 {
	return s.log2PageSize
}

// NumFrames returns the number of frames of the RAM.
func (s *System) NumFrames() uint64 {
	return s.numFrames
}

// NumFreeFrames returns the number of frames not mapped to any page.
func (s *System) NumFreeFrames() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.freeFrames)
}

// Regions returns the allocated regions of a process ordered by ID.
func (s *System) Regions(pid vm.PID) []vm.Region {
	s.lock.Lock()
	defer s.lock.Unlock()

	space, ok := s.spaces[pid]
	if !ok {
		return nil
	}

	regions := make([]vm.Region, 0, len(space.regions))
	for _, r := range space.regions {
		regions = append(regions, r)
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].ID < regions[j].ID
	})

	return regions
}

func (s *System) space(pid vm.PID) *addressSpace {
	space, ok := s.spaces[pid]
	if !ok {
		space = &addressSpace{regions: make(map[int]vm.Region)}
		s.spaces[pid] = space
	}

	return space
}

func checkVMA(vmaID int) error {
	if vmaID != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVMA, vmaID)
	}

	return nil
}

func (s *System) translate(pid vm.PID, vAddr uint64) (uint64, error) {
	page, found := s.pageTable.Find(pid, vAddr)
	if !found || !page.Valid {
		return 0, fmt.Errorf("%w: pid %d, address 0x%x",
			ErrPageFault, pid, vAddr)
	}

	return page.PAddr + vAddr - page.VAddr, nil
}

// Read returns the byte at Regs[srcReg] + offset.
func (s *System) Read(
	p *proc.Proc,
	vmaID, srcReg int,
	offset uint32,
) (byte, error) {
	if err := checkVMA(vmaID); err != nil {
		return 0, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	pAddr, err := s.translate(p.PID, uint64(p.Regs[srcReg])+uint64(offset))
	if err != nil {
		return 0, err
	}

	return s.ram.LoadByte(pAddr)
}

// Write stores data at Regs[dstReg] + offset.
func (s *System) Write(
	p *proc.Proc,
	vmaID, dstReg int,
	offset uint32,
	data byte,
) error {
	if err := checkVMA(vmaID); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	pAddr, err := s.translate(p.PID, uint64(p.Regs[dstReg])+uint64(offset))
	if err != nil {
		return err
	}

	return s.ram.StoreByte(pAddr, data)
}

// Alloc reserves size bytes for a region and maps its pages. The region is
// placed in the first freed hole that fits, or after the highest region.
func (s *System) Alloc(
	p *proc.Proc,
	vmaID, regionID int,
	size uint32,
) (uint32, error) {
	if err := checkVMA(vmaID); err != nil {
		return 0, err
	}

	if regionID < 0 || regionID >= s.numRegions {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRegion, regionID)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	space := s.space(p.PID)
	if _, ok := space.regions[regionID]; ok {
		return 0, fmt.Errorf("%w: %d", ErrRegionInUse, regionID)
	}

	region, hole, err := s.place(space, regionID, uint64(size))
	if err != nil {
		return 0, err
	}

	newPages := s.unmappedPages(p.PID, region)
	if len(newPages) > len(s.freeFrames) {
		return 0, fmt.Errorf("%w: %d frames needed, %d left",
			ErrOutOfMemory, len(newPages), len(s.freeFrames))
	}

	s.commit(space, region, hole)

	for _, page := range newPages {
		s.mapPage(p.PID, page)
	}

	return uint32(region.Start), nil
}

// place finds room for a region. The returned hole index is -1 when the
// region is placed at the break.
func (s *System) place(
	space *addressSpace,
	regionID int,
	size uint64,
) (vm.Region, int, error) {
	for i, h := range space.holes {
		if h.Size() >= size {
			return vm.Region{ID: regionID, Start: h.Start, End: h.Start + size},
				i, nil
		}
	}

	if space.brk+size > s.addressSpaceSize {
		return vm.Region{}, -1, fmt.Errorf("%w: %d bytes requested",
			ErrOutOfVirtualMemory, size)
	}

	return vm.Region{ID: regionID, Start: space.brk, End: space.brk + size},
		-1, nil
}

func (s *System) commit(space *addressSpace, region vm.Region, hole int) {
	space.regions[region.ID] = region

	if hole < 0 {
		space.brk = region.End
		return
	}

	h := &space.holes[hole]
	h.Start = region.End

	if h.Size() == 0 {
		space.holes = append(space.holes[:hole], space.holes[hole+1:]...)
	}
}

func (s *System) unmappedPages(pid vm.PID, region vm.Region) []uint64 {
	var pages []uint64

	for _, page := range region.Pages(s.log2PageSize) {
		vAddr := vm.PageBase(page, s.log2PageSize)
		if _, found := s.pageTable.Find(pid, vAddr); !found {
			pages = append(pages, page)
		}
	}

	return pages
}

func (s *System) mapPage(pid vm.PID, page uint64) {
	last := len(s.freeFrames) - 1
	frame := s.freeFrames[last]
	s.freeFrames = s.freeFrames[:last]

	s.pageTable.Insert(vm.Page{
		PID:      pid,
		VAddr:    vm.PageBase(page, s.log2PageSize),
		PAddr:    vm.PageBase(frame, s.log2PageSize),
		PageSize: 1 << s.log2PageSize,
		Valid:    true,
	})
}

// Free releases a region. Pages that another region of the process still
// touches stay mapped.
func (s *System) Free(p *proc.Proc, vmaID, regionID int) error {
	if err := checkVMA(vmaID); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	space, ok := s.spaces[p.PID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidRegion, regionID)
	}

	region, ok := space.regions[regionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidRegion, regionID)
	}

	delete(space.regions, regionID)
	s.addHole(space, region)

	for _, page := range region.Pages(s.log2PageSize) {
		if s.pageInUse(space, page) {
			continue
		}

		vAddr := vm.PageBase(page, s.log2PageSize)

		mapped, found := s.pageTable.Find(p.PID, vAddr)
		if !found {
			continue
		}

		if err := s.pageTable.Remove(p.PID, vAddr); err != nil {
			return err
		}

		s.releaseFrame(mapped.PAddr)
	}

	return nil
}

func (s *System) pageInUse(space *addressSpace, page uint64) bool {
	for _, r := range space.regions {
		for _, used := range r.Pages(s.log2PageSize) {
			if used == page {
				return true
			}
		}
	}

	return false
}

// addHole records a freed span, merging it with its neighbours. Spans that
// reach the break lower the break instead.
func (s *System) addHole(space *addressSpace, region vm.Region) {
	if region.Size() == 0 {
		return
	}

	hole := vm.Region{Start: region.Start, End: region.End}
	holes := space.holes[:0]

	for _, h := range space.holes {
		switch {
		case h.End == hole.Start:
			hole.Start = h.Start
		case h.Start == hole.End:
			hole.End = h.End
		default:
			holes = append(holes, h)
		}
	}

	if hole.End == space.brk {
		space.brk = hole.Start
		space.holes = holes

		return
	}

	holes = append(holes, hole)
	sort.Slice(holes, func(i, j int) bool {
		return holes[i].Start < holes[j].Start
	})

	space.holes = holes
}

func (s *System) releaseFrame(pAddr uint64) {
	frameSize := uint64(1) << s.log2PageSize

	// Frames are handed out zeroed.
	if err := s.ram.Write(pAddr, make([]byte, frameSize)); err != nil {
		panic(err)
	}

	s.freeFrames = append(s.freeFrames, vm.PageNumber(pAddr, s.log2PageSize))
}

// RegionByID returns the span of an allocated region.
func (s *System) RegionByID(p *proc.Proc, regionID int) (vm.Region, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	space, ok := s.spaces[p.PID]
	if !ok {
		return vm.Region{}, false
	}

	region, ok := space.regions[regionID]

	return region, ok
}

// Release drops the address space of an exited process and returns all of
// its frames.
func (s *System) Release(pid vm.PID) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, page := range s.pageTable.RemoveProcess(pid) {
		s.releaseFrame(page.PAddr)
	}

	delete(s.spaces, pid)
}
