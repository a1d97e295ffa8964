// Package vm provides the models for virtual memory: process IDs, pages,
// regions, and the page table that maps them.
package vm

import (
	"container/list"
	"errors"
	"sync"
)

// PID stands for Process ID.
type PID uint32

// ErrPageNotFound is returned when updating or removing a page that is not
// mapped.
var ErrPageNotFound = errors.New("page does not exist")

// A Page is an entry in the page table, maintaining the information about how
// to translate a virtual address to a physical address.
type Page struct {
	PID      PID
	VAddr    uint64
	PAddr    uint64
	PageSize uint64
	Valid    bool
}

// A PageTable holds the pages of all the processes.
type PageTable interface {
	Insert(page Page)
	Remove(pid PID, vAddr uint64) error
	Find(pid PID, vAddr uint64) (Page, bool)
	Update(page Page) error

	// RemoveProcess drops every page of the process and returns them in
	// insertion order.
	RemoveProcess(pid PID) []Page
}

// NewPageTable creates a new PageTable.
func NewPageTable(log2PageSize uint64) PageTable {
	return &pageTableImpl{
		log2PageSize: log2PageSize,
		tables:       make(map[PID]*processTable),
	}
}

type pageTableImpl struct {
	sync.Mutex
	log2PageSize uint64
	tables       map[PID]*processTable
}

func (pt *pageTableImpl) getTable(pid PID) *processTable {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[pid]
	if !found {
		table = &processTable{
			entries:      list.New(),
			entriesTable: make(map[uint64]*list.Element),
		}
		pt.tables[pid] = table
	}

	return table
}

func (pt *pageTableImpl) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

// Insert puts a new page into the PageTable. Inserting a page that already
// exists replaces it.
func (pt *pageTableImpl) Insert(page Page) {
	page.VAddr = pt.alignToPage(page.VAddr)
	table := pt.getTable(page.PID)
	table.insert(page)
}

// Remove removes the entry in the page table that contains the target
// address.
func (pt *pageTableImpl) Remove(pid PID, vAddr uint64) error {
	table := pt.getTable(pid)
	return table.remove(pt.alignToPage(vAddr))
}

// Find returns the page that contains the given virtual address. The bool
// return value indicates if the page is found or not.
func (pt *pageTableImpl) Find(pid PID, vAddr uint64) (Page, bool) {
	table := pt.getTable(pid)
	return table.find(pt.alignToPage(vAddr))
}

// Update changes the field of an existing page. The PID and the VAddr field
// will be used to locate the page to update.
func (pt *pageTableImpl) Update(page Page) error {
	page.VAddr = pt.alignToPage(page.VAddr)
	table := pt.getTable(page.PID)

	return table.update(page)
}

func (pt *pageTableImpl) RemoveProcess(pid PID) []Page {
	pt.Lock()
	table, found := pt.tables[pid]
	delete(pt.tables, pid)
	pt.Unlock()

	if !found {
		return nil
	}

	return table.drain()
}

type processTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

func (t *processTable) insert(page Page) {
	t.Lock()
	defer t.Unlock()

	if elem, found := t.entriesTable[page.VAddr]; found {
		elem.Value = page
		return
	}

	elem := t.entries.PushBack(page)
	t.entriesTable[page.VAddr] = elem
}

func (t *processTable) remove(vAddr uint64) error {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return ErrPageNotFound
	}

	t.entries.Remove(elem)
	delete(t.entriesTable, vAddr)

	return nil
}

func (t *processTable) update(page Page) error {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[page.VAddr]
	if !found {
		return ErrPageNotFound
	}

	elem.Value = page

	return nil
}

func (t *processTable) find(vAddr uint64) (Page, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if found {
		return elem.Value.(Page), true
	}

	return Page{}, false
}

func (t *processTable) drain() []Page {
	t.Lock()
	defer t.Unlock()

	pages := make([]Page, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		pages = append(pages, e.Value.(Page))
	}

	t.entries.Init()
	t.entriesTable = make(map[uint64]*list.Element)

	return pages
}
