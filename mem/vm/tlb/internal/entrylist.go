// Package internal provides the entry lists that back the TLB cache, one per
// eviction policy.
package internal

import (
	"fmt"

	"github.com/sarchlab/kernelsim/mem/vm"
)

// An Entry records that the translation of (PID, Page) is cached. Address is
// the location of the cached byte in the mirror store.
type Entry struct {
	PID     vm.PID `json:"pid"`
	Page    uint64 `json:"page"`
	Address uint64 `json:"address"`
}

func (e Entry) String() string {
	return fmt.Sprintf("pid=%d page=%d addr=0x%x", e.PID, e.Page, e.Address)
}

// An EntryList holds at most Capacity entries. Lookup scans from the oldest
// entry, Insert makes room according to the policy of the list, and Visit
// tells the list that an entry has been used.
type EntryList interface {
	Lookup(pid vm.PID, page, address uint64) (index int, found bool)
	Insert(e Entry) (evicted []Entry)
	Visit(index int)
	RemoveIf(match func(Entry) bool) (removed int)
	Entries() []Entry
	Len() int
	Capacity() int
}

type baseList struct {
	entries  []Entry
	capacity int
}

func (l *baseList) Lookup(pid vm.PID, page, address uint64) (int, bool) {
	for i, e := range l.entries {
		if e.Page == page && e.PID == pid && e.Address == address {
			return i, true
		}
	}

	return 0, false
}

func (l *baseList) Entries() []Entry {
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)

	return entries
}

func (l *baseList) Len() int {
	return len(l.entries)
}

func (l *baseList) Capacity() int {
	return l.capacity
}

func (l *baseList) isFull() bool {
	return len(l.entries) >= l.capacity
}

// compact keeps the entries that do not match, preserving their relative
// order, and reports the kept mask through keep.
func (l *baseList) compact(match func(Entry) bool, keep func(from, to int)) int {
	m := 0
	for n, e := range l.entries {
		if match(e) {
			continue
		}

		l.entries[m] = e
		if keep != nil {
			keep(n, m)
		}
		m++
	}

	removed := len(l.entries) - m
	l.entries = l.entries[:m]

	return removed
}

// NewClearAllList creates a list that drops every entry when an insert would
// exceed the capacity. Entries are never deduplicated.
func NewClearAllList(capacity int) EntryList {
	return &clearAllList{baseList{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}}
}

type clearAllList struct {
	baseList
}

func (l *clearAllList) Insert(e Entry) []Entry {
	var evicted []Entry

	if l.isFull() {
		evicted = l.entries
		l.entries = make([]Entry, 0, l.capacity)
	}

	l.entries = append(l.entries, e)

	return evicted
}

func (l *clearAllList) Visit(int) {}

func (l *clearAllList) RemoveIf(match func(Entry) bool) int {
	return l.compact(match, nil)
}

// NewFIFOList creates a list that evicts the oldest entry when full. An entry
// that is already present is not inserted again.
func NewFIFOList(capacity int) EntryList {
	return &fifoList{baseList{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}}
}

type fifoList struct {
	baseList
}

func (l *fifoList) Insert(e Entry) []Entry {
	if _, found := l.Lookup(e.PID, e.Page, e.Address); found {
		return nil
	}

	var evicted []Entry

	if l.isFull() {
		evicted = []Entry{l.entries[0]}
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}

	l.entries = append(l.entries, e)

	return evicted
}

func (l *fifoList) Visit(int) {}

func (l *fifoList) RemoveIf(match func(Entry) bool) int {
	return l.compact(match, nil)
}

// NewLRUList creates a list that evicts the least recently visited entry when
// full. Inserting an entry that is already present counts as a visit.
func NewLRUList(capacity int) EntryList {
	return &lruList{
		baseList: baseList{
			entries:  make([]Entry, 0, capacity),
			capacity: capacity,
		},
		lastVisit: make([]uint64, 0, capacity),
	}
}

type lruList struct {
	baseList

	lastVisit  []uint64
	visitCount uint64
}

func (l *lruList) Insert(e Entry) []Entry {
	if i, found := l.Lookup(e.PID, e.Page, e.Address); found {
		l.Visit(i)
		return nil
	}

	var evicted []Entry

	if l.isFull() {
		victim := l.leastRecentlyVisited()
		evicted = []Entry{l.entries[victim]}
		l.removeAt(victim)
	}

	l.entries = append(l.entries, e)
	l.lastVisit = append(l.lastVisit, 0)
	l.Visit(len(l.entries) - 1)

	return evicted
}

func (l *lruList) Visit(index int) {
	l.visitCount++
	l.lastVisit[index] = l.visitCount
}

func (l *lruList) RemoveIf(match func(Entry) bool) int {
	visits := l.lastVisit

	removed := l.compact(match, func(from, to int) {
		visits[to] = visits[from]
	})
	l.lastVisit = visits[:len(l.entries)]

	return removed
}

func (l *lruList) leastRecentlyVisited() int {
	victim := 0
	for i, v := range l.lastVisit {
		if v < l.lastVisit[victim] {
			victim = i
		}
	}

	return victim
}

func (l *lruList) removeAt(i int) {
	copy(l.entries[i:], l.entries[i+1:])
	l.entries = l.entries[:len(l.entries)-1]

	copy(l.lastVisit[i:], l.lastVisit[i+1:])
	l.lastVisit = l.lastVisit[:len(l.lastVisit)-1]
}
