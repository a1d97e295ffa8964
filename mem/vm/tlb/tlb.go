// Package tlb provides the translation-lookaside cache of the simulated CPU.
//
// The cache is a bounded list of (PID, page) translations backed by a
// byte-addressable mirror store. An entry only records that a translation is
// cached; the value handed out on a hit is always re-read from the mirror,
// which is written through on every cache write.
package tlb

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sarchlab/kernelsim/mem/mem"
	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb/internal"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// ErrNilCache is returned by every operation invoked on a nil cache.
var ErrNilCache = errors.New("tlb cache is nil")

// An Entry records that the translation of (PID, Page) is cached.
type Entry = internal.Entry

// Hook positions of the cache. The Item of the hook context is the Entry
// involved; for HookPosClear the Detail is the number of dropped entries and
// for HookPosFlush the number of removed entries.
var (
	HookPosHit    = &hooking.HookPos{Name: "TLB Hit"}
	HookPosMiss   = &hooking.HookPos{Name: "TLB Miss"}
	HookPosInsert = &hooking.HookPos{Name: "TLB Insert"}
	HookPosClear  = &hooking.HookPos{Name: "TLB Clear"}
	HookPosFlush  = &hooking.HookPos{Name: "TLB Flush"}
)

// Cache is a TLB that maintains (PID, page) translations. It is safe for
// concurrent use. Hooks run while the cache is locked and must not call back
// into the cache.
type Cache struct {
	hooking.HookableBase
	sync.Mutex

	name         string
	log2PageSize uint64
	mirrorSize   uint64
	policy       EvictionPolicy

	entries internal.EntryList
	mirrors map[vm.PID]*mem.Storage

	hits   uint64
	misses uint64
}

// Name returns the name of the cache.
func (c *Cache) Name() string {
	return c.name
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.entries.Capacity()
}

// Log2PageSize returns the page size the cache works with, as a power of 2.
func (c *Cache) Log2PageSize() uint64 {
	return c.log2PageSize
}

// Policy returns the eviction policy of the cache.
func (c *Cache) Policy() EvictionPolicy {
	return c.policy
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.Lock()
	defer c.Unlock()

	return c.entries.Len()
}

// Entries returns a copy of the live entries, oldest first.
func (c *Cache) Entries() []Entry {
	c.Lock()
	defer c.Unlock()

	return c.entries.Entries()
}

// Stats returns the number of hits and misses served so far.
func (c *Cache) Stats() (hits, misses uint64) {
	c.Lock()
	defer c.Unlock()

	return c.hits, c.misses
}

func (c *Cache) address(page uint64) uint64 {
	return vm.PageBase(page, c.log2PageSize)
}

func (c *Cache) mirror(pid vm.PID) *mem.Storage {
	m, ok := c.mirrors[pid]
	if !ok {
		m = mem.NewStorage(c.mirrorSize)
		c.mirrors[pid] = m
	}

	return m
}

// Read looks up the translation of (pid, page). On a hit, it returns the
// cached byte from the mirror store.
func (c *Cache) Read(pid vm.PID, page uint64) (value byte, hit bool, err error) {
	if c == nil {
		return 0, false, ErrNilCache
	}

	c.Lock()
	defer c.Unlock()

	e := Entry{PID: pid, Page: page, Address: c.address(page)}

	index, found := c.entries.Lookup(e.PID, e.Page, e.Address)
	if !found {
		c.misses++
		c.invoke(HookPosMiss, e, nil)

		return 0, false, nil
	}

	value, err = c.mirror(pid).LoadByte(e.Address)
	if err != nil {
		return 0, false, err
	}

	c.entries.Visit(index)
	c.hits++
	c.invoke(HookPosHit, e, value)

	return value, true, nil
}

// Write stores value into the mirror store and caches the translation of
// (pid, page). The mirror is updated even if the translation was not cached
// before.
func (c *Cache) Write(pid vm.PID, page uint64, value byte) error {
	if c == nil {
		return ErrNilCache
	}

	c.Lock()
	defer c.Unlock()

	e := Entry{PID: pid, Page: page, Address: c.address(page)}

	err := c.mirror(pid).StoreByte(e.Address, value)
	if err != nil {
		return err
	}

	evicted := c.entries.Insert(e)
	if len(evicted) > 0 {
		c.invoke(HookPosClear, e, len(evicted))
	}

	c.invoke(HookPosInsert, e, value)

	return nil
}

// Flush removes all the entries of a process and drops its mirror store. The
// order of the remaining entries is preserved.
func (c *Cache) Flush(pid vm.PID) error {
	if c == nil {
		return ErrNilCache
	}

	c.Lock()
	defer c.Unlock()

	removed := c.entries.RemoveIf(func(e Entry) bool {
		return e.PID == pid
	})
	delete(c.mirrors, pid)

	c.invoke(HookPosFlush, Entry{PID: pid}, removed)

	return nil
}

// Invalidate removes the entries of a single (pid, page) translation. The
// mirror store is left untouched.
func (c *Cache) Invalidate(pid vm.PID, page uint64) error {
	if c == nil {
		return ErrNilCache
	}

	c.Lock()
	defer c.Unlock()

	removed := c.entries.RemoveIf(func(e Entry) bool {
		return e.PID == pid && e.Page == page
	})

	c.invoke(HookPosFlush, Entry{PID: pid, Page: page}, removed)

	return nil
}

// Dump prints the touched bytes of the mirror store of every process, one
// "\taddress: HH" line per byte. It is meant for debugging only.
func (c *Cache) Dump(w io.Writer) error {
	if c == nil {
		return ErrNilCache
	}

	c.Lock()
	defer c.Unlock()

	pids := make([]vm.PID, 0, len(c.mirrors))
	for pid := range c.mirrors {
		pids = append(pids, pid)
	}

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	fmt.Fprintf(w, "==== %s mirror dump ====\n", c.name)

	for _, pid := range pids {
		fmt.Fprintf(w, "pid %d:\n", pid)

		err := c.mirrors[pid].Dump(w)
		if err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "==== End of %s mirror dump ====\n", c.name)

	return err
}

func (c *Cache) invoke(pos *hooking.HookPos, e Entry, detail interface{}) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   e,
		Detail: detail,
	})
}
