package tlb

import (
	"fmt"
	"strings"

	"github.com/sarchlab/kernelsim/mem/mem"
	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb/internal"
)

// EvictionPolicy decides what happens when an insert finds the cache full.
type EvictionPolicy int

const (
	// EvictClearAll drops every entry and then inserts the new one. Entries
	// are not deduplicated.
	EvictClearAll EvictionPolicy = iota

	// EvictFIFO drops the oldest entry.
	EvictFIFO

	// EvictLRU drops the least recently used entry.
	EvictLRU
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictClearAll:
		return "clear"
	case EvictFIFO:
		return "fifo"
	case EvictLRU:
		return "lru"
	default:
		return fmt.Sprintf("EvictionPolicy(%d)", int(p))
	}
}

// ParseEvictionPolicy converts "clear", "fifo", or "lru" into a policy.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clear", "clearall", "clear-all":
		return EvictClearAll, nil
	case "fifo":
		return EvictFIFO, nil
	case "lru":
		return EvictLRU, nil
	default:
		return 0, fmt.Errorf("unknown TLB eviction policy %q", s)
	}
}

// A Builder can build TLB caches.
type Builder struct {
	numEntries   int
	log2PageSize uint64
	mirrorSize   uint64
	policy       EvictionPolicy
}

// MakeBuilder returns a Builder with 32 entries, 256-byte pages, a 4 MiB
// mirror per process, and the clear-all policy.
func MakeBuilder() Builder {
	return Builder{
		numEntries:   32,
		log2PageSize: 8,
		mirrorSize:   1 << 22,
		policy:       EvictClearAll,
	}
}

// WithNumEntries sets the number of translations the cache can hold.
func (b Builder) WithNumEntries(n int) Builder {
	b.numEntries = n
	return b
}

// WithLog2PageSize sets the page size as a power of 2.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithPageSize sets the page size that the TLB works with. The size must be a
// power of 2.
func (b Builder) WithPageSize(n uint64) Builder {
	if n == 0 || (n&(n-1)) != 0 {
		panic("page size must be a power of 2")
	}

	log2 := uint64(0)
	for n > 1 {
		n >>= 1
		log2++
	}

	b.log2PageSize = log2

	return b
}

// WithMirrorSize sets the number of bytes of the mirror store of each
// process. It bounds the page numbers the cache accepts.
func (b Builder) WithMirrorSize(n uint64) Builder {
	b.mirrorSize = n
	return b
}

// WithEvictionPolicy sets what happens when the cache is full.
func (b Builder) WithEvictionPolicy(p EvictionPolicy) Builder {
	b.policy = p
	return b
}

// Build creates a new TLB cache.
func (b Builder) Build(name string) *Cache {
	if b.numEntries <= 0 {
		panic("number of TLB entries must be positive")
	}

	c := &Cache{
		name:         name,
		log2PageSize: b.log2PageSize,
		mirrorSize:   b.mirrorSize,
		policy:       b.policy,
		mirrors:      make(map[vm.PID]*mem.Storage),
	}

	switch b.policy {
	case EvictClearAll:
		c.entries = internal.NewClearAllList(b.numEntries)
	case EvictFIFO:
		c.entries = internal.NewFIFOList(b.numEntries)
	case EvictLRU:
		c.entries = internal.NewLRUList(b.numEntries)
	default:
		panic("unknown eviction policy " + b.policy.String())
	}

	return c
}
