package mmu

import (
	"fmt"
	"strings"

	"github.com/sarchlab/kernelsim/mem/vm/tlb"
)

// FreePolicy decides how Free retires the cached translations of a region.
type FreePolicy int

const (
	// FreeZeroStamp overwrites every page of the region with 0 in the cache.
	FreeZeroStamp FreePolicy = iota

	// FreeInvalidate removes the translations of the region from the cache.
	FreeInvalidate
)

func (p FreePolicy) String() string {
	switch p {
	case FreeZeroStamp:
		return "zero"
	case FreeInvalidate:
		return "invalidate"
	default:
		return fmt.Sprintf("FreePolicy(%d)", int(p))
	}
}

// ParseFreePolicy converts "zero" or "invalidate" into a policy.
func ParseFreePolicy(s string) (FreePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zero", "zero-stamp":
		return FreeZeroStamp, nil
	case "invalidate":
		return FreeInvalidate, nil
	default:
		return 0, fmt.Errorf("unknown free policy %q", s)
	}
}

// A Builder can build MMUs.
type Builder struct {
	cache      *tlb.Cache
	paging     PagingSystem
	freePolicy FreePolicy
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		freePolicy: FreeZeroStamp,
	}
}

// WithTLB sets the cache that the MMU consults first.
func (b Builder) WithTLB(cache *tlb.Cache) Builder {
	b.cache = cache
	return b
}

// WithPagingSystem sets the paging system that backs the cache.
func (b Builder) WithPagingSystem(paging PagingSystem) Builder {
	b.paging = paging
	return b
}

// WithFreePolicy sets how Free retires cached translations.
func (b Builder) WithFreePolicy(p FreePolicy) Builder {
	b.freePolicy = p
	return b
}

// Build creates a new MMU.
func (b Builder) Build(name string) *MMU {
	if b.cache == nil {
		panic("MMU requires a TLB")
	}

	if b.paging == nil {
		panic("MMU requires a paging system")
	}

	return &MMU{
		name:       name,
		cache:      b.cache,
		paging:     b.paging,
		freePolicy: b.freePolicy,
	}
}
