// Package id hands out identifiers for simulated processes and trace records.
package id

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// PIDGenerator produces process IDs. The first generated PID is 1 so that 0
// can mean "no process".
type PIDGenerator interface {
	Generate() uint32
}

// NewPIDGenerator returns a sequential PID generator that is safe for
// concurrent use.
func NewPIDGenerator() PIDGenerator {
	return &sequentialPIDGenerator{}
}

type sequentialPIDGenerator struct {
	next uint32
}

func (g *sequentialPIDGenerator) Generate() uint32 {
	return atomic.AddUint32(&g.next, 1)
}

// Unique returns a globally unique, sortable string ID. It is used for trace
// records and output file names, which must not collide across runs.
func Unique() string {
	return xid.New().String()
}
