// Package sched decides which simulated process runs next.
//
// Two policies are provided. The single-level policy rotates processes
// between a ready and a run queue in generations. The multi-level policy
// (MLQ) keeps one queue per priority level and lets level i serve at most
// MaxPrio - i processes per round.
package sched

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// ErrInvalidPriority is returned when a process names an MLQ level that does
// not exist.
var ErrInvalidPriority = errors.New("priority out of range")

// HookPosDispatch marks when a process is handed to a CPU.
var HookPosDispatch = &hooking.HookPos{Name: "Sched Dispatch"}

// HookPosRoundReset marks when the MLQ scheduler refills the slot budgets.
var HookPosRoundReset = &hooking.HookPos{Name: "Sched Round Reset"}

// HookPosGeneration marks when the single-level scheduler moves the run
// queue back into the ready queue. The Detail is the number of processes
// moved.
var HookPosGeneration = &hooking.HookPos{Name: "Sched Generation"}

// Policy selects the scheduling algorithm.
type Policy int

const (
	// PolicyMLQ is the multi-level, priority-weighted round robin.
	PolicyMLQ Policy = iota

	// PolicySingleLevel is the two-generation round robin.
	PolicySingleLevel
)

func (p Policy) String() string {
	switch p {
	case PolicyMLQ:
		return "mlq"
	case PolicySingleLevel:
		return "single"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts "mlq" or "single" into a policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mlq":
		return PolicyMLQ, nil
	case "single", "single-level":
		return PolicySingleLevel, nil
	default:
		return 0, fmt.Errorf("unknown scheduling policy %q", s)
	}
}

// A Scheduler hands out processes to CPUs. All the methods are safe for
// concurrent use and none of them blocks.
type Scheduler interface {
	hooking.Hookable

	// GetProc returns the next process to run, or nil if there is none.
	GetProc() *proc.Proc

	// PutProc returns a process whose time slice is over.
	PutProc(p *proc.Proc) error

	// AddProc admits a new process.
	AddProc(p *proc.Proc) error

	// Empty tells if no process is waiting.
	Empty() bool

	// Snapshot describes the queues at the moment of the call.
	Snapshot() Snapshot

	// Policy returns the algorithm the scheduler runs.
	Policy() Policy
}

// QueueSnapshot describes one queue of a scheduler.
type QueueSnapshot struct {
	Name     string   `json:"name"`
	Level    int      `json:"level"`
	Budget   int      `json:"budget"`
	Capacity int      `json:"capacity"`
	PIDs     []vm.PID `json:"pids"`
}

// Snapshot describes the state of a scheduler. Empty MLQ levels are left out.
type Snapshot struct {
	Name       string          `json:"name"`
	Policy     string          `json:"policy"`
	Dispatches uint64          `json:"dispatches"`
	Queues     []QueueSnapshot `json:"queues"`
}
