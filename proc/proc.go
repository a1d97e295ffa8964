// Package proc defines the process handle that the scheduler, the MMU, and
// the simulated CPUs pass around.
package proc

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/kernelsim/mem/vm"
)

// NumRegs is the number of general purpose registers of a process.
const NumRegs = 10

// Opcode identifies an instruction of the simulated CPU.
type Opcode int

// The instructions a simulated process can execute.
const (
	OpCalc Opcode = iota
	OpAlloc
	OpFree
	OpRead
	OpWrite
)

var opcodeNames = [...]string{"CALC", "ALLOC", "FREE", "READ", "WRITE"}

func (o Opcode) String() string {
	if o < 0 || int(o) >= len(opcodeNames) {
		return fmt.Sprintf("Opcode(%d)", int(o))
	}

	return opcodeNames[o]
}

// An Instruction is one step of a process program. The meaning of the
// arguments depends on the opcode:
//
//	ALLOC size region       reserve size bytes as region
//	FREE  region            release region
//	READ  src offset dst    regs[dst] = mem[regs[src]+offset]
//	WRITE data dst offset   mem[regs[dst]+offset] = data
type Instruction struct {
	Op   Opcode
	Args [3]uint32
}

func (i Instruction) String() string {
	switch i.Op {
	case OpCalc:
		return "CALC"
	case OpFree:
		return fmt.Sprintf("FREE %d", i.Args[0])
	case OpAlloc:
		return fmt.Sprintf("ALLOC %d %d", i.Args[0], i.Args[1])
	default:
		return fmt.Sprintf("%s %d %d %d", i.Op, i.Args[0], i.Args[1], i.Args[2])
	}
}

// A Proc is the process control block of a simulated process. It is owned by
// the kernel; the scheduler and the TLB only keep references.
//
// A Proc is executed by at most one CPU at a time, so Regs and PC need no
// locking. The counters are atomics because monitors read them concurrently.
type Proc struct {
	PID vm.PID

	// Prio is the MLQ level, 0 being the most urgent.
	Prio int

	// Priority is the scalar priority of the single-level policy. Larger
	// values are served first.
	Priority uint32

	Regs [NumRegs]uint32

	Code []Instruction
	PC   int

	executed atomic.Uint64
	faults   atomic.Uint64
}

// New creates a process running the given program.
func New(pid vm.PID, prio int, priority uint32, code []Instruction) *Proc {
	return &Proc{
		PID:      pid,
		Prio:     prio,
		Priority: priority,
		Code:     code,
	}
}

// Done tells if the process has executed its whole program.
func (p *Proc) Done() bool {
	return p.PC >= len(p.Code)
}

// Next returns the instruction at PC and advances PC. The bool is false when
// the program is over.
func (p *Proc) Next() (Instruction, bool) {
	if p.Done() {
		return Instruction{}, false
	}

	inst := p.Code[p.PC]
	p.PC++
	p.executed.Add(1)

	return inst, true
}

// RecordFault counts an instruction that failed.
func (p *Proc) RecordFault() {
	p.faults.Add(1)
}

// Executed returns the number of instructions fetched so far.
func (p *Proc) Executed() uint64 {
	return p.executed.Load()
}

// Faults returns the number of failed instructions.
func (p *Proc) Faults() uint64 {
	return p.faults.Load()
}

func (p *Proc) String() string {
	return fmt.Sprintf("pid=%d prio=%d priority=%d", p.PID, p.Prio, p.Priority)
}
