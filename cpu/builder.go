package cpu

import (
	"time"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched"
)

// A Builder can build cores.
type Builder struct {
	scheduler   sched.Scheduler
	memory      Memory
	releaser    Releaser
	timeSlice   int
	idleBackoff time.Duration
	onExit      func(p *proc.Proc, err error)
}

// MakeBuilder returns a Builder of cores running 2 instructions per slice
// and polling an idle scheduler every millisecond.
func MakeBuilder() Builder {
	return Builder{
		timeSlice:   2,
		idleBackoff: time.Millisecond,
	}
}

// WithScheduler sets the scheduler the core takes processes from.
func (b Builder) WithScheduler(s sched.Scheduler) Builder {
	b.scheduler = s
	return b
}

// WithMemory sets the unit that executes the memory instructions.
func (b Builder) WithMemory(m Memory) Builder {
	b.memory = m
	return b
}

// WithReleaser sets who reclaims the memory of exited processes.
func (b Builder) WithReleaser(r Releaser) Builder {
	b.releaser = r
	return b
}

// WithTimeSlice sets the number of instructions a process runs before it is
// put back into the scheduler.
func (b Builder) WithTimeSlice(n int) Builder {
	b.timeSlice = n
	return b
}

// WithIdleBackoff sets how long the core waits when no process is ready.
func (b Builder) WithIdleBackoff(d time.Duration) Builder {
	b.idleBackoff = d
	return b
}

// WithExitCallback sets a function called once for every process that
// leaves the core for good. The error is nil if the process finished its
// program.
func (b Builder) WithExitCallback(f func(p *proc.Proc, err error)) Builder {
	b.onExit = f
	return b
}

// Build creates a new core.
func (b Builder) Build(name string) *Core {
	if b.scheduler == nil {
		panic("core requires a scheduler")
	}

	if b.memory == nil {
		panic("core requires a memory unit")
	}

	if b.timeSlice <= 0 {
		panic("time slice must be positive")
	}

	c := &Core{
		name:        name,
		scheduler:   b.scheduler,
		memory:      b.memory,
		releaser:    b.releaser,
		timeSlice:   b.timeSlice,
		idleBackoff: b.idleBackoff,
		onExit:      b.onExit,
	}

	if c.releaser == nil {
		c.releaser = noRelease{}
	}

	return c
}

type noRelease struct{}

func (noRelease) Release(vm.PID) {}
