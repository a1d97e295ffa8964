// Package cpu runs the programs of simulated processes.
package cpu

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// Memory executes the memory instructions of processes.
type Memory interface {
	Read(p *proc.Proc, srcReg int, offset uint32, dstReg int) error
	Write(p *proc.Proc, data byte, dstReg int, offset uint32) error
	Alloc(p *proc.Proc, size uint32, regionID int) error
	Free(p *proc.Proc, regionID int) error
	FlushOf(p *proc.Proc) error
}

// A Releaser reclaims the memory of an exited process.
type Releaser interface {
	Release(pid vm.PID)
}

// Hook positions of a core. The Item is the process.
var (
	// HookPosExec marks an executed instruction. The Detail is the
	// instruction.
	HookPosExec = &hooking.HookPos{Name: "CPU Exec"}

	// HookPosFault marks a failed instruction. The Detail is the error.
	HookPosFault = &hooking.HookPos{Name: "CPU Fault"}

	// HookPosExit marks a process leaving the core for good. The Detail is
	// the reason, if any.
	HookPosExit = &hooking.HookPos{Name: "CPU Exit"}
)

// Core is a simulated CPU. It repeatedly takes a process from the scheduler,
// runs it for a time slice, and hands it back.
type Core struct {
	hooking.HookableBase

	name        string
	scheduler   sched.Scheduler
	memory      Memory
	releaser    Releaser
	timeSlice   int
	idleBackoff time.Duration
	onExit      func(p *proc.Proc, err error)

	slices atomic.Uint64
}

// Name returns the name of the core.
func (c *Core) Name() string {
	return c.name
}

// Slices returns the number of time slices run so far.
func (c *Core) Slices() uint64 {
	return c.slices.Load()
}

// Run executes processes until the context is done. It returns the error of
// the context.
func (c *Core) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := c.scheduler.GetProc()
		if p == nil {
			if err := c.idle(ctx); err != nil {
				return err
			}

			continue
		}

		c.RunSlice(p)
	}
}

func (c *Core) idle(ctx context.Context) error {
	timer := time.NewTimer(c.idleBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunSlice runs up to one time slice of a process and then either puts it
// back into the scheduler or retires it.
func (c *Core) RunSlice(p *proc.Proc) {
	c.slices.Add(1)

	for i := 0; i < c.timeSlice; i++ {
		inst, ok := p.Next()
		if !ok {
			break
		}

		c.invoke(HookPosExec, p, inst)

		if err := c.Execute(p, inst); err != nil {
			p.RecordFault()
			c.invoke(HookPosFault, p, err)
		}
	}

	if p.Done() {
		c.exit(p, nil)
		return
	}

	if err := c.scheduler.PutProc(p); err != nil {
		c.exit(p, err)
	}
}

// Execute runs a single instruction.
func (c *Core) Execute(p *proc.Proc, inst proc.Instruction) error {
	a := inst.Args

	switch inst.Op {
	case proc.OpCalc:
		return nil
	case proc.OpAlloc:
		return c.memory.Alloc(p, a[0], int(a[1]))
	case proc.OpFree:
		return c.memory.Free(p, int(a[0]))
	case proc.OpRead:
		return c.memory.Read(p, int(a[0]), a[1], int(a[2]))
	case proc.OpWrite:
		return c.memory.Write(p, byte(a[0]), int(a[1]), a[2])
	default:
		return fmt.Errorf("unknown instruction %s", inst)
	}
}

func (c *Core) exit(p *proc.Proc, reason error) {
	if err := c.memory.FlushOf(p); err != nil && reason == nil {
		reason = err
	}

	c.releaser.Release(p.PID)
	c.invoke(HookPosExit, p, reason)

	if c.onExit != nil {
		c.onExit(p, reason)
	}
}

func (c *Core) invoke(pos *hooking.HookPos, p *proc.Proc, detail interface{}) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   p,
		Detail: detail,
	})
}
