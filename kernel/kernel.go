// Package kernel assembles the scheduler, the memory system, and the CPUs of
// the simulated kernel, and runs workloads on them.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/kernelsim/config"
	"github.com/sarchlab/kernelsim/cpu"
	"github.com/sarchlab/kernelsim/mem/vm/mmu"
	"github.com/sarchlab/kernelsim/mem/vm/paging"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/monitoring"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched"
	"github.com/sarchlab/kernelsim/sim/hooking"
	"github.com/sarchlab/kernelsim/sim/id"
)

// A RunReport summarizes a run.
type RunReport struct {
	Admitted     int
	Rejected     int
	Finished     int
	Dropped      int
	Instructions uint64
	Faults       uint64
	Dispatches   uint64
	TLBHits      uint64
	TLBMisses    uint64
	FreeFrames   int
	NumFrames    uint64
	Duration     time.Duration
}

// Print writes the report in a human readable form.
func (r RunReport) Print(w io.Writer) {
	fmt.Fprintf(w, "processes: %d admitted, %d rejected, %d finished, %d dropped\n",
		r.Admitted, r.Rejected, r.Finished, r.Dropped)
	fmt.Fprintf(w, "instructions: %d executed, %d faulted\n",
		r.Instructions, r.Faults)
	fmt.Fprintf(w, "dispatches: %d\n", r.Dispatches)
	fmt.Fprintf(w, "tlb: %d hits, %d misses\n", r.TLBHits, r.TLBMisses)
	fmt.Fprintf(w, "frames: %d of %d free\n", r.FreeFrames, r.NumFrames)
	fmt.Fprintf(w, "duration: %s\n", r.Duration)
}

// Kernel is an assembled simulated kernel.
type Kernel struct {
	name      string
	scheduler sched.Scheduler
	cache     *tlb.Cache
	mmu       *mmu.MMU
	paging    *paging.System
	cores     []*cpu.Core
	logger    *log.Logger
	monitor   *monitoring.Monitor

	procs     []*proc.Proc
	remaining atomic.Int64
	finished  atomic.Int64
	dropped   atomic.Int64
	done      chan struct{}
	doneOnce  sync.Once
	ran       atomic.Bool
	bar       *monitoring.ProgressBar
}

// Scheduler returns the scheduler of the kernel.
func (k *Kernel) Scheduler() sched.Scheduler {
	return k.scheduler
}

// TLB returns the TLB of the kernel.
func (k *Kernel) TLB() *tlb.Cache {
	return k.cache
}

// MMU returns the MMU of the kernel.
func (k *Kernel) MMU() *mmu.MMU {
	return k.mmu
}

// Paging returns the paging system of the kernel.
func (k *Kernel) Paging() *paging.System {
	return k.paging
}

// Cores returns the CPUs of the kernel.
func (k *Kernel) Cores() []*cpu.Core {
	return k.cores
}

// Hookables returns every component that accepts hooks.
func (k *Kernel) Hookables() []hooking.Hookable {
	h := []hooking.Hookable{k.scheduler, k.cache, k.mmu}
	for _, c := range k.cores {
		h = append(h, c)
	}

	return h
}

// Admit queues processes into the scheduler. Processes the scheduler cannot
// hold are rejected and returned.
func (k *Kernel) Admit(procs ...*proc.Proc) (rejected []*proc.Proc) {
	for _, p := range procs {
		err := k.scheduler.AddProc(p)
		if err != nil {
			k.logf("rejecting %s: %s", p, err)
			rejected = append(rejected, p)

			continue
		}

		k.procs = append(k.procs, p)
		k.remaining.Add(1)
	}

	return rejected
}

func (k *Kernel) onExit(p *proc.Proc, err error) {
	if err != nil {
		k.logf("dropping %s: %s", p, err)
		k.dropped.Add(1)
	} else {
		k.finished.Add(1)
	}

	if k.bar != nil {
		k.bar.MoveInProgressToFinished(1)
	}

	if k.remaining.Add(-1) == 0 {
		k.doneOnce.Do(func() { close(k.done) })
	}
}

// Run runs the admitted processes until all of them exit or the context is
// done. It can only be called once.
func (k *Kernel) Run(ctx context.Context) (RunReport, error) {
	if !k.ran.CompareAndSwap(false, true) {
		return RunReport{}, errors.New("kernel already ran")
	}

	start := time.Now()

	if k.monitor != nil {
		k.bar = k.monitor.CreateProgressBar(k.name, uint64(len(k.procs)))
		defer k.monitor.CompleteProgressBar(k.bar)
	}

	if k.remaining.Load() == 0 {
		return k.report(start), nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	for _, c := range k.cores {
		wg.Add(1)

		go func(c *cpu.Core) {
			defer wg.Done()
			_ = c.Run(runCtx)
		}(c)
	}

	var err error

	select {
	case <-k.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	cancel()
	wg.Wait()

	return k.report(start), err
}

func (k *Kernel) report(start time.Time) RunReport {
	r := RunReport{
		Admitted:   len(k.procs),
		Finished:   int(k.finished.Load()),
		Dropped:    int(k.dropped.Load()),
		Dispatches: k.scheduler.Snapshot().Dispatches,
		FreeFrames: k.paging.NumFreeFrames(),
		NumFrames:  k.paging.NumFrames(),
		Duration:   time.Since(start),
	}

	for _, p := range k.procs {
		r.Instructions += p.Executed()
		r.Faults += p.Faults()
	}

	r.TLBHits, r.TLBMisses = k.cache.Stats()

	return r
}

// RunWorkload generates the configured workload, admits it, and runs it.
func (k *Kernel) RunWorkload(
	ctx context.Context,
	g *WorkloadGenerator,
	n int,
) (RunReport, error) {
	rejected := k.Admit(g.Generate(n)...)

	report, err := k.Run(ctx)
	report.Rejected = len(rejected)

	return report, err
}

func (k *Kernel) logf(format string, args ...interface{}) {
	if k.logger != nil {
		k.logger.Printf(format, args...)
	}
}

// NewWorkloadGeneratorFromConfig creates the workload generator the
// configuration describes.
func NewWorkloadGeneratorFromConfig(
	cfg config.Config,
	pids id.PIDGenerator,
) *WorkloadGenerator {
	maxPrio := cfg.MaxPrio
	if cfg.Policy != sched.PolicyMLQ {
		maxPrio = 1
	}

	return NewWorkloadGenerator(
		cfg.Seed, pids, maxPrio, cfg.ProgramLength, cfg.NumRegions)
}
