package kernel

import (
	"fmt"
	"log"

	"github.com/sarchlab/kernelsim/config"
	"github.com/sarchlab/kernelsim/cpu"
	"github.com/sarchlab/kernelsim/mem/vm/mmu"
	"github.com/sarchlab/kernelsim/mem/vm/paging"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/monitoring"
	"github.com/sarchlab/kernelsim/sched"
	"github.com/sarchlab/kernelsim/sim/hooking"
	"github.com/sarchlab/kernelsim/tracing"
)

// A Builder can build kernels.
type Builder struct {
	cfg      config.Config
	logger   *log.Logger
	recorder tracing.Recorder
	monitor  *monitoring.Monitor
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg: config.Default(),
	}
}

// WithConfig sets the configuration of the kernel.
func (b Builder) WithConfig(cfg config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithLogger sets the logger of admission and exit problems. If the
// configuration is verbose, every component event is logged as well.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// WithRecorder makes every component send its events to the recorder.
func (b Builder) WithRecorder(r tracing.Recorder) Builder {
	b.recorder = r
	return b
}

// WithMonitor registers the components to a monitor.
func (b Builder) WithMonitor(m *monitoring.Monitor) Builder {
	b.monitor = m
	return b
}

// Build creates a new kernel. It panics if the configuration is invalid.
func (b Builder) Build(name string) *Kernel {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	hooks := b.hooks()

	k := &Kernel{
		name:    name,
		logger:  b.logger,
		monitor: b.monitor,
		done:    make(chan struct{}),
	}

	schedBuilder := sched.MakeBuilder().
		WithPolicy(cfg.Policy).
		WithMaxPrio(cfg.MaxPrio).
		WithQueueCapacity(cfg.QueueCapacity).
		WithStableOrder(cfg.StableOrder)

	for _, h := range hooks {
		schedBuilder = schedBuilder.WithQueueHook(h)
	}

	k.scheduler = schedBuilder.Build(name + ".Sched")

	k.cache = tlb.MakeBuilder().
		WithNumEntries(cfg.TLBEntries).
		WithLog2PageSize(cfg.Log2PageSize).
		WithMirrorSize(cfg.TLBMirrorSize).
		WithEvictionPolicy(cfg.TLBEviction).
		Build(name + ".TLB")

	k.paging = paging.MakeBuilder().
		WithLog2PageSize(cfg.Log2PageSize).
		WithRAMSize(cfg.RAMSize).
		WithAddressSpaceSize(cfg.AddressSpaceSize).
		WithNumRegions(cfg.NumRegions).
		Build(name + ".Paging")

	k.mmu = mmu.MakeBuilder().
		WithTLB(k.cache).
		WithPagingSystem(k.paging).
		WithFreePolicy(cfg.FreePolicy).
		Build(name + ".MMU")

	for i := 0; i < cfg.NumCPUs; i++ {
		k.cores = append(k.cores, cpu.MakeBuilder().
			WithScheduler(k.scheduler).
			WithMemory(k.mmu).
			WithReleaser(k.paging).
			WithTimeSlice(cfg.TimeSlice).
			WithIdleBackoff(cfg.IdleBackoff).
			WithExitCallback(k.onExit).
			Build(fmt.Sprintf("%s.CPU[%d]", name, i)))
	}

	for _, c := range k.Hookables() {
		for _, h := range hooks {
			c.AcceptHook(h)
		}
	}

	if b.monitor != nil {
		k.scheduler.AcceptHook(newProgressHook(k))
		b.monitor.RegisterScheduler(k.scheduler)
		b.monitor.RegisterCache(k.cache)
		b.monitor.RegisterComponent(k.mmu)

		for _, c := range k.cores {
			b.monitor.RegisterComponent(c)
		}
	}

	return k
}

func (b Builder) hooks() []hooking.Hook {
	var hooks []hooking.Hook

	if b.cfg.Verbose && b.logger != nil {
		hooks = append(hooks, hooking.NewLogHook(b.logger))
	}

	if b.recorder != nil {
		hooks = append(hooks, tracing.NewHook(b.recorder))
	}

	return hooks
}
