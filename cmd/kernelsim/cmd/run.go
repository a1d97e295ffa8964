package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/kernelsim/config"
	"github.com/sarchlab/kernelsim/kernel"
	"github.com/sarchlab/kernelsim/monitoring"
	"github.com/sarchlab/kernelsim/sim/id"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a generated workload on the simulated kernel.",
	Long: `run generates a set of processes, admits them to the scheduler, and
runs them to completion on the simulated CPUs. Settings are read from the
--env files and KERNELSIM_* environment variables; flags override both.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// flagKeys lists the flags that map onto configuration keys. The key is the
// flag name in upper case with dashes replaced by underscores.
var flagKeys = []string{
	"policy", "max-prio", "queue-capacity", "stable-order",
	"log2-page-size", "tlb-entries", "tlb-eviction", "free-policy",
	"tlb-mirror-size", "ram-size", "address-space-size", "num-regions",
	"num-cpus", "time-slice", "idle-backoff",
	"num-procs", "program-length", "seed",
	"trace-backend", "trace-path",
	"monitor-port", "open-browser", "verbose",
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	d := config.Default()

	f.StringSlice("env", []string{".env"},
		"Configuration files to read, later files win.")
	f.String("policy", d.Policy.String(), "Scheduler policy, mlq or single.")
	f.Int("max-prio", d.MaxPrio, "Number of priority levels.")
	f.Int("queue-capacity", d.QueueCapacity, "Capacity of each ready queue.")
	f.Bool("stable-order", d.StableOrder,
		"Keep FIFO order when removing from a queue.")
	f.Uint64("log2-page-size", d.Log2PageSize, "Log2 of the page size.")
	f.Int("tlb-entries", d.TLBEntries, "Number of TLB entries.")
	f.String("tlb-eviction", d.TLBEviction.String(),
		"TLB eviction policy, clear, fifo or lru.")
	f.String("free-policy", d.FreePolicy.String(),
		"How freeing a region updates the TLB, zero or invalidate.")
	f.Uint64("tlb-mirror-size", d.TLBMirrorSize,
		"Bytes of the TLB mirror store of each process.")
	f.Uint64("ram-size", d.RAMSize, "Physical memory in bytes.")
	f.Uint64("address-space-size", d.AddressSpaceSize,
		"Bytes a process can address.")
	f.Int("num-regions", d.NumRegions, "Regions per process.")
	f.Int("num-cpus", d.NumCPUs, "Number of simulated CPUs.")
	f.Int("time-slice", d.TimeSlice, "Instructions per time slice.")
	f.Duration("idle-backoff", d.IdleBackoff,
		"How long an idle CPU waits before polling again.")
	f.Int("num-procs", d.NumProcs, "Number of generated processes.")
	f.Int("program-length", d.ProgramLength,
		"Approximate number of instructions per process.")
	f.Int64("seed", d.Seed, "Seed of the workload generator.")
	f.String("trace-backend", d.TraceBackend,
		"Record component events to sqlite or csv.")
	f.String("trace-path", d.TracePath, "Path of the trace file.")
	f.Int("monitor-port", d.MonitorPort,
		"Port of the monitoring server, 0 for a random port, -1 to disable.")
	f.Bool("open-browser", d.OpenBrowser, "Open the monitor in a browser.")
	f.BoolP("verbose", "v", d.Verbose, "Log every component event.")
}

func flagKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	files, err := cmd.Flags().GetStringSlice("env")
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return cfg, err
	}

	overrides := make(map[string]string)
	known := make(map[string]bool, len(flagKeys))

	for _, name := range flagKeys {
		known[name] = true
	}

	cmd.Flags().Visit(func(f *pflag.Flag) {
		if known[f.Name] {
			overrides[flagKey(f.Name)] = f.Value.String()
		}
	})

	if err := cfg.Apply(overrides); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, out, errOut io.Writer) (err error) {
	recorder, closeRecorder, err := kernel.OpenRecorder(cfg)
	if err != nil {
		return err
	}

	if closeRecorder != nil {
		defer func() {
			if cerr := closeRecorder(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	builder := kernel.MakeBuilder().
		WithConfig(cfg).
		WithLogger(log.New(errOut, "kernelsim: ", log.Lmicroseconds))

	if recorder != nil {
		builder = builder.WithRecorder(recorder)
	}

	var monitor *monitoring.Monitor
	if cfg.MonitorPort >= 0 {
		monitor = monitoring.NewMonitor().
			WithPortNumber(cfg.MonitorPort).
			WithBrowser(cfg.OpenBrowser)
		builder = builder.WithMonitor(monitor)
	}

	k := builder.Build("Kernel")

	if monitor != nil {
		if _, err := monitor.StartServer(); err != nil {
			return err
		}
	}

	g := kernel.NewWorkloadGeneratorFromConfig(cfg, id.NewPIDGenerator())

	report, err := k.RunWorkload(ctx, g, cfg.NumProcs)
	report.Print(out)

	if err != nil {
		return fmt.Errorf("kernel stopped: %w", err)
	}

	return nil
}
