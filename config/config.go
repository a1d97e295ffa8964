// Package config collects the tunables of a kernel simulation.
//
// Values come from, in increasing precedence, the defaults, .env style files,
// and KERNELSIM_* environment variables. The command line overrides the
// result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sarchlab/kernelsim/mem/vm/mmu"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/sched"
)

// EnvPrefix prefixes every environment variable the configuration reads.
const EnvPrefix = "KERNELSIM_"

// Trace backends.
const (
	TraceNone   = ""
	TraceSQLite = "sqlite"
	TraceCSV    = "csv"
)

// Config holds everything needed to assemble and run a kernel.
type Config struct {
	Policy        sched.Policy
	MaxPrio       int
	QueueCapacity int
	StableOrder   bool

	Log2PageSize     uint64
	TLBEntries       int
	TLBEviction      tlb.EvictionPolicy
	TLBMirrorSize    uint64
	FreePolicy       mmu.FreePolicy
	RAMSize          uint64
	AddressSpaceSize uint64
	NumRegions       int

	NumCPUs     int
	TimeSlice   int
	IdleBackoff time.Duration

	NumProcs      int
	ProgramLength int
	Seed          int64

	TraceBackend string
	TracePath    string

	MonitorPort int
	OpenBrowser bool
	Verbose     bool
}

// Default returns the configuration of the reference kernel.
func Default() Config {
	return Config{
		Policy:        sched.PolicyMLQ,
		MaxPrio:       140,
		QueueCapacity: 10,

		Log2PageSize:     8,
		TLBEntries:       32,
		TLBEviction:      tlb.EvictClearAll,
		TLBMirrorSize:    1 << 22,
		FreePolicy:       mmu.FreeZeroStamp,
		RAMSize:          1 << 20,
		AddressSpaceSize: 1 << 22,
		NumRegions:       30,

		NumCPUs:     2,
		TimeSlice:   2,
		IdleBackoff: time.Millisecond,

		NumProcs:      8,
		ProgramLength: 20,
		Seed:          1,

		TraceBackend: TraceNone,
		MonitorPort:  -1,
	}
}

type setter func(c *Config, value string) error

var setters = map[string]setter{
	"POLICY": func(c *Config, v string) (err error) {
		c.Policy, err = sched.ParsePolicy(v)
		return err
	},
	"MAX_PRIO":       intSetter(func(c *Config) *int { return &c.MaxPrio }),
	"QUEUE_CAPACITY": intSetter(func(c *Config) *int { return &c.QueueCapacity }),
	"STABLE_ORDER":   boolSetter(func(c *Config) *bool { return &c.StableOrder }),
	"LOG2_PAGE_SIZE": uintSetter(func(c *Config) *uint64 { return &c.Log2PageSize }),
	"TLB_ENTRIES":    intSetter(func(c *Config) *int { return &c.TLBEntries }),
	"TLB_EVICTION": func(c *Config, v string) (err error) {
		c.TLBEviction, err = tlb.ParseEvictionPolicy(v)
		return err
	},
	"TLB_MIRROR_SIZE": uintSetter(func(c *Config) *uint64 { return &c.TLBMirrorSize }),
	"FREE_POLICY": func(c *Config, v string) (err error) {
		c.FreePolicy, err = mmu.ParseFreePolicy(v)
		return err
	},
	"RAM_SIZE":           uintSetter(func(c *Config) *uint64 { return &c.RAMSize }),
	"ADDRESS_SPACE_SIZE": uintSetter(func(c *Config) *uint64 { return &c.AddressSpaceSize }),
	"NUM_REGIONS":        intSetter(func(c *Config) *int { return &c.NumRegions }),
	"NUM_CPUS":           intSetter(func(c *Config) *int { return &c.NumCPUs }),
	"TIME_SLICE":         intSetter(func(c *Config) *int { return &c.TimeSlice }),
	"IDLE_BACKOFF": func(c *Config, v string) (err error) {
		c.IdleBackoff, err = time.ParseDuration(v)
		return err
	},
	"NUM_PROCS":      intSetter(func(c *Config) *int { return &c.NumProcs }),
	"PROGRAM_LENGTH": intSetter(func(c *Config) *int { return &c.ProgramLength }),
	"SEED": func(c *Config, v string) (err error) {
		c.Seed, err = strconv.ParseInt(v, 0, 64)
		return err
	},
	"TRACE_BACKEND": func(c *Config, v string) error {
		c.TraceBackend = strings.ToLower(strings.TrimSpace(v))
		return nil
	},
	"TRACE_PATH": func(c *Config, v string) error {
		c.TracePath = v
		return nil
	},
	"MONITOR_PORT": intSetter(func(c *Config) *int { return &c.MonitorPort }),
	"OPEN_BROWSER": boolSetter(func(c *Config) *bool { return &c.OpenBrowser }),
	"VERBOSE":      boolSetter(func(c *Config) *bool { return &c.Verbose }),
}

func intSetter(field func(c *Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}

		*field(c) = n

		return nil
	}
}

func uintSetter(field func(c *Config) *uint64) setter {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return err
		}

		*field(c) = n

		return nil
	}
}

func boolSetter(field func(c *Config) *bool) setter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}

		*field(c) = b

		return nil
	}
}

// Load reads the configuration. Files are read in order with later files
// overriding earlier ones; missing files are skipped. Environment variables
// override the files. Keys are the variable names without EnvPrefix, but
// prefixed keys are accepted in files too.
func Load(files ...string) (Config, error) {
	c := Default()
	values := make(map[string]string)

	for _, f := range files {
		fileValues, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return c, fmt.Errorf("reading %s: %w", f, err)
		}

		for k, v := range fileValues {
			values[strings.TrimPrefix(k, EnvPrefix)] = v
		}
	}

	for key := range setters {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			values[key] = v
		}
	}

	if err := c.Apply(values); err != nil {
		return c, err
	}

	return c, c.Validate()
}

// Apply sets the fields named by the keys. Unknown keys are an error.
func (c *Config) Apply(values map[string]string) error {
	for key, v := range values {
		set, ok := setters[key]
		if !ok {
			return fmt.Errorf("unknown configuration key %s%s", EnvPrefix, key)
		}

		if err := set(c, v); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, v, err)
		}
	}

	return nil
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.MaxPrio > 0, "max priority must be positive"},
		{c.QueueCapacity > 0, "queue capacity must be positive"},
		{c.Log2PageSize < 32, "page size must be below 4 GiB"},
		{c.TLBEntries > 0, "TLB must have at least one entry"},
		{c.RAMSize>>c.Log2PageSize > 0, "RAM must hold at least one frame"},
		{c.TLBMirrorSize >= c.AddressSpaceSize,
			"TLB mirror must cover the whole address space"},
		{c.NumRegions > 0, "number of regions must be positive"},
		{c.NumCPUs > 0, "number of CPUs must be positive"},
		{c.TimeSlice > 0, "time slice must be positive"},
		{c.IdleBackoff > 0, "idle backoff must be positive"},
		{c.NumProcs >= 0, "number of processes must not be negative"},
		{c.ProgramLength > 0, "program length must be positive"},
		{c.NumProcs <= c.QueueCapacity*c.levels(),
			"workload does not fit into the scheduler queues"},
		{
			c.TraceBackend == TraceNone ||
				c.TraceBackend == TraceSQLite ||
				c.TraceBackend == TraceCSV,
			"trace backend must be sqlite or csv",
		},
		{c.MonitorPort < 65536, "monitor port out of range"},
	}

	for _, check := range checks {
		if !check.ok {
			return errors.New(check.msg)
		}
	}

	return nil
}

func (c Config) levels() int {
	if c.Policy == sched.PolicyMLQ {
		return c.MaxPrio
	}

	return 1
}
