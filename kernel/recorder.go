package kernel

import (
	"fmt"

	"github.com/sarchlab/kernelsim/config"
	"github.com/sarchlab/kernelsim/tracing"
)

// OpenRecorder creates the trace recorder the configuration asks for. The
// returned function flushes and closes it. Both are nil if tracing is off.
func OpenRecorder(cfg config.Config) (tracing.Recorder, func() error, error) {
	switch cfg.TraceBackend {
	case config.TraceNone:
		return nil, nil, nil
	case config.TraceSQLite:
		r, err := tracing.NewSQLiteRecorder(cfg.TracePath)
		if err != nil {
			return nil, nil, err
		}

		return r, r.Close, nil
	case config.TraceCSV:
		path := cfg.TracePath
		if path == "" {
			path = "kernelsim_trace.csv"
		}

		r, err := tracing.NewCSVRecorder(path)
		if err != nil {
			return nil, nil, err
		}

		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown trace backend %q", cfg.TraceBackend)
	}
}
