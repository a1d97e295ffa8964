package hooking

import (
	"fmt"
	"log"
)

// A LogHook prints every hook invocation it receives into a logger. It is the
// verbose mode of the kernel.
type LogHook struct {
	*log.Logger

	positions map[*HookPos]bool
}

// NewLogHook returns a new LogHook that writes into the logger. If positions
// are given, only invocations at those positions are printed.
func NewLogHook(logger *log.Logger, positions ...*HookPos) *LogHook {
	h := &LogHook{Logger: logger}

	if len(positions) > 0 {
		h.positions = make(map[*HookPos]bool, len(positions))
		for _, p := range positions {
			h.positions[p] = true
		}
	}

	return h
}

// Func writes the hook information into the logger.
func (h *LogHook) Func(ctx HookCtx) {
	if h.positions != nil && !h.positions[ctx.Pos] {
		return
	}

	where := "?"
	if ctx.Domain != nil {
		where = ctx.Domain.Name()
	}

	if ctx.Detail != nil {
		h.Printf("%s, %s, %s, %v", where, ctx.Pos.Name, describe(ctx.Item),
			ctx.Detail)
		return
	}

	h.Printf("%s, %s, %s", where, ctx.Pos.Name, describe(ctx.Item))
}

func describe(item interface{}) string {
	switch v := item.(type) {
	case nil:
		return "-"
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}
