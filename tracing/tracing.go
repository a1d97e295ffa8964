// Package tracing records what the components of the kernel do, so that a
// run can be analyzed after it finishes.
package tracing

import (
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/mem/vm/tlb"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sim/hooking"
	"github.com/sarchlab/kernelsim/sim/id"
)

// An Event is a single record of a trace. Every field maps to a column.
type Event struct {
	ID     string
	Kind   string
	Where  string
	PID    uint32
	What   string
	Detail string
	Time   float64
}

// A Recorder stores events.
type Recorder interface {
	// Record buffers an event. It is safe for concurrent use.
	Record(e Event)

	// Flush writes the buffered events out.
	Flush() error
}

// Hook turns hook invocations into events.
type Hook struct {
	recorder Recorder
	start    time.Time
	now      func() time.Time
}

// NewHook creates a hook that sends events to the recorder. The Time of an
// event is the number of seconds since the hook was created.
func NewHook(recorder Recorder) *Hook {
	return &Hook{
		recorder: recorder,
		start:    time.Now(),
		now:      time.Now,
	}
}

// Func records the hook invocation.
func (h *Hook) Func(ctx hooking.HookCtx) {
	e := Event{
		ID:   id.Unique(),
		Kind: ctx.Pos.Name,
		PID:  uint32(pidOf(ctx.Item)),
		What: describe(ctx.Item),
		Time: h.now().Sub(h.start).Seconds(),
	}

	if ctx.Domain != nil {
		e.Where = ctx.Domain.Name()
	}

	if ctx.Detail != nil {
		e.Detail = fmt.Sprint(ctx.Detail)
	}

	h.recorder.Record(e)
}

func pidOf(item interface{}) vm.PID {
	switch v := item.(type) {
	case *proc.Proc:
		if v != nil {
			return v.PID
		}
	case tlb.Entry:
		return v.PID
	}

	return 0
}

func describe(item interface{}) string {
	switch v := item.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// A MemoryRecorder keeps events in memory. It is used by tests and by the
// monitor to show recent activity.
type MemoryRecorder struct {
	lock   sync.Mutex
	events []Event
}

// Record appends the event.
func (r *MemoryRecorder) Record(e Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, e)
}

// Flush does nothing.
func (r *MemoryRecorder) Flush() error {
	return nil
}

// Events returns a copy of the recorded events.
func (r *MemoryRecorder) Events() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}
