// Package queueing provides the bounded process queues used by the
// schedulers.
package queueing

import (
	"errors"

	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// ErrQueueFull is returned when enqueuing into a queue that is at capacity.
// The process is not stored.
var ErrQueueFull = errors.New("process queue is full")

// HookPosPush marks when a process is pushed into the queue.
var HookPosPush = &hooking.HookPos{Name: "Queue Push"}

// HookPosPop marks when a process is removed from the queue.
var HookPosPop = &hooking.HookPos{Name: "Queue Pop"}

// HookPosDrop marks when a process is rejected because the queue is full.
var HookPosDrop = &hooking.HookPos{Name: "Queue Drop"}

// PriorityFunc extracts the key Dequeue maximizes.
type PriorityFunc func(p *proc.Proc) int64

// ByPrio keys processes on their MLQ level.
func ByPrio(p *proc.Proc) int64 {
	return int64(p.Prio)
}

// ByPriority keys processes on their scalar priority.
func ByPriority(p *proc.Proc) int64 {
	return int64(p.Priority)
}

// Builder can build ProcQueues.
type Builder struct {
	capacity    int
	priority    PriorityFunc
	stableOrder bool
}

// MakeBuilder returns a Builder with a capacity of 10 that keys on the scalar
// priority.
func MakeBuilder() Builder {
	return Builder{
		capacity: 10,
		priority: ByPriority,
	}
}

// WithCapacity sets the number of processes the queue can hold.
func (b Builder) WithCapacity(capacity int) Builder {
	b.capacity = capacity
	return b
}

// WithPriorityFunc sets the key that Dequeue maximizes.
func (b Builder) WithPriorityFunc(f PriorityFunc) Builder {
	b.priority = f
	return b
}

// WithStableOrder makes Dequeue serve equal priorities in arrival order. By
// default the removed slot is filled with the last process, which is O(1)
// but reorders equal-priority processes.
func (b Builder) WithStableOrder(stable bool) Builder {
	b.stableOrder = stable
	return b
}

// Build creates a new ProcQueue.
func (b Builder) Build(name string) *ProcQueue {
	if b.capacity <= 0 {
		panic("queue capacity must be positive")
	}

	if b.priority == nil {
		panic("priority function must be set")
	}

	return &ProcQueue{
		name:        name,
		procs:       make([]*proc.Proc, 0, b.capacity),
		capacity:    b.capacity,
		priority:    b.priority,
		stableOrder: b.stableOrder,
	}
}

// A ProcQueue is a fixed-capacity bag of processes that always hands out the
// one with the greatest priority. It is not safe for concurrent use; the
// scheduler that owns it holds its lock around every call.
type ProcQueue struct {
	hooking.HookableBase

	name        string
	procs       []*proc.Proc
	capacity    int
	priority    PriorityFunc
	stableOrder bool
}

// Name returns the name of the queue.
func (q *ProcQueue) Name() string {
	return q.name
}

// Capacity returns the maximum number of processes in the queue.
func (q *ProcQueue) Capacity() int {
	return q.capacity
}

// Size returns the number of processes in the queue.
func (q *ProcQueue) Size() int {
	if q == nil {
		return 0
	}

	return len(q.procs)
}

// Empty tells if the queue holds no process. A nil queue is empty.
func (q *ProcQueue) Empty() bool {
	return q == nil || len(q.procs) == 0
}

// Procs returns a copy of the queued processes in storage order.
func (q *ProcQueue) Procs() []*proc.Proc {
	procs := make([]*proc.Proc, len(q.procs))
	copy(procs, q.procs)

	return procs
}

// Enqueue appends a process. A full queue rejects the process with
// ErrQueueFull and leaves its content unchanged.
func (q *ProcQueue) Enqueue(p *proc.Proc) error {
	if len(q.procs) >= q.capacity {
		q.invoke(HookPosDrop, p)
		return ErrQueueFull
	}

	q.procs = append(q.procs, p)
	q.invoke(HookPosPush, p)

	return nil
}

// Dequeue removes and returns the process with the strictly greatest
// priority; among equals the first one in storage order wins. It returns nil
// if the queue is empty.
func (q *ProcQueue) Dequeue() *proc.Proc {
	if q.Empty() {
		return nil
	}

	selected := 0
	best := q.priority(q.procs[0])

	for i := 1; i < len(q.procs); i++ {
		key := q.priority(q.procs[i])
		if key > best {
			best = key
			selected = i
		}
	}

	p := q.procs[selected]
	q.removeAt(selected)
	q.invoke(HookPosPop, p)

	return p
}

func (q *ProcQueue) removeAt(i int) {
	last := len(q.procs) - 1

	if q.stableOrder {
		copy(q.procs[i:], q.procs[i+1:])
	} else {
		q.procs[i] = q.procs[last]
	}

	q.procs[last] = nil
	q.procs = q.procs[:last]
}

func (q *ProcQueue) invoke(pos *hooking.HookPos, p *proc.Proc) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(hooking.HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   p,
	})
}
