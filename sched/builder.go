package sched

import (
	"fmt"

	"github.com/sarchlab/kernelsim/sched/queueing"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// A Builder can build schedulers.
type Builder struct {
	policy        Policy
	maxPrio       int
	queueCapacity int
	stableOrder   bool
	queueHooks    []hooking.Hook
}

// MakeBuilder returns a Builder of MLQ schedulers with 140 levels and queues
// of 10 processes.
func MakeBuilder() Builder {
	return Builder{
		policy:        PolicyMLQ,
		maxPrio:       140,
		queueCapacity: 10,
	}
}

// WithPolicy sets the scheduling algorithm.
func (b Builder) WithPolicy(p Policy) Builder {
	b.policy = p
	return b
}

// WithMaxPrio sets the number of MLQ levels.
func (b Builder) WithMaxPrio(n int) Builder {
	b.maxPrio = n
	return b
}

// WithQueueCapacity sets the capacity of every queue.
func (b Builder) WithQueueCapacity(n int) Builder {
	b.queueCapacity = n
	return b
}

// WithStableOrder makes the queues serve equal priorities in arrival order.
func (b Builder) WithStableOrder(stable bool) Builder {
	b.stableOrder = stable
	return b
}

// WithQueueHook registers a hook to every queue the scheduler owns.
func (b Builder) WithQueueHook(h hooking.Hook) Builder {
	b.queueHooks = append(b.queueHooks[:len(b.queueHooks):len(b.queueHooks)], h)
	return b
}

// Build creates a scheduler running the selected policy.
func (b Builder) Build(name string) Scheduler {
	switch b.policy {
	case PolicyMLQ:
		return b.buildMLQ(name)
	case PolicySingleLevel:
		return b.buildSingleLevel(name)
	default:
		panic("unknown scheduling policy " + b.policy.String())
	}
}

func (b Builder) buildQueue(
	name string,
	priority queueing.PriorityFunc,
) *queueing.ProcQueue {
	q := queueing.MakeBuilder().
		WithCapacity(b.queueCapacity).
		WithPriorityFunc(priority).
		WithStableOrder(b.stableOrder).
		Build(name)

	for _, h := range b.queueHooks {
		q.AcceptHook(h)
	}

	return q
}

func (b Builder) buildMLQ(name string) *MLQ {
	if b.maxPrio <= 0 {
		panic("MLQ requires at least one level")
	}

	s := &MLQ{
		name:   name,
		levels: make([]mlqLevel, b.maxPrio),
	}

	for i := range s.levels {
		s.levels[i] = mlqLevel{
			queue: b.buildQueue(
				fmt.Sprintf("%s.Level[%d]", name, i), queueing.ByPrio),
			budget: b.maxPrio - i,
		}
	}

	return s
}

func (b Builder) buildSingleLevel(name string) *SingleLevel {
	return &SingleLevel{
		name:  name,
		ready: b.buildQueue(name+".Ready", queueing.ByPriority),
		run:   b.buildQueue(name+".Run", queueing.ByPriority),
	}
}
