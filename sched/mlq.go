package sched

import (
	"fmt"
	"sync"

	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched/queueing"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

type mlqLevel struct {
	queue  *queueing.ProcQueue
	budget int
}

// MLQ keeps one queue per priority level, 0 being the most urgent. In every
// round, level i serves at most MaxPrio - i processes. A round ends when no
// non-empty level has budget left.
type MLQ struct {
	hooking.HookableBase

	name       string
	lock       sync.Mutex
	levels     []mlqLevel
	dispatches uint64
	rounds     uint64
}

// Name returns the name of the scheduler.
func (s *MLQ) Name() string {
	return s.name
}

// Policy returns PolicyMLQ.
func (s *MLQ) Policy() Policy {
	return PolicyMLQ
}

// MaxPrio returns the number of levels.
func (s *MLQ) MaxPrio() int {
	return len(s.levels)
}

// GetProc returns a process of the most urgent level that still has budget
// in the current round. It only returns nil if every level is empty.
func (s *MLQ) GetProc() *proc.Proc {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.empty() {
		return nil
	}

	for {
		for i := range s.levels {
			l := &s.levels[i]
			if l.queue.Empty() || l.budget == 0 {
				continue
			}

			l.budget--
			p := l.queue.Dequeue()
			s.dispatches++
			s.invoke(HookPosDispatch, p, i)

			return p
		}

		s.resetBudgets()
	}
}

func (s *MLQ) resetBudgets() {
	for i := range s.levels {
		s.levels[i].budget = len(s.levels) - i
	}

	s.rounds++
	s.invoke(HookPosRoundReset, nil, s.rounds)
}

// PutProc returns a process to the queue of its level.
func (s *MLQ) PutProc(p *proc.Proc) error {
	return s.AddProc(p)
}

// AddProc queues a process at its level.
func (s *MLQ) AddProc(p *proc.Proc) error {
	if p.Prio < 0 || p.Prio >= len(s.levels) {
		return fmt.Errorf("%w: %d not in [0, %d)",
			ErrInvalidPriority, p.Prio, len(s.levels))
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.levels[p.Prio].queue.Enqueue(p)
}

// Empty tells if every level is empty.
func (s *MLQ) Empty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.empty()
}

func (s *MLQ) empty() bool {
	for i := range s.levels {
		if !s.levels[i].queue.Empty() {
			return false
		}
	}

	return true
}

// Snapshot describes the non-empty levels.
func (s *MLQ) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	snapshot := Snapshot{
		Name:       s.name,
		Policy:     PolicyMLQ.String(),
		Dispatches: s.dispatches,
		Queues:     []QueueSnapshot{},
	}

	for i, l := range s.levels {
		if l.queue.Empty() {
			continue
		}

		snapshot.Queues = append(snapshot.Queues,
			snapshotQueue(l.queue, i, l.budget))
	}

	return snapshot
}

func (s *MLQ) invoke(pos *hooking.HookPos, item, detail interface{}) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}
