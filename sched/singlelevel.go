package sched

import (
	"sync"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched/queueing"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// SingleLevel runs processes in generations. New processes wait in the ready
// queue; processes whose slice is over wait in the run queue until the ready
// queue drains, at which point the run queue becomes the next generation.
type SingleLevel struct {
	hooking.HookableBase

	name       string
	lock       sync.Mutex
	ready      *queueing.ProcQueue
	run        *queueing.ProcQueue
	dispatches uint64
}

// Name returns the name of the scheduler.
func (s *SingleLevel) Name() string {
	return s.name
}

// Policy returns PolicySingleLevel.
func (s *SingleLevel) Policy() Policy {
	return PolicySingleLevel
}

// GetProc returns the ready process with the greatest priority.
func (s *SingleLevel) GetProc() *proc.Proc {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ready.Empty() {
		s.nextGeneration()
	}

	p := s.ready.Dequeue()
	if p != nil {
		s.dispatches++
		s.invoke(HookPosDispatch, p, nil)
	}

	return p
}

func (s *SingleLevel) nextGeneration() {
	moved := 0

	for !s.run.Empty() {
		p := s.run.Dequeue()

		// Both queues share a capacity, so an empty ready queue always has
		// room for the whole run queue.
		if err := s.ready.Enqueue(p); err != nil {
			panic(err)
		}

		moved++
	}

	if moved > 0 {
		s.invoke(HookPosGeneration, nil, moved)
	}
}

// PutProc parks a process until the next generation.
func (s *SingleLevel) PutProc(p *proc.Proc) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.run.Enqueue(p)
}

// AddProc admits a process into the current generation.
func (s *SingleLevel) AddProc(p *proc.Proc) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.ready.Enqueue(p)
}

// Empty tells if both the ready and the run queues are empty.
func (s *SingleLevel) Empty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.ready.Empty() && s.run.Empty()
}

// Snapshot describes the ready and the run queues.
func (s *SingleLevel) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	return Snapshot{
		Name:       s.name,
		Policy:     PolicySingleLevel.String(),
		Dispatches: s.dispatches,
		Queues: []QueueSnapshot{
			snapshotQueue(s.ready, 0, 0),
			snapshotQueue(s.run, 0, 0),
		},
	}
}

func (s *SingleLevel) invoke(pos *hooking.HookPos, item, detail interface{}) {
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

func snapshotQueue(q *queueing.ProcQueue, level, budget int) QueueSnapshot {
	procs := q.Procs()
	pids := make([]vm.PID, len(procs))

	for i, p := range procs {
		pids[i] = p.PID
	}

	return QueueSnapshot{
		Name:     q.Name(),
		Level:    level,
		Budget:   budget,
		Capacity: q.Capacity(),
		PIDs:     pids,
	}
}
