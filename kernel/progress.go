package kernel

import (
	"sync"

	"github.com/sarchlab/kernelsim/mem/vm"
	"github.com/sarchlab/kernelsim/proc"
	"github.com/sarchlab/kernelsim/sched"
	"github.com/sarchlab/kernelsim/sim/hooking"
)

// progressHook marks a process as in progress on the progress bar of the
// kernel the first time the scheduler dispatches it.
type progressHook struct {
	k *Kernel

	lock    sync.Mutex
	started map[vm.PID]bool
}

func newProgressHook(k *Kernel) *progressHook {
	return &progressHook{
		k:       k,
		started: make(map[vm.PID]bool),
	}
}

func (h *progressHook) Func(ctx hooking.HookCtx) {
	if ctx.Pos != sched.HookPosDispatch || h.k.bar == nil {
		return
	}

	p, ok := ctx.Item.(*proc.Proc)
	if !ok {
		return
	}

	h.lock.Lock()
	first := !h.started[p.PID]
	h.started[p.PID] = true
	h.lock.Unlock()

	if first {
		h.k.bar.IncrementInProgress(1)
	}
}
