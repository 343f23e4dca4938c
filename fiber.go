package helio

import (
	"errors"
	"sync/atomic"

	"github.com/vvhungy/helio/sched"
)

// ErrDetached is returned by Join on a handle that gave its reference up.
var ErrDetached = errors.New("helio: fiber handle is detached")

// Fiber is a handle to a spawned worker. Handles are joinable exactly once
// unless detached.
type Fiber struct {
	ctx      *sched.FiberContext
	detached atomic.Bool
	released atomic.Bool
}

// Spawn creates a worker fiber named name running fn on the calling
// fiber's scheduler and makes it runnable. The caller must be on a
// registered thread.
func Spawn(name string, fn func()) *Fiber {
	return &Fiber{ctx: sched.MakeWorker(name, fn)}
}

// Name returns the label given at spawn.
func (f *Fiber) Name() string { return f.ctx.Name() }

// Join parks the caller until the fiber terminates and drops the handle's
// reference.
func (f *Fiber) Join() error {
	if f.detached.Load() {
		return ErrDetached
	}
	sched.Join(f.ctx)
	if !f.released.Swap(true) {
		f.ctx.ReleaseHandle()
	}
	return nil
}

// Detach gives up the handle. The fiber keeps running; its resources are
// released by its scheduler when it terminates.
func (f *Fiber) Detach() {
	if f.detached.Swap(true) {
		panic("BUG: fiber handle detached twice")
	}
	if !f.released.Swap(true) {
		f.ctx.ReleaseHandle()
	}
}

// WakeParked wakes the fiber if it parked through PrepareSuspend /
// SuspendUntilWakeup, from any thread. Waking a fiber that has not parked
// yet cancels its upcoming suspension instead.
func (f *Fiber) WakeParked() {
	sched.NotifyParkedFiber(f.ctx)
}
