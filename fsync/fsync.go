// Package fsync provides fiber-aware synchronization primitives layered on
// the parking table: waiters suspend under the address of the wait object,
// notifiers wake by the same token. Safe across fibers on any scheduler.
package fsync

import (
	"sync/atomic"
	"unsafe"

	"github.com/vvhungy/helio/sched"
)

func tokenOf(p unsafe.Pointer) uint64 {
	return uint64(uintptr(p))
}

// Mutex is a fiber mutex. Lock suspends the fiber instead of blocking the
// thread; other fibers on the scheduler keep running.
type Mutex struct {
	state atomic.Int32
}

func (m *Mutex) token() uint64 { return tokenOf(unsafe.Pointer(m)) }

func (m *Mutex) Lock() {
	if m.state.CompareAndSwap(0, 1) {
		return
	}
	for {
		acquired := false
		sched.SuspendConditionally(m.token(), func() bool {
			// Runs under the bucket lock: an unlock between the failed
			// CAS above and the park lands here, not in a lost wakeup.
			if m.state.CompareAndSwap(0, 1) {
				acquired = true
				return true
			}
			return false
		})
		if acquired || m.state.CompareAndSwap(0, 1) {
			return
		}
	}
}

func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(0, 1)
}

func (m *Mutex) Unlock() {
	if m.state.Swap(0) != 1 {
		panic("BUG: Unlock of unlocked Mutex")
	}
	sched.NotifyParked(m.token())
}

// CondVar is a fiber condition variable to use with Mutex.
type CondVar struct {
	seq atomic.Uint64
}

func (cv *CondVar) token() uint64 { return tokenOf(unsafe.Pointer(cv)) }

// Wait releases m, suspends until the next Signal/Broadcast, and
// reacquires m. Spurious wakeups are possible; callers loop on their
// predicate as usual.
func (cv *CondVar) Wait(m *Mutex) {
	seq := cv.seq.Load()
	m.Unlock()
	sched.SuspendConditionally(cv.token(), func() bool {
		return cv.seq.Load() != seq
	})
	m.Lock()
}

func (cv *CondVar) Signal() {
	cv.seq.Add(1)
	sched.NotifyParked(cv.token())
}

func (cv *CondVar) Broadcast() {
	cv.seq.Add(1)
	sched.NotifyAllParked(cv.token())
}

// EventCount is a condition notification primitive: waiters snapshot an
// epoch, re-check their condition, and suspend only if no notification
// happened since the snapshot.
type EventCount struct {
	seq atomic.Uint64
}

func (ec *EventCount) token() uint64 { return tokenOf(unsafe.Pointer(ec)) }

// PrepareWait snapshots the notification epoch.
func (ec *EventCount) PrepareWait() uint64 {
	return ec.seq.Load()
}

// Wait suspends unless a notification arrived after epoch was taken.
// Reports whether a suspension occurred.
func (ec *EventCount) Wait(epoch uint64) bool {
	return sched.SuspendConditionally(ec.token(), func() bool {
		return ec.seq.Load() != epoch
	})
}

func (ec *EventCount) Notify() {
	ec.seq.Add(1)
	sched.NotifyParked(ec.token())
}

func (ec *EventCount) NotifyAll() {
	ec.seq.Add(1)
	sched.NotifyAllParked(ec.token())
}

// Await suspends the fiber until pred holds. pred is evaluated between
// epoch snapshots, so a notification firing concurrently is never missed.
func (ec *EventCount) Await(pred func() bool) {
	for !pred() {
		epoch := ec.PrepareWait()
		if pred() {
			return
		}
		ec.Wait(epoch)
	}
}

// Done is a one-shot event.
type Done struct {
	ec   EventCount
	done atomic.Bool
}

// Notify fires the event and wakes every waiter. Idempotent.
func (d *Done) Notify() {
	d.done.Store(true)
	d.ec.NotifyAll()
}

func (d *Done) IsDone() bool {
	return d.done.Load()
}

// Wait suspends the fiber until Notify fires.
func (d *Done) Wait() {
	d.ec.Await(d.done.Load)
}
