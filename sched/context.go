package sched

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// FiberType tells what role a context plays on its scheduler.
type FiberType uint8

const (
	MAIN FiberType = iota + 1
	DISPATCH
	WORKER
)

func (t FiberType) String() string {
	switch t {
	case MAIN:
		return "main"
	case DISPATCH:
		return "dispatch"
	case WORKER:
		return "worker"
	}
	return "unknown"
}

const (
	// flagParkingInProgress marks a fiber that published itself for a wakeup
	// but has not reached the parking table yet. A notifier clears it so the
	// fiber skips suspension instead of missing the wakeup.
	flagParkingInProgress uint32 = 1 << iota
)

// FiberContext is one cooperative execution context: a dedicated goroutine
// plus the intrusive hooks that let the scheduler move it between queues
// with pointer writes only.
//
// A context is linked into at most one of {ready queue, sleep queue,
// terminate queue, parking bucket, remote-ready queue} at any moment.
type FiberContext struct {
	// ready/terminate hook. The two queues are mutually exclusive so they
	// share one link.
	readyNext   *FiberContext
	readyLinked bool

	// parking hook, also used by broadcast drains.
	waitNext   *FiberContext
	waitLinked bool

	// sleep hook, doubly linked so early wakes unlink in O(1).
	sleepNext   *FiberContext
	sleepPrev   *FiberContext
	sleepLinked bool

	// remote-ready hook, written by producer threads.
	remoteNext atomic.Pointer[FiberContext]

	typ  FiberType
	name string
	id   uint64

	// resume carries the single switch token. Capacity 1: the incoming
	// signal may be buffered before the goroutine first runs.
	resume chan struct{}
	entry  func()

	scheduler atomic.Pointer[Scheduler]

	// parkToken is guarded by the owning bucket's lock while parked.
	parkToken uint64

	flags atomic.Uint32

	// wakeDeadline is valid only while sleepLinked.
	wakeDeadline time.Time

	ref        atomic.Int32
	terminated atomic.Bool
}

func (fi *FiberContext) Type() FiberType { return fi.typ }
func (fi *FiberContext) Name() string    { return fi.name }

// Scheduler returns the scheduler currently owning this context.
func (fi *FiberContext) Scheduler() *Scheduler { return fi.scheduler.Load() }

// Terminated reports whether the entry function has finished.
func (fi *FiberContext) Terminated() bool { return fi.terminated.Load() }

// selfToken is the parking token a fiber uses for direct wakeups.
func selfToken(fi *FiberContext) uint64 {
	return uint64(uintptr(unsafe.Pointer(fi)))
}

// joinToken is the parking token joiners wait on. Salted so it never
// collides with the fiber's own wakeup token.
func joinToken(fi *FiberContext) uint64 {
	return selfToken(fi) ^ 0x9e3779b97f4a7c15
}

// StartParking marks the fiber as being on its way to the parking table.
// Must be called before its handle is handed to a remote notifier.
func (fi *FiberContext) StartParking() {
	fi.setFlags(flagParkingInProgress)
}

func (fi *FiberContext) setFlags(mask uint32) {
	for {
		v := fi.flags.Load()
		if fi.flags.CompareAndSwap(v, v|mask) {
			return
		}
	}
}

func (fi *FiberContext) clearFlags(mask uint32) {
	for {
		v := fi.flags.Load()
		if fi.flags.CompareAndSwap(v, v&^mask) {
			return
		}
	}
}

func (fi *FiberContext) acquire() {
	fi.ref.Add(1)
}

// release drops one reference. The last holder removes the context from the
// registry; by then the final switch has already left the fiber's goroutine.
func (fi *FiberContext) release() {
	n := fi.ref.Add(-1)
	if n < 0 {
		panic("BUG: fiber reference underflow")
	}
	if n == 0 {
		unregisterFiber(fi)
	}
}

// ReleaseHandle drops the reference held by a spawn handle.
func (fi *FiberContext) ReleaseHandle() {
	fi.release()
}

// switchTo hands control to next and parks the outgoing context. All
// bookkeeping for the outgoing fiber must be done before the call: once
// next is signalled it may run immediately on another OS thread.
func (fi *FiberContext) switchTo(next *FiberContext) {
	next.resume <- struct{}{}
	<-fi.resume
}

// switchFinal hands control to next without re-parking. Used by
// terminating contexts whose goroutine is about to exit.
func (fi *FiberContext) switchFinal(next *FiberContext) {
	next.resume <- struct{}{}
}

// State describes where the context currently resides, for diagnostics.
func (fi *FiberContext) State() string {
	switch {
	case fi.terminated.Load():
		return "terminated"
	case fi.readyLinked:
		return "ready"
	case fi.sleepLinked:
		return "sleeping"
	case fi.waitLinked:
		return "parked"
	default:
		if s := fi.scheduler.Load(); s != nil && s.active == fi {
			return "running"
		}
		return "suspended"
	}
}
