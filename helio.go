// Package helio is a cooperative fiber runtime: many lightweight execution
// contexts multiplexed over registered scheduler threads, with explicit
// yield points, deadline sleeps, and wait-by-token parking shared across
// all schedulers.
package helio

import (
	"time"

	"github.com/cespare/xxhash"

	"github.com/vvhungy/helio/sched"
)

// RegisterThread makes the calling goroutine the main context of a new
// scheduler. Must bracket, together with UnregisterThread, any goroutine
// that spawns fibers.
func RegisterThread() {
	sched.RegisterThread()
}

// UnregisterThread runs the scheduler shutdown handshake: remaining ready
// fibers get a final cooperative run, the dispatcher drains and exits.
func UnregisterThread() {
	sched.UnregisterThread()
}

// Yield places the calling fiber at the tail of the ready queue and runs
// the head.
func Yield() {
	sched.Yield()
}

// SleepUntil suspends the calling fiber until tp, or until an earlier
// wake. Returning at or after tp is not an error.
func SleepUntil(tp time.Time) {
	sched.WaitUntil(tp)
}

// SleepFor suspends the calling fiber for at least d.
func SleepFor(d time.Duration) {
	sched.WaitUntil(time.Now().Add(d))
}

// PrepareSuspend marks the calling fiber as heading to the parking table
// and returns its handle for a remote waker. Pair with SuspendUntilWakeup.
func PrepareSuspend() *Fiber {
	fi := sched.FiberActive()
	if fi == nil {
		panic("BUG: PrepareSuspend outside a fiber")
	}
	fi.StartParking()
	return &Fiber{ctx: fi}
}

// SuspendUntilWakeup parks the calling fiber until its handle is woken
// with WakeParked. If the wake already happened the fiber does not park.
func SuspendUntilWakeup() {
	sched.SuspendUntilWakeup()
}

// SuspendConditionally parks the calling fiber under token unless validate
// observes the wakeup condition; validate runs under the parking bucket
// lock, so a condition flipped by a notifier is never missed. Reports
// whether a suspension occurred.
func SuspendConditionally(token uint64, validate func() bool) bool {
	return sched.SuspendConditionally(token, validate)
}

// Notify wakes at most one fiber parked under token. Reports whether a
// fiber was woken.
func Notify(token uint64) bool {
	return sched.NotifyParked(token) != nil
}

// NotifyAll wakes every fiber parked under token, in park order.
func NotifyAll(token uint64) {
	sched.NotifyAllParked(token)
}

// NameToken derives a stable 64-bit parking token from a name.
func NameToken(name string) uint64 {
	return xxhash.Sum64String(name)
}
