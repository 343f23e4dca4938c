package sched

import "time"

// MakeWorker creates a WORKER context running fn, attaches it to the
// active fiber's scheduler and makes it runnable. Two references are
// taken: one owned by the scheduler, one by the returned handle.
func MakeWorker(name string, fn func()) *FiberContext {
	self := FiberActive()
	if self == nil {
		panic("BUG: Spawn outside a registered thread")
	}
	s := self.scheduler.Load()

	fi := &FiberContext{
		typ:    WORKER,
		name:   name,
		resume: make(chan struct{}, 1),
		entry:  fn,
	}
	fi.ref.Store(2)
	registerFiber(fi)

	go workerMain(fi)

	s.Attach(fi)
	s.AddReady(fi)
	return fi
}

func workerMain(fi *FiberContext) {
	registerGoroutine(fi)
	<-fi.resume

	fi.entry()

	s := fi.scheduler.Load()
	fi.terminated.Store(true)

	// Joiners may sit on any scheduler; wake them before leaving.
	notifyAllParked(joinToken(fi))

	s.ScheduleTermination(fi)

	// Final switch: leave this goroutine without re-parking. Nothing after
	// the switch may touch scheduler state.
	next := s.readyQueue.PopFront()
	if next == nil {
		next = s.dispatch
	}
	s.active = next
	unregisterGoroutine()
	fi.switchFinal(next)
}

// Yield places the active fiber at the tail of the ready queue and runs
// the head.
func Yield() {
	fi := mustActive()
	s := fi.scheduler.Load()
	s.AddReady(fi)
	s.Preempt()
}

// WaitUntil suspends the active fiber until tp or an earlier wake.
func WaitUntil(tp time.Time) {
	fi := mustActive()
	fi.scheduler.Load().WaitUntil(tp, fi)
}

// Join parks the caller until fi terminates. Joining from any scheduler is
// fine; self-join is a programming defect.
func Join(fi *FiberContext) {
	self := mustActive()
	if self == fi {
		panic("BUG: fiber joining itself")
	}
	SuspendConditionally(joinToken(fi), func() bool {
		return fi.terminated.Load()
	})
}

// SuspendUntilWakeup parks the active fiber on its own token unless a
// notifier already cleared the parking-in-progress flag.
func SuspendUntilWakeup() {
	fi := mustActive()
	parked := gParking.Emplace(selfToken(fi), fi, func() bool {
		// A stopped parking process means we were already notified.
		return fi.flags.Load()&flagParkingInProgress == 0
	})
	if parked {
		fi.scheduler.Load().Preempt()
	}
}

// SuspendConditionally parks the active fiber under token unless validate
// observes the wakeup condition under the bucket lock. Reports whether a
// suspension occurred.
func SuspendConditionally(token uint64, validate func() bool) bool {
	fi := mustActive()
	if gParking.Emplace(token, fi, validate) {
		fi.scheduler.Load().Preempt()
		return true
	}
	return false
}

// NotifyParkedFiber is the cross-thread wake of a specific fiber that went
// through StartParking. The parking flag is cleared even on a miss so a
// not-yet-parked target skips its suspension.
func NotifyParkedFiber(other *FiberContext) {
	item := gParking.Remove(selfToken(other),
		func(fi *FiberContext) {
			fi.clearFlags(flagParkingInProgress)
		},
		func() {
			other.clearFlags(flagParkingInProgress)
		})
	if item == nil {
		// Not parked yet; the cleared flag makes it skip suspension.
		return
	}
	if item != other {
		panic("BUG: parked fiber does not match its token")
	}
	other.scheduler.Load().ScheduleFromRemote(other)
}

// NotifyParked wakes at most one fiber parked under token. Returns the
// woken context, or nil when none was parked.
func NotifyParked(token uint64) *FiberContext {
	removed := gParking.Remove(token, func(*FiberContext) {}, func() {})
	if removed != nil {
		activateOther(removed)
	}
	return removed
}

// NotifyAllParked wakes every fiber parked under token, in park order.
func NotifyAllParked(token uint64) {
	notifyAllParked(token)
}

func notifyAllParked(token uint64) {
	var wq waitQueue
	gParking.RemoveAll(token, &wq)
	for {
		fi := wq.PopFront()
		if fi == nil {
			return
		}
		activateOther(fi)
	}
}

// activateOther makes a woken fiber runnable: directly when it lives on
// the caller's scheduler, through the remote queue otherwise.
func activateOther(fi *FiberContext) {
	owner := fi.scheduler.Load()
	if cur := FiberActive(); cur != nil && cur.scheduler.Load() == owner {
		owner.AddReady(fi)
		return
	}
	owner.ScheduleFromRemote(fi)
}
