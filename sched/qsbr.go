package sched

import (
	"sync"
	"sync/atomic"
)

// Quiescent-state based reclamation. Retired parking bucket arrays are
// handed to deferred callbacks stamped with the epoch at retirement; a
// callback may run only once every registered thread has either gone
// offline or observed that epoch.

const epochInc = 2

// globalEpoch starts odd and moves by two, so a zero local epoch always
// means "offline" and never collides with a live epoch value.
var globalEpoch atomic.Uint64

func init() {
	globalEpoch.Store(1)
}

// threadInit is the per-registered-thread state, kept on a list guarded by
// schedLock.
type threadInit struct {
	next       *threadInit
	localEpoch atomic.Uint64
	sched      *Scheduler
	tid        int
}

var (
	schedLock  sync.Mutex
	threadList *threadInit
	numThreads int
)

// qsbrCheckpoint records that the thread holds no references into retired
// structures. Safe to call with a nil thread (unregistered goroutines).
func qsbrCheckpoint(t *threadInit) {
	if t == nil {
		return
	}
	t.localEpoch.Store(globalEpoch.Load())
}

// qsbrOnline marks the thread as participating again after a blocking wait.
func qsbrOnline(t *threadInit) {
	t.localEpoch.Store(globalEpoch.Load())
}

// qsbrOffline removes the thread from quiescence accounting while it
// blocks. An offline thread never delays reclamation.
func qsbrOffline(t *threadInit) {
	t.localEpoch.Store(0)
}

// qsbrSync reports whether every registered thread is either offline or
// has observed target. Non-blocking: a busy registry lock fails the probe
// and the caller retries on a later tick.
func qsbrSync(target uint64, self *threadInit) bool {
	if !schedLock.TryLock() {
		return false
	}
	defer schedLock.Unlock()

	if self != nil {
		self.localEpoch.Store(target)
	}
	for p := threadList; p != nil; p = p.next {
		le := p.localEpoch.Load()
		if le != 0 && le != target {
			return false
		}
	}
	return true
}

// Deferred callbacks abandoned by a shutting-down scheduler. Surviving
// threads drain them on their ticks; the last thread out runs the rest
// unconditionally, since no reader remains.
var (
	orphanMu sync.Mutex
	orphanCB []deferredCB
)

func adoptDeferred(cbs []deferredCB) {
	if len(cbs) == 0 {
		return
	}
	orphanMu.Lock()
	orphanCB = append(orphanCB, cbs...)
	orphanMu.Unlock()
}

func runOrphanDeferred(self *threadInit, force bool) {
	orphanMu.Lock()
	defer orphanMu.Unlock()

	skipValidation := force
	for len(orphanCB) > 0 {
		last := orphanCB[len(orphanCB)-1]
		if !skipValidation {
			if !qsbrSync(last.epoch, self) {
				return
			}
			skipValidation = true
		}
		last.fn()
		orphanCB = orphanCB[:len(orphanCB)-1]
	}
}

// currentThread resolves the registered thread state of the calling
// fiber, or nil when called off any scheduler.
func currentThread() *threadInit {
	fi := FiberActive()
	if fi == nil {
		return nil
	}
	s := fi.scheduler.Load()
	if s == nil {
		return nil
	}
	return s.thread
}
