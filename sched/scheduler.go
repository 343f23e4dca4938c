package sched

import "time"

// DispatchPolicy replaces the dispatcher's default loop. Exactly one
// policy may be attached per scheduler for its lifetime. Run executes on
// the dispatcher context; Notify may be called from any thread and must
// wake a blocked Run.
type DispatchPolicy interface {
	Run(s *Scheduler)
	Notify()
}

type deferredCB struct {
	epoch uint64
	fn    func()
}

// Scheduler multiplexes fibers over one registered thread. All state
// except the remote-ready queue is owned by the thread; the only legal
// cross-thread entry point is ScheduleFromRemote.
type Scheduler struct {
	readyQueue     fiberQueue
	terminateQueue fiberQueue
	sleepQueue     sleepList
	remoteReady    remoteQueue

	// deferred reclamation callbacks, most recent epoch at the back.
	deferred []deferredCB

	numWorkers uint32
	shutdown   bool

	policy     DispatchPolicy
	dispatcher *dispatcherImpl

	dispatch *FiberContext // owned
	main     *FiberContext // borrowed
	active   *FiberContext

	thread *threadInit
}

// newScheduler wires the main context and constructs the owned dispatcher.
func newScheduler(main *FiberContext) *Scheduler {
	if main.scheduler.Load() != nil {
		panic("BUG: main context already attached to a scheduler")
	}
	s := &Scheduler{main: main, active: main}
	main.scheduler.Store(s)
	s.remoteReady.Init()
	s.dispatcher = makeDispatcher(s)
	s.dispatch = s.dispatcher.cntx
	return s
}

// NumWorkers returns the count of live worker fibers.
func (s *Scheduler) NumWorkers() uint32 { return s.numWorkers }

// IsShutdown reports whether destruction has started.
func (s *Scheduler) IsShutdown() bool { return s.shutdown }

// HasReady reports whether any fiber is runnable.
func (s *Scheduler) HasReady() bool { return !s.readyQueue.Empty() }

// HasSleepingFibers reports whether the sleep queue is non-empty.
func (s *Scheduler) HasSleepingFibers() bool { return !s.sleepQueue.Empty() }

// NextSleepPoint returns the earliest wake deadline. Only valid while
// HasSleepingFibers.
func (s *Scheduler) NextSleepPoint() time.Time {
	return s.sleepQueue.Front().wakeDeadline
}

// Attach registers a newly spawned context on this scheduler.
func (s *Scheduler) Attach(fi *FiberContext) {
	fi.scheduler.Store(s)
	if fi.typ == WORKER {
		s.numWorkers++
	}
}

// AddReady appends fi to the ready queue. A fiber still on the sleep queue
// is unlinked first: a notification beat its timeout.
func (s *Scheduler) AddReady(fi *FiberContext) {
	if fi.sleepLinked {
		s.sleepQueue.Remove(fi)
	}
	s.readyQueue.PushBack(fi)
}

// ScheduleFromRemote publishes fi from another thread and wakes the
// dispatcher (or the custom policy) so it gets absorbed.
func (s *Scheduler) ScheduleFromRemote(fi *FiberContext) {
	log.Tracef("schedule from remote: %s", fi.name)
	s.remoteReady.Push(fi)

	if s.policy != nil {
		s.policy.Notify()
	} else {
		s.dispatcher.Notify()
	}
}

// PopReady removes and returns the head of the ready queue, or nil.
func (s *Scheduler) PopReady() *FiberContext {
	return s.readyQueue.PopFront()
}

// Dispatch hands control from the dispatcher context to fi, parking the
// dispatcher at the tail of the ready queue so it re-checks periodically.
// Only valid on the dispatcher context; custom policies use this to run
// workers.
func (s *Scheduler) Dispatch(fi *FiberContext) {
	if s.active != s.dispatch {
		panic("BUG: Dispatch off the dispatcher context")
	}
	if fi.sleepLinked || fi.waitLinked {
		panic("BUG: dispatched fiber linked elsewhere")
	}
	s.AddReady(s.dispatch)
	s.active = fi
	s.dispatch.switchTo(fi)
	if s.active != s.dispatch {
		panic("BUG: dispatcher resumed as a bystander")
	}
}

// Preempt yields the active fiber to the head of the ready queue, or to
// the dispatcher when nothing is runnable. The outgoing fiber's residency
// must already be recorded before the call.
func (s *Scheduler) Preempt() {
	self := s.active
	next := s.readyQueue.PopFront()
	if next == nil {
		next = s.dispatch
	}
	s.active = next
	self.switchTo(next)
}

// WaitUntil parks the active fiber on the sleep queue until tp, or until
// an earlier AddReady pulls it out.
func (s *Scheduler) WaitUntil(tp time.Time, me *FiberContext) {
	if me.sleepLinked || me.readyLinked {
		panic("BUG: sleeping fiber still linked")
	}
	s.sleepQueue.Insert(me, tp)
	s.Preempt()
}

// ScheduleTermination moves a finished fiber onto the terminate queue.
// The fiber's final switch must leave its goroutine before
// DestroyTerminated releases it.
func (s *Scheduler) ScheduleTermination(fi *FiberContext) {
	s.terminateQueue.PushBack(fi)
	if fi.typ == WORKER {
		s.numWorkers--
	}
}

// DestroyTerminated releases the scheduler's reference on every fiber that
// finished since the last call.
func (s *Scheduler) DestroyTerminated() {
	for {
		fi := s.terminateQueue.PopFront()
		if fi == nil {
			return
		}
		log.Tracef("releasing terminated %s", fi.name)
		fi.release()
	}
}

// ProcessRemoteReady drains fibers published by other threads into the
// ready queue.
func (s *Scheduler) ProcessRemoteReady() {
	for {
		fi := s.remoteReady.Pop()
		if fi == nil {
			return
		}
		// A remote thread may re-publish a fiber we already absorbed but
		// have not run yet. Re-adding it would corrupt the ready queue.
		if fi.readyLinked {
			continue
		}
		s.AddReady(fi)
	}
}

// ProcessSleep moves every ripe sleeper to the ready queue.
func (s *Scheduler) ProcessSleep() {
	now := time.Now()
	for {
		fi := s.sleepQueue.Front()
		if fi == nil || fi.wakeDeadline.After(now) {
			return
		}
		s.sleepQueue.Remove(fi)
		log.Tracef("timeout for %s", fi.name)
		s.readyQueue.PushBack(fi)
	}
}

// AttachCustomPolicy replaces the dispatcher's default loop. May be
// attached at most once, before the dispatcher first runs.
func (s *Scheduler) AttachCustomPolicy(policy DispatchPolicy) {
	if s.policy != nil {
		panic("BUG: custom dispatch policy already attached")
	}
	s.policy = policy
}

// Defer schedules fn to run once every registered thread has passed epoch.
func (s *Scheduler) Defer(epoch uint64, fn func()) {
	s.deferred = append(s.deferred, deferredCB{epoch: epoch, fn: fn})
}

// RunDeferred drains reclamation callbacks from the back while quiescence
// holds for the most recent epoch. Once the back callback fires, the older
// ones carry same-or-earlier epochs and run unconditionally.
func (s *Scheduler) RunDeferred() {
	skipValidation := false
	for len(s.deferred) > 0 {
		last := s.deferred[len(s.deferred)-1]
		if !skipValidation {
			if !qsbrSync(last.epoch, s.thread) {
				break
			}
			skipValidation = true
		}
		last.fn()
		s.deferred = s.deferred[:len(s.deferred)-1]
	}
	runOrphanDeferred(s.thread, false)
}

// takeDeferred hands the pending callbacks over for adoption on shutdown.
func (s *Scheduler) takeDeferred() []deferredCB {
	cbs := s.deferred
	s.deferred = nil
	return cbs
}

// destroy runs the shutdown handshake on the main context: drain the ready
// queue cooperatively, switch into the dispatcher until it exits, then
// release everything that terminated.
func (s *Scheduler) destroy() {
	s.shutdown = true
	if s.active != s.main {
		panic("BUG: scheduler destroyed off the main context")
	}

	for {
		fi := s.readyQueue.PopFront()
		if fi == nil {
			break
		}
		if fi.waitLinked || fi.sleepLinked {
			panic("BUG: ready fiber linked elsewhere")
		}
		s.active = fi
		s.main.switchTo(fi)
	}

	if !s.dispatcher.terminating {
		log.Debugf("scheduler shutdown: entering dispatcher")
		s.active = s.dispatch
		s.main.switchTo(s.dispatch)
		if !s.dispatcher.terminating {
			panic("BUG: dispatcher did not terminate on shutdown")
		}
	}
	s.policy = nil

	if s.numWorkers != 0 {
		panic("BUG: scheduler destroyed with live workers")
	}

	s.dispatch.release()
	s.DestroyTerminated()
}
