package sched

import (
	"time"

	"github.com/vvhungy/helio/pool"
)

// timerPool recycles the dispatcher's deadline timers, mirroring the
// acquire/release discipline used for pooled timers elsewhere.
var timerPool = pool.NewPool[*time.Timer](func() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
})

// dispatcherImpl runs when no worker is runnable. It absorbs remote
// publishes, wakes ripe sleepers, hands control to workers round-robin,
// and otherwise blocks until notified or the next deadline.
type dispatcherImpl struct {
	cntx  *FiberContext
	sched *Scheduler

	// wakeCh doubles as the wake_suspend flag: a buffered notify arriving
	// before the wait is not lost.
	wakeCh chan struct{}

	terminating bool
}

func makeDispatcher(s *Scheduler) *dispatcherImpl {
	d := &dispatcherImpl{
		sched:  s,
		wakeCh: make(chan struct{}, 1),
	}
	d.cntx = &FiberContext{
		typ:    DISPATCH,
		name:   "_dispatch",
		resume: make(chan struct{}, 1),
	}
	d.cntx.ref.Store(1)
	d.cntx.scheduler.Store(s)
	registerFiber(d.cntx)

	go d.run()
	return d
}

// Notify wakes a dispatcher blocked in its wait. Any thread.
func (d *dispatcherImpl) Notify() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *dispatcherImpl) run() {
	registerGoroutine(d.cntx)
	<-d.cntx.resume

	if d.sched.policy != nil {
		d.sched.policy.Run(d.sched)
	} else {
		d.defaultDispatch()
	}

	log.Debugf("dispatcher exiting, switching to main")
	d.terminating = true

	s := d.sched
	s.active = s.main
	unregisterGoroutine()
	d.cntx.switchFinal(s.main)
}

func (d *dispatcherImpl) defaultDispatch() {
	s := d.sched
	if s.active != d.cntx {
		panic("BUG: dispatcher loop off the dispatch context")
	}

	for {
		if s.shutdown && s.numWorkers == 0 {
			break
		}

		s.ProcessRemoteReady()
		if s.HasSleepingFibers() {
			s.ProcessSleep()
		}

		if fi := s.readyQueue.PopFront(); fi != nil {
			log.Tracef("dispatcher switching to %s", fi.name)
			s.Dispatch(fi)
		} else {
			s.DestroyTerminated()
			d.suspend()
		}

		s.RunDeferred()
		qsbrCheckpoint(s.thread)
	}
	s.DestroyTerminated()
}

// suspend blocks the thread until a notification or, when sleepers exist,
// the next wake deadline. The thread goes offline around the wait so it
// never delays reclamation on other threads.
func (d *dispatcherImpl) suspend() {
	s := d.sched
	qsbrOffline(s.thread)

	if s.HasSleepingFibers() {
		t := timerPool.Get()
		t.Reset(time.Until(s.NextSleepPoint()))
		select {
		case <-d.wakeCh:
			if !t.Stop() {
				<-t.C
			}
		case <-t.C:
		}
		timerPool.Put(t)
	} else {
		<-d.wakeCh
	}

	qsbrOnline(s.thread)
}
