package sched

import (
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/petermattis/goid"
)

// fiberByGid maps a goroutine id to the context it hosts. Set once when
// the goroutine is born, removed when it exits; lookups are lock-free.
var fiberByGid = haxmap.New[int64, *FiberContext]()

// allFibers indexes every live context by id, for introspection.
var allFibers = haxmap.New[uint64, *FiberContext]()

var nextFiberID atomic.Uint64

// FiberActive returns the context running on the calling goroutine, or nil
// when the goroutine hosts no fiber.
func FiberActive() *FiberContext {
	fi, _ := fiberByGid.Get(goid.Get())
	return fi
}

func mustActive() *FiberContext {
	fi := FiberActive()
	if fi == nil {
		panic("BUG: not called from a fiber")
	}
	return fi
}

func registerGoroutine(fi *FiberContext) {
	fiberByGid.Set(goid.Get(), fi)
}

func unregisterGoroutine() {
	fiberByGid.Del(goid.Get())
}

func registerFiber(fi *FiberContext) {
	fi.id = nextFiberID.Add(1)
	allFibers.Set(fi.id, fi)
}

func unregisterFiber(fi *FiberContext) {
	allFibers.Del(fi.id)
}

// ForEachFiber visits every live context. The walk is a point-in-time
// sample; contexts may come and go while it runs.
func ForEachFiber(fn func(fi *FiberContext)) {
	allFibers.ForEach(func(_ uint64, fi *FiberContext) bool {
		fn(fi)
		return true
	})
}

// RegisterThread makes the calling goroutine the MAIN context of a new
// scheduler and enters it into the reclamation registry. Must be paired
// with UnregisterThread. Every goroutine that creates fibers must be
// registered first.
func RegisterThread() *Scheduler {
	if FiberActive() != nil {
		panic("BUG: thread already hosts a scheduler")
	}

	main := &FiberContext{
		typ:    MAIN,
		name:   "main",
		resume: make(chan struct{}, 1),
	}
	main.ref.Store(1)
	registerFiber(main)
	registerGoroutine(main)

	s := newScheduler(main)
	t := &threadInit{sched: s, tid: gettid()}
	t.localEpoch.Store(globalEpoch.Load())
	s.thread = t

	schedLock.Lock()
	if numThreads == 0 {
		initParkingTable()
	}
	numThreads++
	t.next = threadList
	threadList = t
	schedLock.Unlock()

	log.Debugf("registered scheduler thread tid=%d", t.tid)
	return s
}

// UnregisterThread shuts the calling thread's scheduler down, waits for
// its workers cooperatively and leaves the reclamation registry. The last
// thread out tears the parking table down.
func UnregisterThread() {
	fi := FiberActive()
	if fi == nil || fi.typ != MAIN {
		panic("BUG: UnregisterThread off the main context")
	}
	s := fi.scheduler.Load()
	t := s.thread

	s.destroy()

	schedLock.Lock()
	pp := &threadList
	for *pp != nil && *pp != t {
		pp = &(*pp).next
	}
	if *pp == nil {
		schedLock.Unlock()
		panic("BUG: thread not registered")
	}
	*pp = t.next
	numThreads--
	last := numThreads == 0
	schedLock.Unlock()

	adoptDeferred(s.takeDeferred())
	if last {
		runOrphanDeferred(nil, true)
		destroyParkingTable()
	}

	unregisterGoroutine()
	fi.release()
}
