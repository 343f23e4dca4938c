package mutex

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

const cacheLinePadSize = 64

// SpinLock is a test-and-set lock padded to a cache line. Holders never
// suspend; critical sections are a handful of pointer writes.
type SpinLock struct {
	i int32
	_ [cacheLinePadSize - unsafe.Sizeof(int32(0))]byte //nolint:unused
}

func (m *SpinLock) get() int32 {
	return atomic.LoadInt32(&m.i)
}

func (m *SpinLock) set(i int32) {
	atomic.StoreInt32(&m.i, i)
}

func (m *SpinLock) Lock() {
	for !atomic.CompareAndSwapInt32(&m.i, 0, 1) {
		runtime.Gosched()
	}
}

func (m *SpinLock) Unlock() {
	if m.get() == 0 {
		panic("BUG: Unlock of unlocked SpinLock")
	}

	m.set(0)
}
