package mutex

import (
	"sync"
	"testing"
)

func TestSpinLockBasic(t *testing.T) {
	t.Parallel()

	var m SpinLock
	m.Lock()
	if m.get() != 1 {
		t.Fatal("held lock reads as free")
	}
	m.Unlock()
	if m.get() != 0 {
		t.Fatal("released lock reads as held")
	}
	m.Lock()
	m.Unlock()
}

func TestSpinLockUnlockOfUnlocked(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("Unlock of an unlocked SpinLock did not panic")
		}
	}()
	var m SpinLock
	m.Unlock()
}

func TestSpinLockMutualExclusion(t *testing.T) {
	t.Parallel()

	var m SpinLock
	var wg sync.WaitGroup

	n := 0
	const workers = 8
	const rounds = 1000

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				m.Lock()
				n++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	if n != workers*rounds {
		t.Fatalf("lost updates: got %d, want %d", n, workers*rounds)
	}
}
