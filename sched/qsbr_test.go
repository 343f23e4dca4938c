package sched

import "testing"

func spliceRegistry(t *testing.T, threads ...*threadInit) func() {
	t.Helper()
	schedLock.Lock()
	saved := threadList
	threadList = nil
	for i := len(threads) - 1; i >= 0; i-- {
		threads[i].next = threadList
		threadList = threads[i]
	}
	schedLock.Unlock()
	return func() {
		schedLock.Lock()
		threadList = saved
		schedLock.Unlock()
	}
}

func TestQsbrSync(t *testing.T) {
	a := &threadInit{}
	b := &threadInit{}
	restore := spliceRegistry(t, a, b)
	defer restore()

	target := globalEpoch.Add(epochInc)

	a.localEpoch.Store(target)
	b.localEpoch.Store(0) // offline threads never delay reclamation
	if !qsbrSync(target, nil) {
		t.Fatal("sync failed with one thread at target and one offline")
	}

	b.localEpoch.Store(target - epochInc)
	if qsbrSync(target, nil) {
		t.Fatal("sync succeeded with a stale thread")
	}

	b.localEpoch.Store(target)
	if !qsbrSync(target, nil) {
		t.Fatal("sync failed with all threads at target")
	}
}

func TestQsbrSyncSetsCallerEpoch(t *testing.T) {
	a := &threadInit{}
	restore := spliceRegistry(t, a)
	defer restore()

	target := globalEpoch.Add(epochInc)
	a.localEpoch.Store(target - epochInc)
	if !qsbrSync(target, a) {
		t.Fatal("sync must count the caller as synced")
	}
	if a.localEpoch.Load() != target {
		t.Fatal("caller epoch not advanced")
	}
}

func TestCheckpointOffline(t *testing.T) {
	qsbrCheckpoint(nil) // unregistered goroutines are a no-op

	a := &threadInit{}
	qsbrOnline(a)
	if a.localEpoch.Load() == 0 {
		t.Fatal("online thread reads as offline")
	}
	qsbrOffline(a)
	if a.localEpoch.Load() != 0 {
		t.Fatal("offline thread still online")
	}
	qsbrCheckpoint(a)
	if a.localEpoch.Load() != globalEpoch.Load() {
		t.Fatal("checkpoint did not observe the global epoch")
	}
}

func TestMixHashSpreads(t *testing.T) {
	seen := make(map[uint64]struct{})
	for i := uint64(0); i < 1000; i++ {
		seen[mixHash(i)&63] = struct{}{}
	}
	if len(seen) < 32 {
		t.Fatalf("sequential tokens landed in only %d of 64 buckets", len(seen))
	}
}
