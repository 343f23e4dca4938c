package sched

import (
	"testing"
	"time"
)

func withScheduler(t *testing.T, fn func(s *Scheduler)) {
	t.Helper()
	s := RegisterThread()
	defer UnregisterThread()
	fn(s)
}

func joinRelease(fi *FiberContext) {
	Join(fi)
	fi.ReleaseHandle()
}

func TestYieldOrder(t *testing.T) {
	withScheduler(t, func(*Scheduler) {
		var got []string
		a := MakeWorker("a", func() {
			got = append(got, "a")
			Yield()
			got = append(got, "a2")
		})
		b := MakeWorker("b", func() {
			got = append(got, "b")
			Yield()
			got = append(got, "b2")
		})
		joinRelease(a)
		joinRelease(b)

		want := []string{"a", "b", "a2", "b2"}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	})
}

func TestSleepOrder(t *testing.T) {
	withScheduler(t, func(*Scheduler) {
		start := time.Now()
		type wake struct {
			name     string
			deadline time.Time
			at       time.Time
		}
		var wakes []wake

		mk := func(name string, after time.Duration) *FiberContext {
			deadline := start.Add(after)
			return MakeWorker(name, func() {
				WaitUntil(deadline)
				wakes = append(wakes, wake{name, deadline, time.Now()})
			})
		}
		f1 := mk("f1", 30*time.Millisecond)
		f2 := mk("f2", 10*time.Millisecond)
		f3 := mk("f3", 20*time.Millisecond)
		joinRelease(f1)
		joinRelease(f2)
		joinRelease(f3)

		if len(wakes) != 3 {
			t.Fatalf("expected 3 wakes, got %d", len(wakes))
		}
		wantOrder := []string{"f2", "f3", "f1"}
		for i, w := range wakes {
			if w.name != wantOrder[i] {
				t.Fatalf("wake order %d: got %s, want %s", i, w.name, wantOrder[i])
			}
			if w.at.Before(w.deadline) {
				t.Errorf("%s woke %v before its deadline", w.name, w.deadline.Sub(w.at))
			}
		}
	})
}

func TestWakeBeforeTimeout(t *testing.T) {
	withScheduler(t, func(*Scheduler) {
		var ctx *FiberContext
		start := time.Now()
		w := MakeWorker("sleeper", func() {
			ctx = FiberActive()
			WaitUntil(time.Now().Add(time.Hour))
		})
		Yield() // let the sleeper park

		if ctx == nil || !ctx.sleepLinked {
			t.Fatal("sleeper did not reach the sleep queue")
		}
		ctx.Scheduler().AddReady(ctx)
		joinRelease(w)

		if elapsed := time.Since(start); elapsed > 10*time.Second {
			t.Fatalf("early wake took %v", elapsed)
		}
	})
}

func TestSpawnNested(t *testing.T) {
	withScheduler(t, func(*Scheduler) {
		var inner *FiberContext
		done := false
		outer := MakeWorker("outer", func() {
			inner = MakeWorker("inner", func() { done = true })
		})
		joinRelease(outer)
		joinRelease(inner)
		if !done {
			t.Fatal("nested worker did not run")
		}
	})
}

func TestDeferRunsAfterQuiescence(t *testing.T) {
	withScheduler(t, func(s *Scheduler) {
		ran := false
		target := globalEpoch.Add(epochInc)
		s.Defer(target, func() { ran = true })

		// The dispatcher tick after this sleep drains deferred callbacks.
		deadline := time.Now().Add(time.Second)
		for !ran && time.Now().Before(deadline) {
			WaitUntil(time.Now().Add(2 * time.Millisecond))
		}
		if !ran {
			t.Fatal("deferred callback never ran")
		}
	})
}

type testPolicy struct {
	wake chan struct{}
	ran  bool
}

func newTestPolicy() *testPolicy {
	return &testPolicy{wake: make(chan struct{}, 1)}
}

func (p *testPolicy) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *testPolicy) Run(s *Scheduler) {
	p.ran = true
	for {
		if s.IsShutdown() && s.NumWorkers() == 0 {
			return
		}
		s.ProcessRemoteReady()
		if s.HasSleepingFibers() {
			s.ProcessSleep()
		}
		if fi := s.PopReady(); fi != nil {
			s.Dispatch(fi)
		} else {
			s.DestroyTerminated()
			if s.HasSleepingFibers() {
				select {
				case <-p.wake:
				case <-time.After(time.Until(s.NextSleepPoint())):
				}
			} else {
				<-p.wake
			}
		}
		s.RunDeferred()
	}
}

func TestCustomPolicy(t *testing.T) {
	s := RegisterThread()
	defer UnregisterThread()

	p := newTestPolicy()
	s.AttachCustomPolicy(p)

	n := 0
	w := MakeWorker("w", func() {
		WaitUntil(time.Now().Add(5 * time.Millisecond))
		n++
	})
	joinRelease(w)

	if n != 1 {
		t.Fatalf("worker ran %d times", n)
	}
	if !p.ran {
		t.Fatal("custom policy never ran")
	}
}

func TestAttachCustomPolicyTwice(t *testing.T) {
	s := RegisterThread()
	defer UnregisterThread()

	s.AttachCustomPolicy(newTestPolicy())
	defer func() {
		if recover() == nil {
			t.Fatal("second AttachCustomPolicy did not panic")
		}
	}()
	s.AttachCustomPolicy(newTestPolicy())
}
