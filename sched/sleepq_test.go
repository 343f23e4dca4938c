package sched

import (
	"testing"
	"time"
)

func drainSleep(l *sleepList) []*FiberContext {
	var out []*FiberContext
	for !l.Empty() {
		fi := l.Front()
		l.Remove(fi)
		out = append(out, fi)
	}
	return out
}

func TestSleepListOrder(t *testing.T) {
	var l sleepList
	base := time.Now()

	a := &FiberContext{name: "a"}
	b := &FiberContext{name: "b"}
	c := &FiberContext{name: "c"}

	l.Insert(a, base.Add(30*time.Millisecond))
	l.Insert(b, base.Add(10*time.Millisecond))
	l.Insert(c, base.Add(20*time.Millisecond))

	got := drainSleep(&l)
	want := []*FiberContext{b, c, a}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s", i, got[i].name)
		}
	}
}

func TestSleepListTiesKeepInsertionOrder(t *testing.T) {
	var l sleepList
	tp := time.Now().Add(time.Millisecond)

	a := &FiberContext{name: "a"}
	b := &FiberContext{name: "b"}
	c := &FiberContext{name: "c"}
	l.Insert(a, tp)
	l.Insert(b, tp)
	l.Insert(c, tp)

	got := drainSleep(&l)
	want := []*FiberContext{a, b, c}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie position %d: got %s", i, got[i].name)
		}
	}
}

func TestSleepListRemoveMiddle(t *testing.T) {
	var l sleepList
	base := time.Now()

	a := &FiberContext{name: "a"}
	b := &FiberContext{name: "b"}
	c := &FiberContext{name: "c"}
	l.Insert(a, base.Add(1*time.Millisecond))
	l.Insert(b, base.Add(2*time.Millisecond))
	l.Insert(c, base.Add(3*time.Millisecond))

	l.Remove(b)
	if b.sleepLinked {
		t.Fatal("removed fiber still linked")
	}

	got := drainSleep(&l)
	want := []*FiberContext{a, c}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s", i, got[i].name)
		}
	}
}
