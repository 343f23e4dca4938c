package sched

import "time"

// sleepList keeps fibers ordered by wake deadline, earliest first. Ties
// keep insertion order. Insertion scans from the back: sleeps are mostly
// appended in deadline order.
type sleepList struct {
	head *FiberContext
	tail *FiberContext
}

func (l *sleepList) Empty() bool { return l.head == nil }

// Front returns the fiber with the earliest deadline.
func (l *sleepList) Front() *FiberContext { return l.head }

func (l *sleepList) Insert(fi *FiberContext, deadline time.Time) {
	if fi.sleepLinked {
		panic("BUG: fiber already linked into the sleep queue")
	}
	fi.wakeDeadline = deadline
	fi.sleepLinked = true

	at := l.tail
	for at != nil && at.wakeDeadline.After(deadline) {
		at = at.sleepPrev
	}
	// insert after at
	if at == nil {
		fi.sleepPrev = nil
		fi.sleepNext = l.head
		if l.head != nil {
			l.head.sleepPrev = fi
		} else {
			l.tail = fi
		}
		l.head = fi
		return
	}
	fi.sleepPrev = at
	fi.sleepNext = at.sleepNext
	if at.sleepNext != nil {
		at.sleepNext.sleepPrev = fi
	} else {
		l.tail = fi
	}
	at.sleepNext = fi
}

func (l *sleepList) Remove(fi *FiberContext) {
	if !fi.sleepLinked {
		panic("BUG: fiber not on the sleep queue")
	}
	if fi.sleepPrev != nil {
		fi.sleepPrev.sleepNext = fi.sleepNext
	} else {
		l.head = fi.sleepNext
	}
	if fi.sleepNext != nil {
		fi.sleepNext.sleepPrev = fi.sleepPrev
	} else {
		l.tail = fi.sleepPrev
	}
	fi.sleepNext = nil
	fi.sleepPrev = nil
	fi.sleepLinked = false
}
