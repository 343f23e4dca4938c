package sched

import (
	"sync/atomic"

	"github.com/vvhungy/helio/mutex"
)

// The parking table is the process-wide rendezvous for wait-by-token.
// Fibers on any scheduler park under a 64-bit token; notifiers on any
// thread remove them. Buckets are guarded by spinlocks; the bucket array
// doubles under load and the old array is retired through QSBR.

const defaultBucketShift = 6

// mixHash is Thomas Wang's 64-bit mix function.
func mixHash(key uint64) uint64 {
	key += ^(key << 32)
	key ^= key >> 22
	key += ^(key << 13)
	key ^= key >> 8
	key += key << 3
	key ^= key >> 15
	key += ^(key << 27)
	key ^= key >> 31
	return key
}

type parkingBucket struct {
	lock        mutex.SpinLock
	waiters     waitQueue
	wasRehashed bool
}

type sizedBuckets struct {
	arr []parkingBucket
}

func newSizedBuckets(count int) *sizedBuckets {
	if count&(count-1) != 0 {
		panic("BUG: bucket count must be a power of two")
	}
	return &sizedBuckets{arr: make([]parkingBucket, count)}
}

func (sb *sizedBuckets) bucketFor(hash uint64) *parkingBucket {
	return &sb.arr[hash&uint64(len(sb.arr)-1)]
}

type parkingHT struct {
	buckets    atomic.Pointer[sizedBuckets]
	numEntries atomic.Uint32
	rehashing  atomic.Bool
}

// Reclamation accounting, observable by tests and the state dump.
var (
	retiredArrays   atomic.Uint64
	reclaimedArrays atomic.Uint64
	rehashCount     atomic.Uint64
)

// RetiredBucketArrays returns how many bucket arrays were retired and how
// many of those were reclaimed after quiescence.
func RetiredBucketArrays() (retired, reclaimed uint64) {
	return retiredArrays.Load(), reclaimedArrays.Load()
}

// RehashCount returns how many parking table rehashes completed.
func RehashCount() uint64 { return rehashCount.Load() }

var gParking *parkingHT

// initParkingTable runs under schedLock when the first thread registers.
func initParkingTable() {
	p := &parkingHT{}
	p.buckets.Store(newSizedBuckets(1 << defaultBucketShift))
	gParking = p
}

// destroyParkingTable runs after the last thread unregisters. Leftover
// waiters at this point are orphaned fibers, a usage error.
func destroyParkingTable() {
	p := gParking
	gParking = nil
	sb := p.buckets.Load()
	log.Debugf("destroying parking table with %d buckets", len(sb.arr))
	for i := range sb.arr {
		pb := &sb.arr[i]
		pb.lock.Lock()
		empty := pb.waiters.Empty()
		pb.lock.Unlock()
		if !empty {
			panic("BUG: parking table destroyed with live waiters")
		}
	}
}

// ParkedWaiters returns the current number of parked fibers.
func ParkedWaiters() uint32 {
	if gParking == nil {
		return 0
	}
	return gParking.numEntries.Load()
}

// Emplace parks fi under token unless validate reports the wakeup
// condition already holds. validate runs under the bucket lock, closing
// the race between the caller's first check and the park.
//
// Returns whether the fiber was parked. A parked caller must Preempt next;
// no checkpoint is taken on that path, the dispatcher's next tick takes it.
func (p *parkingHT) Emplace(token uint64, fi *FiberContext, validate func() bool) bool {
	hash := mixHash(token)
	var prevEntries uint32
	var sb *sizedBuckets
	res := false

	for {
		sb = p.buckets.Load()
		pb := sb.bucketFor(hash)
		pb.lock.Lock()
		if pb.wasRehashed {
			// Grown under us; the next load observes the new array.
			pb.lock.Unlock()
			continue
		}
		if validate() {
			pb.lock.Unlock()
			break
		}
		fi.parkToken = token
		pb.waiters.PushBack(fi)
		prevEntries = p.numEntries.Add(1) - 1
		res = true
		pb.lock.Unlock()
		break
	}

	if res {
		log.Tracef("parked token=%#x", token)
		if prevEntries > uint32(len(sb.arr)) {
			p.tryRehash(sb)
		}
	} else {
		qsbrCheckpoint(currentThread())
	}
	return res
}

// Remove unlinks the first waiter carrying token. onHit runs with the
// waiter still under the bucket lock; onMiss runs when no waiter matched,
// letting callers clear the parking-in-progress flag on a target that has
// not parked yet.
func (p *parkingHT) Remove(token uint64, onHit func(*FiberContext), onMiss func()) *FiberContext {
	hash := mixHash(token)
	for {
		sb := p.buckets.Load()
		pb := sb.bucketFor(hash)
		pb.lock.Lock()
		if pb.wasRehashed {
			pb.lock.Unlock()
			continue
		}
		fi := pb.waiters.RemoveFirst(token)
		if fi != nil {
			if p.numEntries.Add(^uint32(0)) == ^uint32(0) {
				panic("BUG: parking entry count underflow")
			}
			onHit(fi)
		} else {
			onMiss()
		}
		pb.lock.Unlock()
		qsbrCheckpoint(currentThread())
		return fi
	}
}

// RemoveAll moves every waiter carrying token onto out, in park order.
func (p *parkingHT) RemoveAll(token uint64, out *waitQueue) {
	hash := mixHash(token)
	for {
		sb := p.buckets.Load()
		pb := sb.bucketFor(hash)
		pb.lock.Lock()
		if pb.wasRehashed {
			pb.lock.Unlock()
			continue
		}
		moved := pb.waiters.RemoveAll(token, out)
		for i := 0; i < moved; i++ {
			if p.numEntries.Add(^uint32(0)) == ^uint32(0) {
				panic("BUG: parking entry count underflow")
			}
		}
		pb.lock.Unlock()
		break
	}
	qsbrCheckpoint(currentThread())
}

// tryRehash doubles the bucket array. Single writer; concurrent emplacers
// that raced with the growth observe wasRehashed under their bucket lock
// and retry against the published array.
func (p *parkingHT) tryRehash(cur *sizedBuckets) {
	if p.rehashing.Swap(true) {
		return
	}

	sb := p.buckets.Load()
	if sb != cur {
		p.rehashing.Store(false)
		return
	}

	log.Debugf("rehashing parking table from %d buckets", len(sb.arr))

	newSb := newSizedBuckets(len(sb.arr) * 2)
	for i := range sb.arr {
		sb.arr[i].lock.Lock()
	}
	for i := range sb.arr {
		pb := &sb.arr[i]
		pb.wasRehashed = true
		for {
			fi := pb.waiters.PopFront()
			if fi == nil {
				break
			}
			// New array is unpublished, no locks needed on its side.
			newSb.bucketFor(mixHash(fi.parkToken)).waiters.PushBack(fi)
		}
	}
	p.buckets.Store(newSb)
	for i := range sb.arr {
		sb.arr[i].lock.Unlock()
	}

	retiredArrays.Add(1)
	rehashCount.Add(1)
	nextEpoch := globalEpoch.Add(epochInc)

	// The closure keeps the retired array alive until every thread passed
	// a quiescent point.
	mustActive().scheduler.Load().Defer(nextEpoch, func() {
		log.Debugf("reclaiming bucket array with %d buckets", len(sb.arr))
		sb.arr = nil
		reclaimedArrays.Add(1)
	})

	p.rehashing.Store(false)
}
