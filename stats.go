package helio

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"

	"github.com/vvhungy/helio/sched"
)

// FiberStats is a point-in-time sample of the runtime.
type FiberStats struct {
	Fibers          int
	ParkedWaiters   uint32
	Rehashes        uint64
	RetiredArrays   uint64
	ReclaimedArrays uint64
}

// Stats samples live fiber and parking-table counters.
func Stats() FiberStats {
	var st FiberStats
	sched.ForEachFiber(func(*sched.FiberContext) {
		st.Fibers++
	})
	st.ParkedWaiters = sched.ParkedWaiters()
	st.Rehashes = sched.RehashCount()
	st.RetiredArrays, st.ReclaimedArrays = sched.RetiredBucketArrays()
	return st
}

// FiberList renders every live fiber with its type and residency.
func FiberList() string {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)

	sched.ForEachFiber(func(fi *sched.FiberContext) {
		fmt.Fprintf(b, "%-10s %-8s %s\n", fi.Name(), fi.Type(), fi.State())
	})
	return b.String()
}

var statsLog *logrus.Logger

// PrintFiberList logs the fiber list through the runtime logger.
func PrintFiberList() {
	if statsLog == nil {
		statsLog = newLog()
	}
	statsLog.Infof("live fibers:\n%s", FiberList())
}
