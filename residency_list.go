package vram

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"

	"github.com/gurender/vram/internal/utils"
	"github.com/gurender/vram/memutils"
)

// residencyList tracks the render targets currently resident in video
// memory, in recency order: the head is the most-recently-bound target, the
// tail the least-recently-bound and therefore the first eviction candidate.
// Spilled targets leave the list and rejoin at the head when promoted back.
type residencyList struct {
	mutex utils.OptionalRWMutex

	count       int
	mostRecent  *Texture
	leastRecent *Texture
}

func (l *residencyList) Init(useMutex bool) {
	l.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
}

func (l *residencyList) Validate() error {
	declaredCount := l.count
	actualCount := 0

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var last *Texture
	for t := l.mostRecent; t != nil; t = t.nextHotTarget() {
		if t.nextHotTarget() != nil && t.nextHotTarget().prevHotTarget() != t {
			return errors.Errorf("the residency list entry %s has a next target, but the reverse reference is broken", t.String())
		}
		last = t
		actualCount++
	}

	if declaredCount != actualCount {
		return errors.Errorf("the listed number of render targets in the residency list (%d) does not match the actual number of targets (%d)", declaredCount, actualCount)
	}

	if last != l.leastRecent {
		return errors.New("traversing the residency list from the head does not terminate at the tail")
	}

	return nil
}

func (l *residencyList) IsEmpty() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count == 0
}

func (l *residencyList) Head() *Texture {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.mostRecent
}

func (l *residencyList) Tail() *Texture {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.leastRecent
}

func (l *residencyList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for t := l.mostRecent; t != nil; t = t.nextHotTarget() {
		size := t.size
		stats.Statistics.BlockCount++
		stats.Statistics.BlockBytes += size
		stats.AddAllocation(size)
	}
}

func (l *residencyList) BuildStatsString(writer *jwriter.Writer) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	s := writer.Array()
	defer s.End()

	for t := l.mostRecent; t != nil; t = t.nextHotTarget() {
		o := s.Object()
		t.printParameters(&o)
		o.End()
	}
}

// PushFront makes t the most-recently-used entry. If the list was empty, t
// also becomes the tail.
func (l *residencyList) PushFront(t *Texture) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.pushFront(t)
}

// Remove detaches t from the list, fixing the head and tail if needed. It is
// safe to call on the head, the tail, a middle entry, the sole entry, or a
// target that is not currently listed.
func (l *residencyList) Remove(t *Texture) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.remove(t)
}

// BringToFront makes t the most-recently-used entry. This is the sole
// re-ranking primitive; it is a no-op when t is already the head.
func (l *residencyList) BringToFront(t *Texture) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.mostRecent == t {
		return // nothing to do
	}
	l.remove(t)
	l.pushFront(t)
}

// relink updates each neighbor's opposite pointer to skip over t. Idempotent
// on already-unlinked targets, whose neighbors are nil.
func relink(t *Texture) {
	if t.prevHotTarget() != nil {
		t.prevHotTarget().setNextHot(t.nextHotTarget())
	}
	if t.nextHotTarget() != nil {
		t.nextHotTarget().setPrevHot(t.prevHotTarget())
	}
}

func (l *residencyList) pushFront(t *Texture) {
	t.setPrevHot(nil)
	t.setNextHot(l.mostRecent)
	if l.mostRecent != nil {
		l.mostRecent.setPrevHot(t)
	}
	l.mostRecent = t
	if l.leastRecent == nil {
		l.leastRecent = t
	}
	l.count++
}

func (l *residencyList) remove(t *Texture) {
	if t.prevHotTarget() == nil && t.nextHotTarget() == nil && l.mostRecent != t {
		// Not currently listed
		return
	}

	relink(t)
	if l.mostRecent == t {
		l.mostRecent = t.nextHotTarget()
	}
	if l.leastRecent == t {
		l.leastRecent = t.prevHotTarget()
	}
	t.setPrevHot(nil)
	t.setNextHot(nil)

	l.count--
}
