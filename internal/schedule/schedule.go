// Package schedule decides when each feed is due for a refresh.
//
// The schedule is a min-heap of (due time, subject) entries guarded by one
// mutex. A subject is either a feed ID or DefaultBucket, the single entry
// covering every feed without a custom rate. A capacity-one wake channel
// lets mutations interrupt the run loop's timed wait; the loop consumes at
// most one wake per iteration and re-computes its wait duration every time,
// so a stale duration can never delay a newly scheduled entry.
package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DefaultBucket is the schedule subject covering all feeds that refresh at
// the global default rate. Real feed IDs are always positive.
const DefaultBucket int64 = 0

// idleWait bounds the sleep when the schedule is empty; a wake arrives long
// before it elapses whenever an entry is added.
const idleWait = time.Minute

type entry struct {
	due    time.Time
	feedID int64
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler holds the refresh schedule. All methods are safe to call
// concurrently with a running Run loop.
type Scheduler struct {
	mu           sync.Mutex
	entries      entryHeap
	feedRates    map[int64]time.Duration
	globalPeriod time.Duration
	wake         chan struct{}
	now          func() time.Time
}

// New returns a scheduler with the given global default period. A zero
// period disables the default bucket entirely.
func New(globalPeriod time.Duration) *Scheduler {
	return NewWithClock(globalPeriod, time.Now)
}

// NewWithClock is New with an injectable clock for tests.
func NewWithClock(globalPeriod time.Duration, now func() time.Time) *Scheduler {
	s := &Scheduler{
		feedRates: make(map[int64]time.Duration),
		wake:      make(chan struct{}, 1),
		now:       now,
	}
	s.globalPeriod = globalPeriod
	if globalPeriod > 0 {
		heap.Push(&s.entries, &entry{due: now().Add(globalPeriod), feedID: DefaultBucket})
	}
	return s
}

// wakeLocked signals the run loop. Callers hold s.mu, so the signal can
// never be lost between a mutation and the loop's next wait.
func (s *Scheduler) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) removeLocked(feedID int64) bool {
	for _, e := range s.entries {
		if e.feedID == feedID {
			heap.Remove(&s.entries, e.index)
			return true
		}
	}
	return false
}

// SetFeedRate gives feedID a custom refresh rate, replacing any existing
// entry. A rate of zero removes the feed's individual entry so it falls
// back to the default bucket.
func (s *Scheduler) SetFeedRate(feedID int64, rate time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(feedID)
	if rate <= 0 {
		delete(s.feedRates, feedID)
	} else {
		s.feedRates[feedID] = rate
		heap.Push(&s.entries, &entry{due: s.now().Add(rate), feedID: feedID})
	}
	s.wakeLocked()
}

// SetGlobalRate changes the default bucket's period. The countdown restarts
// from now; the previously accumulated wait is discarded.
func (s *Scheduler) SetGlobalRate(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(DefaultBucket)
	s.globalPeriod = period
	if period > 0 {
		heap.Push(&s.entries, &entry{due: s.now().Add(period), feedID: DefaultBucket})
	}
	s.wakeLocked()
}

// RemoveFeed drops the feed's individual entry and rate. Removing a feed
// that has no entry is a no-op.
func (s *Scheduler) RemoveFeed(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(feedID)
	delete(s.feedRates, feedID)
	s.wakeLocked()
}

// NextDue reports the earliest entry and how long until it fires; the wait
// is zero or negative when it is already due. ok is false when the schedule
// is empty. Never blocks.
func (s *Scheduler) NextDue() (feedID int64, wait time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return 0, 0, false
	}
	top := s.entries[0]
	return top.feedID, top.due.Sub(s.now()), true
}

// PopDue removes and returns the earliest entry without scheduling a
// follow-up; the caller re-inserts one for periodic subjects.
func (s *Scheduler) PopDue() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return 0, false
	}
	e := heap.Pop(&s.entries).(*entry)
	return e.feedID, true
}

// EntryCount returns how many schedule entries exist for feedID.
func (s *Scheduler) EntryCount(feedID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		if e.feedID == feedID {
			count++
		}
	}
	return count
}

// collectDue pops every entry that is due and re-inserts the periodic
// follow-up before the lock is released, so a just-fired feed is never left
// unscheduled.
func (s *Scheduler) collectDue() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []int64
	for len(s.entries) > 0 && !s.entries[0].due.After(now) {
		e := heap.Pop(&s.entries).(*entry)
		switch {
		case e.feedID == DefaultBucket:
			if s.globalPeriod > 0 {
				heap.Push(&s.entries, &entry{due: now.Add(s.globalPeriod), feedID: DefaultBucket})
			}
		default:
			if rate, ok := s.feedRates[e.feedID]; ok {
				heap.Push(&s.entries, &entry{due: now.Add(rate), feedID: e.feedID})
			}
		}
		due = append(due, e.feedID)
	}
	return due
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return idleWait
	}
	wait := s.entries[0].due.Sub(s.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Run drives the clock loop: dispatch everything due, then sleep until the
// next entry, a wake, or cancellation. dispatch is called without the
// schedule lock held.
func (s *Scheduler) Run(ctx context.Context, dispatch func(feedID int64)) {
	for {
		if ctx.Err() != nil {
			return
		}

		for _, feedID := range s.collectDue() {
			dispatch(feedID)
		}

		timer := time.NewTimer(s.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
