package scheduler

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

// entry is one scheduled repository. Superseded entries stay in the heap
// flagged as removed and are discarded when popped.
type entry struct {
	due     time.Time
	seq     uint64
	repoID  string
	removed bool
}

// Scheduler delivers repository ids no earlier than their due time, with
// de-duplication: repeated scheduling of the same id collapses to the latest
// intent. All methods are synchronous and never block.
type Scheduler struct {
	mu              sync.Mutex
	queue           entryHeap
	items           map[string]*entry
	seq             uint64
	defaultInterval time.Duration

	now  func() time.Time
	rand *rand.Rand
}

// New creates a scheduler. defaultInterval bounds the random delay used when
// a repository is scheduled without an explicit delay.
func New(defaultInterval time.Duration) *Scheduler {
	return &Scheduler{
		items:           make(map[string]*entry),
		defaultInterval: defaultInterval,
		now:             time.Now,
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Schedule schedules repoID to become due after delay, superseding any
// pending entry for the same id.
func (s *Scheduler) Schedule(repoID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule(repoID, delay)
}

// ScheduleDefault schedules repoID with a uniformly random delay in
// [0, defaultInterval), used for repositories with no urgency attached.
func (s *Scheduler) ScheduleDefault(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule(repoID, time.Duration(s.rand.Int63n(int64(s.defaultInterval))))
}

// Reschedule moves repoID's due time to now+delay, but only forward: it is a
// no-op when a pending entry is already due sooner.
func (s *Scheduler) Reschedule(repoID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[repoID]
	if !ok || item.due.After(s.now().Add(delay)) {
		s.schedule(repoID, delay)
	}
}

func (s *Scheduler) schedule(repoID string, delay time.Duration) {
	if item, ok := s.items[repoID]; ok {
		item.removed = true
	}

	s.seq++
	item := &entry{
		due:    s.now().Add(delay),
		seq:    s.seq,
		repoID: repoID,
	}
	heap.Push(&s.queue, item)
	s.items[repoID] = item
}

// Get pops up to n repository ids whose due time has passed, in due-time
// order. It returns fewer than n ids when the rest of the queue is in the
// future, and never blocks.
func (s *Scheduler) Get(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	now := s.now()

	for len(ids) < n && s.queue.Len() > 0 {
		head := s.queue[0]
		if head.due.After(now) {
			break
		}

		heap.Pop(&s.queue)
		if head.removed {
			continue
		}

		delete(s.items, head.repoID)
		ids = append(ids, head.repoID)
	}

	return ids
}

// Pending returns the number of live (non-superseded) entries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// entryHeap is a min-heap on due time, ties broken by insertion order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
