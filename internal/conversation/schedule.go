package conversation

import (
	"container/heap"
	"time"
)

type expiry struct {
	id string
	at time.Time
}

// expiryQueue is a min-heap of countdown deadlines. Entries are never
// removed early; stale ones are skipped when popped.
type expiryQueue []expiry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiry)) }

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// scheduler tracks one deadline per message id.
type scheduler struct {
	queue     expiryQueue
	deadlines map[string]time.Time
}

func newScheduler() *scheduler {
	return &scheduler{deadlines: make(map[string]time.Time)}
}

func (s *scheduler) schedule(id string, at time.Time) {
	s.deadlines[id] = at
	heap.Push(&s.queue, expiry{id: id, at: at})
}

func (s *scheduler) deadline(id string) (time.Time, bool) {
	at, ok := s.deadlines[id]
	return at, ok
}

func (s *scheduler) cancel(id string) {
	delete(s.deadlines, id)
}

func (s *scheduler) reset() {
	s.queue = nil
	s.deadlines = make(map[string]time.Time)
}

func (s *scheduler) pending() int {
	return len(s.deadlines)
}

// due pops every id whose deadline is at or before now.
func (s *scheduler) due(now time.Time) []string {
	var ids []string
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(expiry)
		at, ok := s.deadlines[e.id]
		if !ok || !at.Equal(e.at) {
			continue
		}
		delete(s.deadlines, e.id)
		ids = append(ids, e.id)
	}
	return ids
}
