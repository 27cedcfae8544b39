package relay

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// sessionQueue lets one request per session id run at a time. Waiters are
// admitted in arrival order.
type sessionQueue struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

func newSessionQueue() *sessionQueue {
	return &sessionQueue{slots: make(map[string]*slot)}
}

// acquire waits for the session's slot. The returned func releases it.
func (q *sessionQueue) acquire(ctx context.Context, id string) (func(), error) {
	q.mu.Lock()
	s, ok := q.slots[id]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		q.slots[id] = s
	}
	s.refs++
	q.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		q.put(id, s)
		return nil, err
	}
	return func() {
		s.sem.Release(1)
		q.put(id, s)
	}, nil
}

func (q *sessionQueue) put(id string, s *slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(q.slots, id)
	}
}

func (q *sessionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
