package engine

import (
	"context"
	"sync"
)

// slotSemaphore is a counting semaphore whose limit can change while slots
// are held. Shrinking never preempts: holders keep their slot and new
// acquirers wait until used drops below the new limit.
type slotSemaphore struct {
	mu     sync.Mutex
	limit  int
	used   int
	closed bool
	// wake is closed and replaced whenever a waiter may proceed.
	wake chan struct{}
}

func newSlotSemaphore(limit int) *slotSemaphore {
	if limit <= 0 {
		limit = 1
	}
	return &slotSemaphore{limit: limit, wake: make(chan struct{})}
}

// acquire blocks until used < limit, ctx is done or the semaphore is closed.
func (s *slotSemaphore) acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.used < s.limit {
			s.used++
			s.mu.Unlock()
			return nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *slotSemaphore) release() {
	s.mu.Lock()
	if s.used > 0 {
		s.used--
	}
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *slotSemaphore) resize(limit int) {
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	s.limit = limit
	s.broadcastLocked()
	s.mu.Unlock()
}

// close fails every current and future acquire with ErrClosed. Held slots
// can still be released.
func (s *slotSemaphore) close() {
	s.mu.Lock()
	s.closed = true
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *slotSemaphore) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}
