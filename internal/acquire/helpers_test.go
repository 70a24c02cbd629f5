package acquire

import (
	"context"
	"sync"
	"time"

	"ticketd/internal/claim"
	"ticketd/internal/domain"
	"ticketd/internal/task/engine"
)

type fakeIdentities map[int64]domain.Identity

func (f fakeIdentities) GetIdentity(_ context.Context, id int64) (domain.Identity, error) {
	ident, ok := f[id]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return ident, nil
}

var testIdentities = fakeIdentities{
	1: {ID: 1, ExternalID: "70000001", Secret: "C1", Name: "Ana"},
	2: {ID: 2, ExternalID: "70000002", Secret: "C2", Name: "Luis"},
}

// scriptedAttempter returns codes from script in call order, then fallback.
type scriptedAttempter struct {
	mu       sync.Mutex
	script   []int
	fallback int
	calls    int
}

func (s *scriptedAttempter) Attempt(_ context.Context, _ domain.Identity) claim.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.fallback
	if s.calls < len(s.script) {
		code = s.script[s.calls]
	}
	s.calls++
	return claim.Result{StatusCode: code}
}

func (s *scriptedAttempter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSleeper returns immediately and remembers what it was asked.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestStrategies(client claim.Attempter, cfg Config, opts ...Option) *Strategies {
	pool := engine.NewPool(engine.Config{MaxConcurrent: 10})
	return NewStrategies(pool, client, testIdentities, cfg, opts...)
}
