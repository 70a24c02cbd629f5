package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ticketd/internal/claim"
	"ticketd/internal/metrics"
	logx "ticketd/pkg/logx"
)

const historySize = 64

// Pool bounds the number of concurrently executing claim attempts.
//
// Submit blocks the caller while the pool is full; every accepted task runs
// exactly once on its own goroutine. Start order is not guaranteed.
type Pool struct {
	log     logx.Logger
	metrics metrics.Sink

	mu      sync.Mutex
	cfg     Config
	sem     *slotSemaphore
	history []HistoryItem

	inFlight  atomic.Int64
	waiting   atomic.Int64
	completed atomic.Uint64
	panics    atomic.Uint64
	rejected  atomic.Uint64

	// closed is guarded by mu; wg.Add only happens under mu while !closed.
	closed bool

	wg sync.WaitGroup
}

type PoolOption func(*Pool)

func WithLogger(log logx.Logger) PoolOption { return func(p *Pool) { p.log = log } }

func WithMetrics(m metrics.Sink) PoolOption {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

func NewPool(cfg Config, opts ...PoolOption) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		log:     logx.Nop(),
		metrics: metrics.NewNoopSink(),
		cfg:     cfg,
		sem:     newSlotSemaphore(cfg.MaxConcurrent),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logx.String("comp", "pool"))
	return p
}

// Apply resizes the pool. Tasks already holding a slot keep it; after a
// shrink no new task starts until in-flight drops below the new limit.
func (p *Pool) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.MaxConcurrent == p.cfg.MaxConcurrent {
		return
	}
	p.log.Info("pool resized", logx.Int("from", p.cfg.MaxConcurrent), logx.Int("to", cfg.MaxConcurrent))
	p.cfg = cfg
	p.sem.resize(cfg.MaxConcurrent)
}

// Submit waits for a free slot and starts task. If ctx is done before a slot
// frees, or the pool is closed, the returned future is already resolved to
// a 500 result.
func (p *Pool) Submit(ctx context.Context, task Task) *Future {
	if task == nil {
		return resolved(claim.Failed(0), fmt.Errorf("nil task"))
	}
	queuedAt := time.Now()

	p.metrics.PoolWaiting(int(p.waiting.Add(1)))
	err := p.sem.acquire(ctx)
	p.metrics.PoolWaiting(int(p.waiting.Add(-1)))
	if err != nil {
		p.rejected.Add(1)
		return resolved(claim.Failed(0), err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.release()
		p.rejected.Add(1)
		return resolved(claim.Failed(0), ErrClosed)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	f := newFuture()
	p.metrics.PoolInFlight(int(p.inFlight.Add(1)))
	go p.run(ctx, task, f, queuedAt)
	return f
}

func (p *Pool) run(ctx context.Context, task Task, f *Future, queuedAt time.Time) {
	started := time.Now()
	var (
		res claim.Result
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("claim task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = claim.Failed(time.Since(started))
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
		p.sem.release()
		p.metrics.PoolInFlight(int(p.inFlight.Add(-1)))
		p.completed.Add(1)
		p.record(HistoryItem{Started: started, SlotDelay: started.Sub(queuedAt), Duration: time.Since(started), Code: res.StatusCode})
		f.resolve(res, err)
		p.wg.Done()
	}()
	res = task(ctx)
}

func (p *Pool) record(it HistoryItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) >= historySize {
		copy(p.history, p.history[1:])
		p.history = p.history[:historySize-1]
	}
	p.history = append(p.history, it)
}

// Status is a pure read.
func (p *Pool) Status() Status {
	p.mu.Lock()
	limit := p.cfg.MaxConcurrent
	p.mu.Unlock()

	inFlight := int(p.inFlight.Load())
	free := limit - inFlight
	if free < 0 {
		free = 0
	}
	return Status{
		InFlight:      inFlight,
		MaxConcurrent: limit,
		Free:          free,
		Waiting:       int(p.waiting.Load()),
		Completed:     p.completed.Load(),
		Panics:        p.panics.Load(),
		Rejected:      p.rejected.Load(),
	}
}

// History returns the most recent finished tasks, oldest first.
func (p *Pool) History() []HistoryItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]HistoryItem(nil), p.history...)
}

// Close rejects new submissions and waits for in-flight tasks until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.sem.close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool close: %w", ctx.Err())
	}
}
