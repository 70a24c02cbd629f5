package acquire

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"ticketd/internal/claim"
	"ticketd/internal/domain"
	logx "ticketd/pkg/logx"
)

// Strategies runs claim attempt patterns through the shared worker pool.
// None of them report claim failures as errors; the only error path is an
// identity that cannot be resolved.
type Strategies struct {
	pool       Submitter
	client     claim.Attempter
	identities IdentityLookup
	sleeper    Sleeper
	jitter     func(max time.Duration) time.Duration
	log        logx.Logger

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Strategies)

func WithSleeper(s Sleeper) Option {
	return func(st *Strategies) {
		if s != nil {
			st.sleeper = s
		}
	}
}

// WithJitter overrides the random stagger used by bursts.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(st *Strategies) {
		if fn != nil {
			st.jitter = fn
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(st *Strategies) { st.log = log } }

func NewStrategies(pool Submitter, client claim.Attempter, identities IdentityLookup, cfg Config, opts ...Option) *Strategies {
	s := &Strategies{
		pool:       pool,
		client:     client,
		identities: identities,
		sleeper:    timerSleeper{},
		jitter:     randomJitter,
		log:        logx.Nop(),
		cfg:        cfg.withDefaults(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "acquire"))
	return s
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// Apply swaps the tuning used by subsequent calls.
func (s *Strategies) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Strategies) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Strategies) resolve(ctx context.Context, identityID int64) (domain.Identity, error) {
	id, err := s.identities.GetIdentity(ctx, identityID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve identity %d: %w", identityID, err)
	}
	return id, nil
}

// attempt submits one claim to the pool and waits for it.
func (s *Strategies) attempt(ctx context.Context, id domain.Identity) claim.Result {
	f := s.pool.Submit(ctx, func(ctx context.Context) claim.Result {
		return s.client.Attempt(ctx, id)
	})
	res, _ := f.Wait(ctx)
	return res
}

// Execute dispatches to the strategy named by kind. count is the burst or
// race size, or the number of rounds for Sequential; 0 means the default.
func (s *Strategies) Execute(ctx context.Context, kind Kind, identityID int64, count int) ([]claim.Result, error) {
	switch kind {
	case Sequential:
		return s.SequentialRetry(ctx, identityID, count, 0)
	case Race:
		res, err := s.FirstSuccessRace(ctx, identityID, count)
		if err != nil {
			return nil, err
		}
		return []claim.Result{res}, nil
	default:
		return s.ParallelBurst(ctx, identityID, count)
	}
}

// SequentialRetry runs up to maxRounds rounds separated by interval. Within a
// round a transport failure is retried up to MaxRetries times with backoff
// RetryBase*2^(attempt-1); any other non-success code ends the round. It
// stops on the first success and returns every result in order.
func (s *Strategies) SequentialRetry(ctx context.Context, identityID int64, maxRounds int, interval time.Duration) ([]claim.Result, error) {
	id, err := s.resolve(ctx, identityID)
	if err != nil {
		return nil, err
	}
	cfg := s.Config()
	if maxRounds <= 0 {
		maxRounds = cfg.MaxRounds
	}
	if interval <= 0 {
		interval = cfg.Interval
	}

	var results []claim.Result
	for round := 1; round <= maxRounds; round++ {
		terminal := false
		for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
			res := s.attempt(ctx, id)
			results = append(results, res)
			if res.Succeeded() {
				s.log.Info("sequential claim succeeded", logx.Int64("identity", identityID), logx.Int("round", round), logx.Int("attempt", attempt))
				return results, nil
			}
			if res.Category() == claim.TerminalRejection {
				terminal = true
				break
			}
			if attempt < cfg.MaxRetries {
				if err := s.sleeper.Sleep(ctx, backoff(cfg.RetryBase, attempt)); err != nil {
					return results, nil
				}
			}
		}
		if terminal && cfg.TerminalPolicy == Abort {
			s.log.Info("sequential claim aborted on terminal rejection", logx.Int64("identity", identityID), logx.Int("round", round), logx.Int("code", results[len(results)-1].StatusCode))
			return results, nil
		}
		if round < maxRounds {
			if err := s.sleeper.Sleep(ctx, interval); err != nil {
				return results, nil
			}
		}
	}
	return results, nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<(attempt-1))
}

// ParallelBurst submits count attempts, each after a random 0..BurstJitter
// stagger, and returns all results in submission order.
func (s *Strategies) ParallelBurst(ctx context.Context, identityID int64, count int) ([]claim.Result, error) {
	id, err := s.resolve(ctx, identityID)
	if err != nil {
		return nil, err
	}
	cfg := s.Config()
	if count <= 0 {
		count = cfg.BurstCount
	}

	results := make([]claim.Result, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		delay := s.jitter(cfg.BurstJitter)
		wg.Add(1)
		go func(i int, delay time.Duration) {
			defer wg.Done()
			if err := s.sleeper.Sleep(ctx, delay); err != nil {
				results[i] = claim.Failed(0)
				return
			}
			results[i] = s.attempt(ctx, id)
		}(i, delay)
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.Succeeded() {
			ok++
		}
	}
	s.log.Info("burst finished", logx.Int64("identity", identityID), logx.Int("attempts", count), logx.Int("successful", ok))
	return results, nil
}

type raceEntry struct {
	index int
	res   claim.Result
}

// FirstSuccessRace submits count attempts staggered by index*RaceStagger and
// returns as soon as one finishes. In FirstSuccess mode it keeps waiting for
// a 201 and falls back to the earliest result. Attempts still running when
// it returns are left to finish on their own.
func (s *Strategies) FirstSuccessRace(ctx context.Context, identityID int64, count int) (claim.Result, error) {
	id, err := s.resolve(ctx, identityID)
	if err != nil {
		return claim.Result{}, err
	}
	cfg := s.Config()
	if count <= 0 {
		count = cfg.RaceCount
	}

	done := make(chan raceEntry, count)
	for i := 0; i < count; i++ {
		go func(i int) {
			if err := s.sleeper.Sleep(ctx, time.Duration(i)*cfg.RaceStagger); err != nil {
				done <- raceEntry{index: i, res: claim.Failed(0)}
				return
			}
			done <- raceEntry{index: i, res: s.attempt(ctx, id)}
		}(i)
	}

	var first *raceEntry
	for n := 0; n < count; n++ {
		var e raceEntry
		select {
		case e = <-done:
		case <-ctx.Done():
			if first != nil {
				return first.res, nil
			}
			return claim.Failed(0), nil
		}
		if first == nil {
			cp := e
			first = &cp
		}
		if cfg.RaceMode == FirstFinished || e.res.Succeeded() {
			s.log.Info("race finished", logx.Int64("identity", identityID), logx.Int("winner", e.index), logx.Int("code", e.res.StatusCode), logx.String("mode", cfg.RaceMode.String()))
			return e.res, nil
		}
	}
	return first.res, nil
}

// Batch makes one attempt per identity in parallel. Unknown identities
// yield a 404 result; other lookup failures a 500. Order follows ids.
func (s *Strategies) Batch(ctx context.Context, ids []int64) []BatchItem {
	items := make([]BatchItem, len(ids))
	var wg sync.WaitGroup
	for i, identityID := range ids {
		items[i].IdentityID = identityID
		wg.Add(1)
		go func(i int, identityID int64) {
			defer wg.Done()
			id, err := s.identities.GetIdentity(ctx, identityID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				items[i].Result = claim.Result{StatusCode: claim.CodeNotFound}
				return
			case err != nil:
				s.log.Warn("batch identity lookup failed", logx.Int64("identity", identityID), logx.Err(err))
				items[i].Result = claim.Failed(0)
				return
			}
			items[i].Name = id.Name
			items[i].Result = s.attempt(ctx, id)
		}(i, identityID)
	}
	wg.Wait()
	return items
}
