package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ticketd/internal/eventbus"
	"ticketd/internal/metrics"
	rtsup "ticketd/internal/runtime/supervisor"
	logx "ticketd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// DedupStore persists dedup windows across restarts. storage.Store
// satisfies it.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

type job struct {
	ch  Channel
	msg Message
	key string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service implements acquire.Publisher. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	store    DedupStore
	metrics  metrics.Sink
	channels []Channel

	cfg     Config
	events  map[string]bool
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{}
	persistCh chan dedupWrite

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(s *Service) { s.bus = b } }
func WithStore(st DedupStore) Option    { return func(s *Service) { s.store = st } }

func WithMetrics(m metrics.Sink) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithChannels adds external destinations.
func WithChannels(chs ...Channel) Option {
	return func(s *Service) {
		for _, c := range chs {
			if c != nil {
				s.channels = append(s.channels, c)
			}
		}
	}
}

func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		metrics: metrics.NewNoopSink(),
		dedup:   map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "notifier"))
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	names := cfg.Events
	if len(names) == 0 {
		names = DefaultEvents
	}
	s.events = make(map[string]bool, len(names))
	for _, n := range names {
		s.events[n] = true
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the delivery workers. It is a no-op when disabled, when
// no channel is configured, or when already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled || len(s.channels) == 0 {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup, q, pch, workers := s.sup, s.queue, s.persistCh, s.cfg.Workers
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("notifier.dedup", func(c context.Context) error {
			return s.exitErr(c, s.persistLoop(c, pch))
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			return s.exitErr(c, s.workerLoop(c, q))
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("channels", len(s.channels)))
}

// exitErr turns an unexpected loop exit into an error so the supervisor
// restarts it. Exits during shutdown are clean.
func (s *Service) exitErr(ctx context.Context, closed bool) error {
	if closed || ctx.Err() != nil {
		return nil
	}
	return errors.New("loop exited unexpectedly")
}

// Stop blocks intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.persistCh, s.stopDone, s.sup = nil, nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Publish fans event out. It never blocks and never fails the caller.
func (s *Service) Publish(event string, payload any) {
	now := time.Now()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Name: event, Time: now, Payload: payload})
	}
	if err := s.Enqueue(context.Background(), Message{Event: event, Time: now, Payload: payload}); err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Debug("notification not queued", logx.String("event", event), logx.Err(err))
	}
}

// Enqueue queues m for every channel if its event is selected.
func (s *Service) Enqueue(ctx context.Context, m Message) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.events[m.Event] {
		s.mu.Unlock()
		return nil
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		s.metrics.NotificationDropped("stopped")
		return ErrStopped
	}
	q := s.queue
	window, maxEntries, persist := s.cfg.DedupWindow, s.cfg.DedupMaxEntries, s.cfg.PersistDedup
	pch := s.persistCh
	chs := s.channels
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	var errs []error
	for _, ch := range chs {
		key := dedupKey(ch.Name(), m)
		if window > 0 && key != "" && !s.dedupAllow(ctx, key, window, maxEntries, persist, pch) {
			s.metrics.NotificationDropped("dedup")
			continue
		}
		select {
		case q <- job{ch: ch, msg: m, key: key}:
		default:
			s.metrics.NotificationDropped("queue_full")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.hmu.Unlock()
}

// persistLoop reports true when its channel was closed.
func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case w, ok := <-ch:
			if !ok {
				return true
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("persist dedup failed", logx.Err(err))
			}
			cancel()
		}
	}
}

// workerLoop reports true when the queue was closed.
func (s *Service) workerLoop(ctx context.Context, q <-chan job) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case j, ok := <-q:
			if !ok {
				return true
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := j.ch.Deliver(cctx, j.msg)
		cancel()
		if err == nil {
			s.metrics.NotificationDelivered(j.ch.Name(), true)
			s.appendHistory(HistoryItem{At: time.Now(), Channel: j.ch.Name(), Event: j.msg.Event})
			return
		}
		lastErr = err
		s.log.Debug("notification delivery failed", logx.String("channel", j.ch.Name()), logx.Int("attempt", attempt), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.metrics.NotificationDelivered(j.ch.Name(), false)
	s.appendHistory(HistoryItem{At: time.Now(), Channel: j.ch.Name(), Event: j.msg.Event, Error: lastErr.Error()})
	s.log.Warn("notification dropped after retries",
		logx.String("channel", j.ch.Name()),
		logx.String("event", j.msg.Event),
		logx.Int("attempts", attempts),
		logx.Err(lastErr),
	)
}

// dedupKey hashes channel, event and payload. Unencodable payloads are
// never deduplicated.
func dedupKey(channel string, m Message) string {
	body, err := json.Marshal(m.Payload)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(channel + "|" + m.Event + "|"))
	_, _ = h.Write(body)
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if persist && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			oldest string
			at     time.Time
		)
		for k, u := range s.dedup {
			if oldest == "" || u.Before(at) {
				oldest, at = k, u
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped,
// with ±30% jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
