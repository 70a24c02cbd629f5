package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ticketd/internal/metrics"
	logx "ticketd/pkg/logx"
)

type Option func(*Service)

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m metrics.Sink) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRunner runs fired triggers on supervised goroutines.
func WithRunner(r Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithClock overrides the clock used for one-off delays. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, fire FireFunc, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg.withDefaults(),
		fire:    fire,
		metrics: metrics.NewNoopSink(),
		now:     time.Now,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:    map[string]*armedJob{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))

	s.mu.Lock()
	s.loadLocationLocked()
	s.mu.Unlock()
	return s
}

// Start creates the cron runner and arms every trigger registered so far.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("armed", len(s.jobs)))
	return nil
}

// Stop halts the cron runner and every pending timer. Armed triggers are
// remembered so a later Start re-arms them.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return nil
	}
	done := s.stopLocked()
	s.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Apply updates tolerances and, on a timezone change, re-arms everything on
// a fresh cron runner.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	tzChanged := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if !tzChanged {
		return
	}
	s.loadLocationLocked()
	if s.c != nil {
		s.restartLocked()
	} else {
		s.rebaseOnceLocked()
	}
}

// Location is the zone fire times are interpreted in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// PastTolerance is how late a one-off may be and still be armed.
func (s *Service) PastTolerance() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PastTolerance
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for id, job := range s.jobs {
		if err := s.registerLocked(job); err != nil {
			s.log.Warn("re-arm failed", logx.String("trigger_id", id), logx.Err(err))
			delete(s.jobs, id)
		}
	}
	s.c.Start()
	s.metrics.TriggersArmed(len(s.jobs))
}

func (s *Service) stopLocked() context.Context {
	done := s.c.Stop()
	for _, job := range s.jobs {
		if job.timer != nil {
			job.timer.Stop()
			job.timer = nil
		}
		job.entryID = 0
	}
	s.c = nil
	return done
}

func (s *Service) restartLocked() {
	s.stopLocked()
	s.rebaseOnceLocked()
	s.startLocked()
	s.log.Info("scheduler re-armed", logx.String("tz", s.loc.String()), logx.Int("armed", len(s.jobs)))
}

// rebaseOnceLocked recomputes one-off instants after a timezone change.
func (s *Service) rebaseOnceLocked() {
	for id, job := range s.jobs {
		if job.kind != KindOnce {
			continue
		}
		at, err := job.trigger.FireAt(s.loc)
		if err != nil {
			s.log.Warn("drop unparsable one-off", logx.String("trigger_id", id), logx.Err(err))
			delete(s.jobs, id)
			continue
		}
		job.at = at
	}
}

func (s *Service) loadLocationLocked() {
	tz := strings.TrimSpace(s.cfg.Timezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		loc = time.UTC
	}
	s.loc = loc
}
