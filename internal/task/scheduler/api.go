package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"ticketd/internal/domain"
	logx "ticketd/pkg/logx"
)

// CronSpec translates a weekly trigger into a six-field cron spec.
func CronSpec(t domain.Trigger) (string, error) {
	h, m, sec, err := domain.ParseClock(t.FireTime)
	if err != nil {
		return "", err
	}
	days := t.RecurringDays.Normalize()
	if len(days) == 0 {
		return "", errors.New("no recurring days")
	}
	return fmt.Sprintf("%d %d %d * * %s", sec, m, h, days.CronField()), nil
}

// Arm schedules t, replacing any timer already armed for the same id.
// Inactive triggers are only disarmed.
func (s *Service) Arm(t domain.Trigger) error {
	if t.ID == "" {
		return &SchedulingFault{Err: errors.New("missing trigger id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(t.ID)
	if !t.IsActive {
		return nil
	}

	job := &armedJob{trigger: t}
	if t.IsRecurring {
		spec, err := CronSpec(t)
		if err == nil {
			_, err = s.parser.Parse(spec)
		}
		if err != nil {
			return &SchedulingFault{TriggerID: t.ID, Err: err}
		}
		job.kind = KindWeekly
		job.spec = spec
	} else {
		at, err := t.FireAt(s.loc)
		if err != nil {
			return &SchedulingFault{TriggerID: t.ID, Err: err}
		}
		now := s.now()
		if at.Before(now.Add(-s.cfg.PastTolerance)) {
			s.log.Warn("one-off trigger is past due; not armed",
				logx.String("trigger_id", t.ID),
				logx.Time("fire_at", at),
				logx.Duration("late", now.Sub(at)),
			)
			return fmt.Errorf("trigger %s at %s: %w", t.ID, at.Format(time.RFC3339), ErrPastDue)
		}
		job.kind = KindOnce
		job.at = at
	}

	s.ver++
	job.ver = s.ver
	if s.c != nil {
		if err := s.registerLocked(job); err != nil {
			return &SchedulingFault{TriggerID: t.ID, Err: err}
		}
	}
	s.jobs[t.ID] = job
	s.metrics.TriggersArmed(len(s.jobs))

	s.log.Debug("trigger armed",
		logx.String("trigger_id", t.ID),
		logx.String("kind", job.kind),
		logx.String("spec", job.spec),
		logx.Time("at", job.at),
	)
	return nil
}

// Disarm cancels the timer for id. It reports whether one was armed.
func (s *Service) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.disarmLocked(id)
	if ok {
		s.log.Debug("trigger disarmed", logx.String("trigger_id", id))
	}
	return ok
}

// IsArmed reports whether id currently has a live timer.
func (s *Service) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Restore arms every active trigger once the startup delay has elapsed.
// Past-due one-offs are skipped; other faults are collected and returned
// together without stopping the loop.
func (s *Service) Restore(ctx context.Context, triggers []domain.Trigger) (int, error) {
	s.mu.Lock()
	delay := s.cfg.StartupDelay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	var (
		armed int
		errs  []error
	)
	for _, tr := range triggers {
		if !tr.IsActive {
			continue
		}
		err := s.Arm(tr)
		switch {
		case err == nil:
			armed++
		case errors.Is(err, ErrPastDue):
		default:
			s.log.Error("restore trigger failed", logx.String("trigger_id", tr.ID), logx.Err(err))
			errs = append(errs, err)
		}
	}
	s.log.Info("triggers restored", logx.Int("armed", armed), logx.Int("failed", len(errs)))
	return armed, errors.Join(errs...)
}

func (s *Service) disarmLocked(id string) bool {
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if job.entryID != 0 && s.c != nil {
		s.c.Remove(job.entryID)
	}
	if job.timer != nil {
		job.timer.Stop()
	}
	delete(s.jobs, id)
	s.metrics.TriggersArmed(len(s.jobs))
	return true
}

func (s *Service) registerLocked(job *armedJob) error {
	id, ver := job.trigger.ID, job.ver
	switch job.kind {
	case KindWeekly:
		entryID, err := s.c.AddJob(job.spec, cron.FuncJob(func() { s.onFire(id, ver) }))
		if err != nil {
			return err
		}
		job.entryID = entryID
	case KindOnce:
		d := job.at.Sub(s.now())
		if d < 0 {
			d = 0
		}
		job.timer = time.AfterFunc(d, func() { s.onFire(id, ver) })
	default:
		return fmt.Errorf("unknown job kind %q", job.kind)
	}
	return nil
}

// onFire runs on the timer goroutine. Stale callbacks from replaced or
// cancelled timers are dropped by the version check.
func (s *Service) onFire(id string, ver uint64) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.ver != ver {
		s.mu.Unlock()
		return
	}
	t := job.trigger
	kind := job.kind
	ctx := s.ctx
	s.fired++
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	s.metrics.TriggerFired(kind)
	s.log.Info("trigger fired",
		logx.String("trigger_id", t.ID),
		logx.Int64("identity_id", t.IdentityID),
		logx.String("kind", kind),
	)

	run := func(ctx context.Context) error {
		defer func() {
			if kind == KindOnce {
				s.finishOnce(id, ver)
			}
		}()
		if s.fire != nil {
			s.fire(ctx, t)
		}
		return nil
	}

	if s.runner != nil {
		s.runner.Go("trigger."+id, run)
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("trigger run panicked", logx.String("trigger_id", id), logx.Any("panic", r))
			}
		}()
		_ = run(ctx)
	}()
}

// finishOnce drops a one-off entry after its run unless it was re-armed
// in the meantime.
func (s *Service) finishOnce(id string, ver uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && job.ver == ver {
		delete(s.jobs, id)
		s.metrics.TriggersArmed(len(s.jobs))
	}
}
