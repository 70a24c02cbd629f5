package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketd/internal/acquire"
	"ticketd/internal/domain"
	"ticketd/internal/storage"
	"ticketd/internal/task/scheduler"
	logx "ticketd/pkg/logx"
)

type Service struct {
	store  storage.Store
	sched  Scheduler
	runner Runner
	log    logx.Logger
	now    func() time.Time

	locks idLocks
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithRunner(r Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithClock overrides the clock used by Upcoming and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store storage.Store, sched Scheduler, opts ...Option) *Service {
	s := &Service{store: store, sched: sched, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "triggers"))
	return s
}

// Create validates, persists and arms a new trigger. A one-off whose fire
// time has passed is stored but left unarmed and comes back with
// scheduler.ErrPastDue; a scheduling fault is likewise returned alongside
// the persisted trigger.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Trigger, error) {
	now := s.now()
	t := domain.Trigger{
		ID:            uuid.NewString(),
		IdentityID:    req.IdentityID,
		FireDate:      strings.TrimSpace(req.FireDate),
		RecurringDays: req.RecurringDays.Normalize(),
		FireTime:      req.FireTime,
		IsRecurring:   req.IsRecurring,
		IsActive:      req.IsActive == nil || *req.IsActive,
		Description:   strings.TrimSpace(req.Description),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.prepare(ctx, &t); err != nil {
		return domain.Trigger{}, err
	}
	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return domain.Trigger{}, fmt.Errorf("create trigger: %w", err)
	}
	s.log.Info("trigger created",
		logx.String("trigger_id", t.ID),
		logx.Int64("identity_id", t.IdentityID),
		logx.String("mode", t.Mode()),
		logx.String("fire_time", t.FireTime),
	)
	return t, s.arm(t)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Trigger, error) {
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("get trigger %s: %w", id, err)
	}
	return t, nil
}

// List returns triggers ordered by date then time, optionally for one
// identity.
func (s *Service) List(ctx context.Context, identityID *int64) ([]domain.Trigger, error) {
	out, err := s.store.ListTriggers(ctx, storage.ForIdentity(identityID))
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return out, nil
}

// Upcoming returns active one-offs firing within the next seven days plus
// every active recurring trigger. One-offs still inside the scheduler's
// past tolerance count as upcoming since they will still fire.
func (s *Service) Upcoming(ctx context.Context, identityID *int64) ([]domain.Trigger, error) {
	f := storage.ActiveOnly()
	f.IdentityID = identityID
	all, err := s.store.ListTriggers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list upcoming triggers: %w", err)
	}

	loc := s.sched.Location()
	now := s.now().In(loc)
	from := now.Add(-s.sched.PastTolerance())
	until := now.Add(UpcomingWindow)
	out := make([]domain.Trigger, 0, len(all))
	for _, t := range all {
		if t.IsRecurring {
			out = append(out, t)
			continue
		}
		at, err := t.FireAt(loc)
		if err != nil {
			s.log.Warn("skip unparsable trigger", logx.String("trigger_id", t.ID), logx.Err(err))
			continue
		}
		if !at.Before(from) && !at.After(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Update applies p and re-arms the trigger.
func (s *Service) Update(ctx context.Context, id string, p Patch) (domain.Trigger, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return domain.Trigger{}, err
	}
	next := applyPatch(cur, p, s.now())
	if err := s.prepare(ctx, &next); err != nil {
		return domain.Trigger{}, err
	}
	if err := s.replace(ctx, cur, next); err != nil {
		return domain.Trigger{}, err
	}
	s.log.Info("trigger updated", logx.String("trigger_id", id), logx.Bool("active", next.IsActive))
	return next, s.arm(next)
}

// Toggle flips the active flag.
func (s *Service) Toggle(ctx context.Context, id string) (domain.Trigger, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return domain.Trigger{}, err
	}
	next := cur
	next.IsActive = !cur.IsActive
	next.UpdatedAt = s.now()
	if err := s.replace(ctx, cur, next); err != nil {
		return domain.Trigger{}, err
	}
	s.log.Info("trigger toggled", logx.String("trigger_id", id), logx.Bool("active", next.IsActive))
	return next, s.arm(next)
}

// Delete disarms and removes the trigger. Runs already in flight finish.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.sched.Disarm(id)
	if err := s.store.DeleteTrigger(ctx, id); err != nil {
		s.rearm(cur)
		return fmt.Errorf("delete trigger %s: %w", id, err)
	}
	s.log.Info("trigger deleted", logx.String("trigger_id", id))
	return nil
}

// Deactivate marks a fired one-off inactive. It disarms first, so a timer
// re-armed by an update made while the run was in flight is cancelled too.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.sched.Disarm(id)
	if !cur.IsActive {
		return nil
	}
	if err := s.store.Deactivate(ctx, id); err != nil {
		s.rearm(cur)
		return fmt.Errorf("deactivate trigger %s: %w", id, err)
	}
	return nil
}

// ArmedJobs lists live timers with their next fire estimates.
func (s *Service) ArmedJobs() []scheduler.ArmedInfo {
	return s.sched.Armed()
}

// RunNow fires the trigger immediately without touching its timer or state.
func (s *Service) RunNow(ctx context.Context, id string) (acquire.Run, error) {
	if s.runner == nil {
		return acquire.Run{}, errors.New("trigger runner not configured")
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return acquire.Run{}, err
	}
	s.log.Info("manual trigger run", logx.String("trigger_id", id))
	return s.runner.RunNow(ctx, t)
}

// Restore arms every active trigger from the store. It blocks for the
// scheduler's startup delay.
func (s *Service) Restore(ctx context.Context) error {
	active, err := s.store.ListTriggers(ctx, storage.ActiveOnly())
	if err != nil {
		return fmt.Errorf("load active triggers: %w", err)
	}
	_, err = s.sched.Restore(ctx, active)
	return err
}

// prepare normalizes and validates t and checks that its identity exists.
func (s *Service) prepare(ctx context.Context, t *domain.Trigger) error {
	clock, err := domain.NormalizeClock(t.FireTime)
	if err != nil {
		return &domain.ValidationError{Field: "fire_time", Reason: err.Error()}
	}
	t.FireTime = clock
	t.RecurringDays = t.RecurringDays.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.store.GetIdentity(ctx, t.IdentityID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("identity %d: %w", t.IdentityID, domain.ErrNotFound)
		}
		return fmt.Errorf("lookup identity %d: %w", t.IdentityID, err)
	}
	return nil
}

// replace disarms, persists next and restores the old timer if the write
// fails.
func (s *Service) replace(ctx context.Context, cur, next domain.Trigger) error {
	s.sched.Disarm(cur.ID)
	if err := s.store.UpdateTrigger(ctx, next); err != nil {
		s.rearm(cur)
		return fmt.Errorf("update trigger %s: %w", cur.ID, err)
	}
	return nil
}

func (s *Service) arm(t domain.Trigger) error {
	err := s.sched.Arm(t)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrPastDue):
		// Stored as requested; the scheduler already logged it.
		return err
	default:
		s.log.Error("trigger left unarmed", logx.String("trigger_id", t.ID), logx.Err(err))
		return err
	}
}

func (s *Service) rearm(t domain.Trigger) {
	if err := s.sched.Arm(t); err != nil && !errors.Is(err, scheduler.ErrPastDue) {
		s.log.Warn("restore timer failed", logx.String("trigger_id", t.ID), logx.Err(err))
	}
}

func applyPatch(t domain.Trigger, p Patch, now time.Time) domain.Trigger {
	if p.IdentityID != nil {
		t.IdentityID = *p.IdentityID
	}
	if p.IsRecurring != nil && *p.IsRecurring != t.IsRecurring {
		t.IsRecurring = *p.IsRecurring
		if t.IsRecurring {
			t.FireDate = ""
		} else {
			t.RecurringDays = nil
		}
	}
	if p.FireDate != nil {
		t.FireDate = strings.TrimSpace(*p.FireDate)
	}
	if p.RecurringDays != nil {
		t.RecurringDays = *p.RecurringDays
	}
	if p.FireTime != nil {
		t.FireTime = *p.FireTime
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	t.UpdatedAt = now
	return t
}
