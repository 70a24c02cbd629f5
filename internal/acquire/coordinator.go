package acquire

import (
	"context"
	"errors"
	"sync"
	"time"

	"ticketd/internal/domain"
	"ticketd/internal/metrics"
	logx "ticketd/pkg/logx"
)

// Deactivator marks a fired one-off trigger inactive and cancels its timer.
// trigger.Service satisfies it.
type Deactivator interface {
	Deactivate(ctx context.Context, triggerID string) error
}

const deactivateTimeout = 10 * time.Second

// Coordinator is invoked when a trigger fires.
type Coordinator struct {
	strategies *Strategies
	identities IdentityLookup
	sink       Publisher
	metrics    metrics.Sink
	log        logx.Logger

	mu    sync.Mutex
	deact Deactivator
}

type CoordinatorOption func(*Coordinator)

func WithPublisher(p Publisher) CoordinatorOption {
	return func(c *Coordinator) {
		if p != nil {
			c.sink = p
		}
	}
}

func WithCoordinatorMetrics(m metrics.Sink) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithCoordinatorLogger(log logx.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

func NewCoordinator(strategies *Strategies, identities IdentityLookup, store Deactivator, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		strategies: strategies,
		identities: identities,
		deact:      store,
		sink:       nopPublisher{},
		metrics:    metrics.NewNoopSink(),
		log:        logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(logx.String("comp", "coordinator"))
	return c
}

// SetDeactivator replaces the deactivator. The trigger service needs the
// coordinator to exist first, so the app wires it here before Start.
func (c *Coordinator) SetDeactivator(d Deactivator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deact = d
}

func (c *Coordinator) deactivator() Deactivator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deact
}

// Run executes a fired trigger. One-off triggers are deactivated after the
// run whatever the outcome, including when the identity cannot be resolved.
func (c *Coordinator) Run(ctx context.Context, t domain.Trigger) (Run, error) {
	run, err := c.execute(ctx, t, false)
	if !t.IsRecurring {
		c.deactivate(ctx, t.ID)
	}
	return run, err
}

// RunNow executes t immediately without touching its active state.
func (c *Coordinator) RunNow(ctx context.Context, t domain.Trigger) (Run, error) {
	return c.execute(ctx, t, true)
}

func (c *Coordinator) execute(ctx context.Context, t domain.Trigger, manual bool) (Run, error) {
	cfg := c.strategies.Config()
	kind := cfg.ScheduleStrategy
	count := cfg.BurstCount
	switch kind {
	case Race:
		count = cfg.RaceCount
	case Sequential:
		count = cfg.MaxRounds
	}

	run := Run{TriggerID: t.ID, IdentityID: t.IdentityID, Strategy: kind, StartedAt: time.Now()}
	log := c.log.With(logx.String("trigger", t.ID), logx.Int64("identity", t.IdentityID))

	id, err := c.identities.GetIdentity(ctx, t.IdentityID)
	if err != nil {
		run.FinishedAt = time.Now()
		log.Error("trigger run aborted: identity lookup failed", logx.Err(err))
		c.sink.Publish(EventError, ErrorEvent{TriggerID: t.ID, IdentityID: t.IdentityID, Error: err.Error()})
		return run, err
	}
	run.Name = id.Name

	log.Info("trigger run started", logx.String("strategy", kind.String()), logx.Int("count", count), logx.Bool("manual", manual))
	c.sink.Publish(EventStarted, StartedEvent{
		TriggerID: t.ID, IdentityID: t.IdentityID, Name: id.Name,
		Strategy: kind, Count: count, Manual: manual,
	})

	results, err := c.strategies.Execute(ctx, kind, t.IdentityID, count)
	run.FinishedAt = time.Now()
	if err != nil {
		// Identity vanished between the two lookups.
		log.Error("trigger run failed", logx.Err(err))
		c.sink.Publish(EventError, ErrorEvent{TriggerID: t.ID, IdentityID: t.IdentityID, Error: err.Error()})
		return run, err
	}
	run.Attempts = results
	c.metrics.RunCompleted(kind.String(), run.Succeeded(), run.Duration())

	c.sink.Publish(EventCompleted, CompletedEvent{
		TriggerID: t.ID, IdentityID: t.IdentityID, Name: id.Name,
		TotalAttempts:      len(results),
		SuccessfulAttempts: run.Successful(),
		Results:            results,
		Summary:            run.Summary(),
	})
	if run.Succeeded() {
		log.Info("trigger run succeeded", logx.Int("successful", run.Successful()), logx.Any("tickets", run.Tickets()), logx.Duration("took", run.Duration()))
		c.sink.Publish(EventSucceeded, SucceededEvent{TriggerID: t.ID, IdentityID: t.IdentityID, Name: id.Name, Tickets: run.Tickets()})
	} else {
		log.Warn("trigger run got no ticket", logx.Any("codes", run.Codes()), logx.Duration("took", run.Duration()))
		c.sink.Publish(EventFailed, FailedEvent{TriggerID: t.ID, IdentityID: t.IdentityID, Name: id.Name, Codes: run.Codes()})
	}
	return run, nil
}

func (c *Coordinator) deactivate(ctx context.Context, triggerID string) {
	// The run may have outlived its context (shutdown); the write must still land.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deactivateTimeout)
	defer cancel()
	d := c.deactivator()
	if d == nil {
		c.log.Warn("one-off trigger left active: no deactivator", logx.String("trigger", triggerID))
		return
	}
	if err := d.Deactivate(dctx, triggerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.log.Debug("one-off trigger deleted during its run", logx.String("trigger", triggerID))
			return
		}
		c.log.Error("deactivate one-off trigger failed", logx.String("trigger", triggerID), logx.Err(err))
		return
	}
	c.log.Info("one-off trigger deactivated", logx.String("trigger", triggerID))
	c.sink.Publish(EventDeactivated, DeactivatedEvent{TriggerID: triggerID})
}
