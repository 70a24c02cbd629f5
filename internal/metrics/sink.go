package metrics

import "time"

// Sink records operational metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Claim client
	ClaimAttempt(category string, latency time.Duration)

	// Worker pool
	PoolInFlight(n int)
	PoolWaiting(n int)

	// Scheduler
	TriggerFired(mode string)
	TriggersArmed(n int)

	// Coordinator
	RunCompleted(strategy string, succeeded bool, duration time.Duration)

	// Notifier
	NotificationDelivered(channel string, ok bool)
	NotificationDropped(reason string)
}

// Run outcome labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

func outcomeLabel(ok bool) string {
	if ok {
		return OutcomeSucceeded
	}
	return OutcomeFailed
}
