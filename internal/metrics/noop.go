package metrics

import "time"

// NoopSink is used when metrics are disabled and in tests.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) ClaimAttempt(string, time.Duration)       {}
func (NoopSink) PoolInFlight(int)                         {}
func (NoopSink) PoolWaiting(int)                          {}
func (NoopSink) TriggerFired(string)                      {}
func (NoopSink) TriggersArmed(int)                        {}
func (NoopSink) RunCompleted(string, bool, time.Duration) {}
func (NoopSink) NotificationDelivered(string, bool)       {}
func (NoopSink) NotificationDropped(string)               {}
