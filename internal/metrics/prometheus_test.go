package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "ticketd/pkg/logx"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, logx.Nop()), reg
}

func TestPrometheusSink_ClaimAttempt(t *testing.T) {
	t.Parallel()
	sink, _ := newTestSink(t)

	sink.ClaimAttempt("success", 120*time.Millisecond)
	sink.ClaimAttempt("transport_failure", time.Second)
	sink.ClaimAttempt("transport_failure", time.Second)

	if got := testutil.ToFloat64(sink.claimAttempts.WithLabelValues("success")); got != 1 {
		t.Errorf("success attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.claimAttempts.WithLabelValues("transport_failure")); got != 2 {
		t.Errorf("transport_failure attempts = %v, want 2", got)
	}
}

func TestPrometheusSink_Gauges(t *testing.T) {
	t.Parallel()
	sink, _ := newTestSink(t)

	sink.PoolInFlight(7)
	sink.PoolWaiting(3)
	sink.TriggersArmed(4)

	if got := testutil.ToFloat64(sink.poolInFlight); got != 7 {
		t.Errorf("in flight = %v, want 7", got)
	}
	if got := testutil.ToFloat64(sink.poolWaiting); got != 3 {
		t.Errorf("waiting = %v, want 3", got)
	}
	if got := testutil.ToFloat64(sink.triggersArmed); got != 4 {
		t.Errorf("armed = %v, want 4", got)
	}
}

func TestPrometheusSink_RunsAndNotifications(t *testing.T) {
	t.Parallel()
	sink, _ := newTestSink(t)

	sink.RunCompleted("burst", true, 2*time.Second)
	sink.RunCompleted("burst", false, time.Second)
	sink.TriggerFired("once")
	sink.NotificationDelivered("telegram", false)
	sink.NotificationDropped("queue_full")

	if got := testutil.ToFloat64(sink.runsTotal.WithLabelValues("burst", OutcomeSucceeded)); got != 1 {
		t.Errorf("succeeded runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.runsTotal.WithLabelValues("burst", OutcomeFailed)); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.triggersFired.WithLabelValues("once")); got != 1 {
		t.Errorf("fired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.notifications.WithLabelValues("telegram", "error")); got != 1 {
		t.Errorf("telegram errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.notificationsDropped.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestPrometheusSink_DoubleRegistrationDoesNotPanic(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, logx.Nop())
	s := NewPrometheusSink(reg, logx.Nop())
	s.ClaimAttempt("success", time.Millisecond)
}

func TestNoopSinkSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var s Sink = NewNoopSink()
	s.ClaimAttempt("success", 0)
	s.RunCompleted("race", true, 0)
}
