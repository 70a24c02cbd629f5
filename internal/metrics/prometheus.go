package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "ticketd/pkg/logx"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	log logx.Logger

	claimAttempts *prometheus.CounterVec
	claimLatency  prometheus.Histogram

	poolInFlight prometheus.Gauge
	poolWaiting  prometheus.Gauge

	triggersFired *prometheus.CounterVec
	triggersArmed prometheus.Gauge

	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	notifications        *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log.With(logx.String("comp", "metrics"))}
	s.initClaimMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initNotifierMetrics(reg)
	return s
}

func (s *PrometheusSink) initClaimMetrics(reg prometheus.Registerer) {
	s.claimAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketd_claim_attempts_total",
		Help: "Claim attempts by result category.",
	}, []string{"category"})
	s.claimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticketd_claim_latency_seconds",
		Help:    "Upstream claim request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.poolInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ticketd_pool_in_flight",
		Help: "Claim attempts currently holding a pool slot.",
	})
	s.poolWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ticketd_pool_waiting",
		Help: "Submissions blocked waiting for a pool slot.",
	})

	s.register(reg, s.claimAttempts, "ticketd_claim_attempts_total")
	s.register(reg, s.claimLatency, "ticketd_claim_latency_seconds")
	s.register(reg, s.poolInFlight, "ticketd_pool_in_flight")
	s.register(reg, s.poolWaiting, "ticketd_pool_waiting")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.triggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketd_triggers_fired_total",
		Help: "Trigger fire events by mode (once, weekly).",
	}, []string{"mode"})
	s.triggersArmed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ticketd_triggers_armed",
		Help: "Triggers with a live timer or cron entry.",
	})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketd_runs_total",
		Help: "Acquisition runs by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticketd_run_duration_seconds",
		Help:    "Wall time of an acquisition run in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.triggersFired, "ticketd_triggers_fired_total")
	s.register(reg, s.triggersArmed, "ticketd_triggers_armed")
	s.register(reg, s.runsTotal, "ticketd_runs_total")
	s.register(reg, s.runDuration, "ticketd_run_duration_seconds")
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketd_notifications_total",
		Help: "Notification deliveries by channel and result.",
	}, []string{"channel", "result"})
	s.notificationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketd_notifications_dropped_total",
		Help: "Notifications dropped before delivery.",
	}, []string{"reason"})

	s.register(reg, s.notifications, "ticketd_notifications_total")
	s.register(reg, s.notificationsDropped, "ticketd_notifications_dropped_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		s.log.Warn("failed to register collector", logx.String("name", name), logx.Err(err))
	}
}

func (s *PrometheusSink) ClaimAttempt(category string, latency time.Duration) {
	s.claimAttempts.WithLabelValues(category).Inc()
	s.claimLatency.Observe(latency.Seconds())
}

func (s *PrometheusSink) PoolInFlight(n int) { s.poolInFlight.Set(float64(n)) }
func (s *PrometheusSink) PoolWaiting(n int)  { s.poolWaiting.Set(float64(n)) }

func (s *PrometheusSink) TriggerFired(mode string) { s.triggersFired.WithLabelValues(mode).Inc() }
func (s *PrometheusSink) TriggersArmed(n int)      { s.triggersArmed.Set(float64(n)) }

func (s *PrometheusSink) RunCompleted(strategy string, succeeded bool, d time.Duration) {
	s.runsTotal.WithLabelValues(strategy, outcomeLabel(succeeded)).Inc()
	s.runDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) NotificationDelivered(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	s.notifications.WithLabelValues(channel, result).Inc()
}

func (s *PrometheusSink) NotificationDropped(reason string) {
	s.notificationsDropped.WithLabelValues(reason).Inc()
}
