// Package metrics declares the scheduler's Prometheus instrumentation:
// validation failures by schema and direction, reservation outcomes,
// dispatch/retry/reject counts, and schedule-attempt latency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the scheduler registers.
type Metrics struct {
	ValidationFailures *prometheus.CounterVec
	ReservationAttempts *prometheus.CounterVec
	DispatchTotal       prometheus.Counter
	RetryTotal          prometheus.Counter
	RejectedTotal       *prometheus.CounterVec
	ScheduleLatency     prometheus.Histogram
}

// New constructs the metrics bundle and registers it against reg. Pass
// prometheus.NewRegistry() for tests that should not pollute the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcnet",
			Subsystem: "transport",
			Name:      "validation_failures_total",
			Help:      "Count of messages that failed schema validation, by schema and direction.",
		}, []string{"schema", "direction"}),

		ReservationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcnet",
			Subsystem: "scheduler",
			Name:      "reservation_attempts_total",
			Help:      "Count of reservation attempts, by outcome.",
		}, []string{"outcome"}),

		DispatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arcnet",
			Subsystem: "scheduler",
			Name:      "dispatch_total",
			Help:      "Count of successful dispatches.",
		}),

		RetryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arcnet",
			Subsystem: "scheduler",
			Name:      "retry_total",
			Help:      "Count of requests republished to the retry topic.",
		}),

		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcnet",
			Subsystem: "scheduler",
			Name:      "rejected_total",
			Help:      "Count of requests republished to the rejected topic, by reason.",
		}, []string{"reason"}),

		ScheduleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arcnet",
			Subsystem: "scheduler",
			Name:      "schedule_attempt_duration_seconds",
			Help:      "Time spent scoring and attempting reservation for one schedule attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ValidationFailures,
		m.ReservationAttempts,
		m.DispatchTotal,
		m.RetryTotal,
		m.RejectedTotal,
		m.ScheduleLatency,
	)

	return m
}
