package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns the engine's prometheus collectors. The registerer is
// injected so process lifecycle, not package init, decides registration.
type Metrics struct {
	attempts   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "togglectl",
				Subsystem: "engine",
				Name:      "attempts_total",
				Help:      "Command transmission attempts by terminal attempt outcome.",
			},
			[]string{"device", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "togglectl",
				Subsystem: "engine",
				Name:      "attempt_duration_seconds",
				Help:      "Attempt duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"device", "outcome"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "togglectl",
				Subsystem: "engine",
				Name:      "queue_depth",
				Help:      "Commands currently buffered per device.",
			},
			[]string{"device"},
		),
	}
	reg.MustRegister(m.attempts, m.duration, m.queueDepth)
	return m
}

func (m *Metrics) Observe(ev AttemptEvent) {
	m.attempts.WithLabelValues(ev.DeviceID, ev.Outcome).Inc()
	m.duration.WithLabelValues(ev.DeviceID, ev.Outcome).Observe(ev.Elapsed.Seconds())
}

func (m *Metrics) RecordQueueDepth(deviceID string, depth int) {
	m.queueDepth.WithLabelValues(deviceID).Set(float64(depth))
}
