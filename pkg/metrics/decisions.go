package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics records approval decisions by outcome.
type DecisionMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewDecisionMetrics(reg prometheus.Registerer) *DecisionMetrics {
	if reg == nil {
		return &DecisionMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_decisions_total",
		Help: "Report approval decisions by decision and outcome code.",
	}, []string{"decision", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_decision_duration_seconds",
		Help:    "Time spent applying a report decision.",
		Buckets: prometheus.DefBuckets,
	}, []string{"decision"})
	reg.MustRegister(total, duration)
	return &DecisionMetrics{total: total, duration: duration}
}

// Observe records one decide call. outcome is "ok" or an error code.
func (m *DecisionMetrics) Observe(decision, outcome string, duration time.Duration) {
	if m == nil || m.total == nil {
		return
	}
	decision = normalizeLabel(decision)
	m.total.WithLabelValues(decision, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(decision).Observe(duration.Seconds())
}
