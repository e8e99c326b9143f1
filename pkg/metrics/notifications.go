package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery stages reported on failure.
const (
	StagePersist = "persist"
	StagePublish = "publish"
	StageEnqueue = "enqueue"
)

// NotificationMetrics records dispatcher delivery and retry outcomes.
type NotificationMetrics struct {
	delivered     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	deadLettered  prometheus.Counter
	queueDepth    prometheus.Gauge
	sweepDuration prometheus.Histogram
}

// NewNotificationMetrics registers the dispatcher metrics on the provided registerer.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Notifications persisted and published, by attempt number.",
	}, []string{"attempt"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Failed notification delivery attempts by stage.",
	}, []string{"stage"})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dead_lettered_total",
		Help: "Notifications dropped after exhausting their attempts.",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifications_retry_queue_depth",
		Help: "Notifications waiting for redelivery after the last sweep.",
	})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notifications_retry_sweep_duration_seconds",
		Help:    "Duration of retry sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(delivered, failed, deadLettered, queueDepth, sweepDuration)
	return &NotificationMetrics{
		delivered:     delivered,
		failed:        failed,
		deadLettered:  deadLettered,
		queueDepth:    queueDepth,
		sweepDuration: sweepDuration,
	}
}

func (m *NotificationMetrics) IncDelivered(attempt int) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(attemptLabel(attempt)).Inc()
}

func (m *NotificationMetrics) IncFailed(stage string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *NotificationMetrics) IncDeadLettered() {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.Inc()
}

func (m *NotificationMetrics) SetQueueDepth(depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *NotificationMetrics) ObserveSweep(duration time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

func attemptLabel(attempt int) string {
	switch {
	case attempt <= 1:
		return "first"
	case attempt == 2:
		return "second"
	default:
		return "later"
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
