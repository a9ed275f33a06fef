package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Notification delivery outcomes.
const (
	OutcomePublished    = "published"
	OutcomeRetry        = "retry"
	OutcomeDeadLettered = "dead_lettered"
)

// NotificationMetrics tracks lifecycle notifications relayed from the outbox.
type NotificationMetrics struct {
	deliveries *prometheus.CounterVec
	lag        prometheus.Histogram
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Outbox rows handled by the notification relay, by outcome.",
	}, []string{"event_type", "outcome"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "notification_lag_seconds",
		Help:      "Delay between a transition being recorded and its notification being published.",
		Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900},
	})
	reg.MustRegister(deliveries, lag)
	return &NotificationMetrics{deliveries: deliveries, lag: lag}
}

func (m *NotificationMetrics) IncDelivery(eventType, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveLag records the age of a row at the moment it was published.
func (m *NotificationMetrics) ObserveLag(recordedAt, publishedAt time.Time) {
	if m == nil || m.lag == nil || recordedAt.IsZero() {
		return
	}
	lag := publishedAt.Sub(recordedAt)
	if lag < 0 {
		lag = 0
	}
	m.lag.Observe(lag.Seconds())
}
