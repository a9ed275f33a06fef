package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNotificationMetrics(reg)

	m.IncDelivery("subscription_expired", OutcomePublished)
	m.IncDelivery("subscription_expired", OutcomePublished)
	m.IncDelivery("", OutcomeDeadLettered)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("subscription_expired", OutcomePublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("unknown", OutcomeDeadLettered)))
}

func TestNotificationLagIgnoresZeroAndClampsNegative(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNotificationMetrics(reg)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	m.ObserveLag(time.Time{}, now)
	m.ObserveLag(now.Add(time.Minute), now)
	m.ObserveLag(now.Add(-30*time.Second), now)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	hist := families[0].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 30.0, hist.GetSampleSum(), 0.001)
}

func TestNilNotificationMetricsAreNoops(t *testing.T) {
	var m *NotificationMetrics
	m.IncDelivery("x", OutcomeRetry)
	m.ObserveLag(time.Now(), time.Now())
	NewNotificationMetrics(nil).IncDelivery("x", OutcomeRetry)
}
