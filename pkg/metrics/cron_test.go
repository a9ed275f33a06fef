package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsCountsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.now = func() time.Time { return time.Unix(1_780_000_000, 0) }

	m.RecordRun("subscription-lifecycle", 2*time.Second, nil)
	m.RecordRun("subscription-lifecycle", time.Second, errors.New("db down"))
	m.RecordRun("", time.Second, nil)
	m.RecordSkipped("usage-recalculate")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("subscription-lifecycle", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("subscription-lifecycle", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("usage-recalculate", ResultSkipped)))
	assert.Equal(t, 1_780_000_000.0, testutil.ToFloat64(m.lastSuccess.WithLabelValues("subscription-lifecycle")))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "entitlements_job_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if metric.GetLabel()[0].GetValue() == "subscription-lifecycle" {
				assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
				assert.Equal(t, 3.0, metric.GetHistogram().GetSampleSum())
				return
			}
		}
	}
	t.Fatal("duration histogram for subscription-lifecycle not found")
}

func TestCronJobMetricsWithoutRegistererIsNoop(t *testing.T) {
	m := NewCronJobMetrics(nil)
	m.RecordRun("job", time.Second, nil)
	m.RecordSkipped("job")

	var nilMetrics *CronJobMetrics
	nilMetrics.RecordRun("job", time.Second, errors.New("x"))
	nilMetrics.RecordSkipped("job")
}
