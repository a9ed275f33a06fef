package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "entitlements"

// Results a scheduled job run can end with.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// CronJobMetrics covers the scheduled sweeps. The last-success gauge lets an
// alert fire when the daily lifecycle sweep stops completing.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by result; skipped means another instance held the lock.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of scheduled job runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time the job last completed without error.",
		}, []string{"job"}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// RecordRun counts a finished run; a nil err is a success.
func (m *CronJobMetrics) RecordRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, ResultFailure).Inc()
		return
	}
	m.runs.WithLabelValues(job, ResultSuccess).Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(m.now().Unix()))
}

func (m *CronJobMetrics) RecordSkipped(job string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(job), ResultSkipped).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
