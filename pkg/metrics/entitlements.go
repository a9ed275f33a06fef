package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EntitlementMetrics tracks what the sweeps and the counter path change.
type EntitlementMetrics struct {
	transitions   *prometheus.CounterVec
	adjustments   *prometheus.CounterVec
	drift         *prometheus.HistogramVec
	deltaFailures *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// NewEntitlementMetrics registers the entitlement metrics. A nil registerer
// yields a no-op recorder.
func NewEntitlementMetrics(reg prometheus.Registerer) *EntitlementMetrics {
	if reg == nil {
		return &EntitlementMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_transitions_total",
		Help:      "Lifecycle transitions applied by the lifecycle sweep.",
	}, []string{"from", "to"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_counter_adjustments_total",
		Help:      "Usage counters rewritten with a different value by recalculation.",
	}, []string{"resource"})
	drift := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "usage_counter_drift",
		Help:      "Absolute difference between cached and counted usage at recalculation.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	}, []string{"resource"})
	deltaFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_delta_failures_total",
		Help:      "Best-effort counter deltas that could not be applied.",
	}, []string{"resource"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_cache_lookups_total",
		Help:      "Plan catalog cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(transitions, adjustments, drift, deltaFailures, cacheLookups)
	return &EntitlementMetrics{
		transitions:   transitions,
		adjustments:   adjustments,
		drift:         drift,
		deltaFailures: deltaFailures,
		cacheLookups:  cacheLookups,
	}
}

func (m *EntitlementMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// ObserveAdjustment records a recalculated counter that disagreed with the cache.
func (m *EntitlementMetrics) ObserveAdjustment(resource string, drift int64) {
	if m == nil || m.adjustments == nil {
		return
	}
	if drift < 0 {
		drift = -drift
	}
	m.adjustments.WithLabelValues(normalizeLabel(resource)).Inc()
	m.drift.WithLabelValues(normalizeLabel(resource)).Observe(float64(drift))
}

func (m *EntitlementMetrics) IncDeltaFailure(resource string) {
	if m == nil || m.deltaFailures == nil {
		return
	}
	m.deltaFailures.WithLabelValues(normalizeLabel(resource)).Inc()
}

func (m *EntitlementMetrics) ObserveCacheLookup(hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
