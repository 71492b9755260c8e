package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	// Cycles counts select-and-apply cycles, including the final empty one.
	Cycles prometheus.Counter

	// Firings counts rule applications by rule name.
	Firings *prometheus.CounterVec

	// MatchSteps counts matcher steps.
	MatchSteps prometheus.Counter

	// Reclaimed counts objects reclaimed by collections between cycles.
	Reclaimed prometheus.Counter

	// Halts counts finished runs by terminal state.
	Halts *prometheus.CounterVec

	// RunDuration observes wall-clock run duration in seconds.
	RunDuration prometheus.Histogram
}

// NewMetrics registers the scheduler collectors with reg. Each engine that
// should report separately needs its own registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "symspace",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Total scheduler cycles",
		}),
		Firings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symspace",
			Subsystem: "engine",
			Name:      "firings_total",
			Help:      "Total rule firings by rule",
		}, []string{"rule"}),
		MatchSteps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "symspace",
			Subsystem: "engine",
			Name:      "match_steps_total",
			Help:      "Total matcher search steps",
		}),
		Reclaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "symspace",
			Subsystem: "engine",
			Name:      "gc_reclaimed_total",
			Help:      "Total objects reclaimed by garbage collection",
		}),
		Halts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symspace",
			Subsystem: "engine",
			Name:      "halts_total",
			Help:      "Total finished runs by terminal state",
		}, []string{"state"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "symspace",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "RunSystem wall-clock duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}
