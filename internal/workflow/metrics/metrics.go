package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the workflow module. Tracks transition
// outcomes and the critical-path latency of the coordinator.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionsFailed  *prometheus.CounterVec
	TransitionDuration prometheus.Histogram
	LockTimeouts       prometheus.Counter
	VersionConflicts   prometheus.Counter
}

// New creates a new Metrics instance with all workflow module metrics registered.
func New() *Metrics {
	return &Metrics{
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_workflow_transitions_total",
			Help: "Successful workflow transitions by entity kind and new status",
		}, []string{"kind", "status"}),
		TransitionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_workflow_transitions_failed_total",
			Help: "Failed workflow transitions by error code",
		}, []string{"code"}),
		TransitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartop_workflow_transition_duration_seconds",
			Help:    "Duration of coordinator transitions (lock to dispatch)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_workflow_lock_timeouts_total",
			Help: "Transitions aborted because the per-entity lock timed out",
		}),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_workflow_version_conflicts_total",
			Help: "Optimistic concurrency conflicts observed by the coordinator",
		}),
	}
}

// ObserveTransition records a successful transition and its duration.
func (m *Metrics) ObserveTransition(kind, status string, start time.Time) {
	m.TransitionsTotal.WithLabelValues(kind, status).Inc()
	m.TransitionDuration.Observe(time.Since(start).Seconds())
}

// IncrementFailed records a failed transition by error code.
func (m *Metrics) IncrementFailed(code string) {
	m.TransitionsFailed.WithLabelValues(code).Inc()
}
