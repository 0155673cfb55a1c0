package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the dispatch module. Tracks queue
// throughput, retries, and the delivery fate of work items.
type Metrics struct {
	EnqueuedTotal     *prometheus.CounterVec
	DeliveredTotal    *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	DeadLetteredTotal *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
}

// New creates a new Metrics instance with all dispatch module metrics registered.
func New() *Metrics {
	return &Metrics{
		EnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_dispatch_enqueued_total",
			Help: "Work items enqueued by queue class and kind",
		}, []string{"queue", "kind"}),
		DeliveredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_dispatch_delivered_total",
			Help: "Work items delivered by queue class and kind",
		}, []string{"queue", "kind"}),
		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_dispatch_retries_total",
			Help: "Work item retries scheduled by queue class and kind",
		}, []string{"queue", "kind"}),
		DeadLetteredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_dispatch_dead_lettered_total",
			Help: "Work items moved to the dead-letter state by queue class and kind",
		}, []string{"queue", "kind"}),
		DeliveryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartop_dispatch_delivery_duration_seconds",
			Help:    "Duration of a single work item delivery attempt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"queue", "kind"}),
	}
}

// ObserveDelivery records a successful delivery and its duration.
func (m *Metrics) ObserveDelivery(queue, kind string, start time.Time) {
	m.DeliveredTotal.WithLabelValues(queue, kind).Inc()
	m.DeliveryDuration.WithLabelValues(queue, kind).Observe(time.Since(start).Seconds())
}
