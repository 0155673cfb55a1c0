package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the response cache layer.
type Metrics struct {
	HitsTotal          *prometheus.CounterVec
	MissesTotal        *prometheus.CounterVec
	SkipsTotal         *prometheus.CounterVec
	InvalidationsTotal prometheus.Counter
	StoreErrorsTotal   prometheus.Counter
}

// New creates a new Metrics instance with all cache metrics registered.
func New() *Metrics {
	return &Metrics{
		HitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_respcache_hits_total",
			Help: "Responses served from cache by route",
		}, []string{"route"}),
		MissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_respcache_misses_total",
			Help: "Cacheable requests that fell through to the handler by route",
		}, []string{"route"}),
		SkipsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartop_respcache_skips_total",
			Help: "Responses not stored after a miss, by reason",
		}, []string{"reason"}),
		InvalidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_respcache_invalidations_total",
			Help: "Event-driven tag invalidations applied",
		}),
		StoreErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_respcache_store_errors_total",
			Help: "Cache store failures (cache is bypassed, never fatal)",
		}),
	}
}
