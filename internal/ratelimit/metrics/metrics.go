package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks rate limiter outcomes.
type Metrics struct {
	AllowedTotal     prometheus.Counter
	ThrottledTotal   prometheus.Counter
	CheckErrorsTotal prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		AllowedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_ratelimit_allowed_total",
			Help: "Total requests that passed the rate limiter",
		}),
		ThrottledTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_ratelimit_throttled_total",
			Help: "Total requests rejected with 429",
		}),
		CheckErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartop_ratelimit_check_errors_total",
			Help: "Total limit checks that failed and fell open",
		}),
	}
}
