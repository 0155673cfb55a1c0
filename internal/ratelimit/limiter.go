package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"smartop/internal/platform/config"
	rlmetrics "smartop/internal/ratelimit/metrics"
)

// Result is the outcome of one limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is seconds until the window frees up, set only on denial.
	RetryAfter int
}

// Store counts requests per key over a sliding window. Allow records the
// request when it fits and reports the window state either way.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Limiter applies a uniform per-caller request limit. A non-positive limit
// disables it entirely.
type Limiter struct {
	store   Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *rlmetrics.Metrics
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *rlmetrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func New(store Store, cfg config.RateLimitConfig, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  cfg.RequestsPerWindow,
		window: cfg.Window,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if !l.Enabled() {
		logger.Info("rate limiting disabled")
	}
	return l
}

// Enabled reports whether the limiter does anything at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0 && l.window > 0
}

// Check records one request against the caller's window.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	result, err := l.store.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		if l.metrics != nil {
			l.metrics.CheckErrorsTotal.Inc()
		}
		return nil, err
	}
	if l.metrics != nil {
		if result.Allowed {
			l.metrics.AllowedTotal.Inc()
		} else {
			l.metrics.ThrottledTotal.Inc()
		}
	}
	return result, nil
}
