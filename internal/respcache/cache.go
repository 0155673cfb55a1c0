package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"smartop/internal/platform/config"
	cmetrics "smartop/internal/respcache/metrics"
)

// Entry is one cached response.
type Entry struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store persists cache entries keyed by opaque hash, with tag sets for
// event-driven invalidation. Get returns sentinel.ErrNotFound on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration, tags []string) error
	InvalidateTag(ctx context.Context, tag string) error
}

// Key derives the cache key. Tenant and user are both part of the key so one
// principal's personalized view can never leak to another.
func Key(path, normalizedQuery, tenantID, userID string) string {
	sum := sha256.Sum256([]byte(path + "\x00" + normalizedQuery + "\x00" + tenantID + "\x00" + userID))
	return hex.EncodeToString(sum[:])
}

// Tag names the invalidation group for one resource class within a tenant.
func Tag(tenantID, resourceClass string) string {
	return "tenant:" + tenantID + ":class:" + resourceClass
}

// resourceClassesByRoute ties each cacheable route to the resource classes
// whose transitions make its responses stale.
var resourceClassesByRoute = map[string][]string{
	"/control-lists": {"control_list"},
	"/work-sessions": {"work_session"},
	"/machines":      {"work_session"},
	"/dashboard":     {"control_list", "work_session"},
}

// Engine decides what is cacheable and talks to the store. TTL is only the
// fallback upper bound; the primary invalidation path is event-driven.
type Engine struct {
	store        Store
	ttl          time.Duration
	maxBodyBytes int
	routes       []string
	logger       *slog.Logger
	metrics      *cmetrics.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *cmetrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store Store, cfg config.CacheConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		ttl:          cfg.DefaultTTL,
		maxBodyBytes: cfg.MaxBodyBytes,
		routes:       cfg.CacheableRoutes,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CacheableRoute returns the allow-listed route a path belongs to, or false
// when the path is not cacheable at all.
func (e *Engine) CacheableRoute(path string) (string, bool) {
	for _, route := range e.routes {
		if path == route || strings.HasPrefix(path, route+"/") {
			return route, true
		}
	}
	return "", false
}

// Lookup fetches a cached response. Store failures degrade to a miss.
func (e *Engine) Lookup(ctx context.Context, route, key string) (*Entry, bool) {
	entry, err := e.store.Get(ctx, key)
	if err != nil {
		if e.metrics != nil {
			e.metrics.MissesTotal.WithLabelValues(route).Inc()
		}
		return nil, false
	}
	if e.metrics != nil {
		e.metrics.HitsTotal.WithLabelValues(route).Inc()
	}
	return entry, true
}

// Save stores a response under the route's invalidation tags.
func (e *Engine) Save(ctx context.Context, route, key, tenantID string, entry *Entry) {
	tags := make([]string, 0, 2)
	for _, class := range resourceClassesByRoute[route] {
		tags = append(tags, Tag(tenantID, class))
	}
	if err := e.store.Set(ctx, key, entry, e.ttl, tags); err != nil {
		if e.metrics != nil {
			e.metrics.StoreErrorsTotal.Inc()
		}
		e.logger.WarnContext(ctx, "cache store failed", "route", route, "error", err)
	}
}

// Invalidate drops every cached response tagged with the given tenant and
// resource class. Called by the dispatch invalidation consumer after each
// transition, well before TTL expiry.
func (e *Engine) Invalidate(ctx context.Context, tenantID, resourceClass string) error {
	if err := e.store.InvalidateTag(ctx, Tag(tenantID, resourceClass)); err != nil {
		if e.metrics != nil {
			e.metrics.StoreErrorsTotal.Inc()
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.InvalidationsTotal.Inc()
	}
	return nil
}

func (e *Engine) skip(reason string) {
	if e.metrics != nil {
		e.metrics.SkipsTotal.WithLabelValues(reason).Inc()
	}
}
