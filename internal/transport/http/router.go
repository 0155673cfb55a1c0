package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"smartop/internal/identity"
	"smartop/internal/notify"
	platformmw "smartop/internal/platform/middleware"
	"smartop/internal/ratelimit"
	"smartop/internal/respcache"
	wfhandler "smartop/internal/workflow/handler"
	"smartop/pkg/platform/httputil"
)

// Dependencies collects everything the router mounts. The router itself holds
// no business logic; it only orders middleware and delegates to handlers.
type Dependencies struct {
	Logger    *slog.Logger
	Validator platformmw.JWTValidator
	Resolver  *identity.Resolver
	Workflow  *wfhandler.Handler
	WS        *notify.WSHandler

	// Cache is optional; nil disables response caching.
	Cache *respcache.Engine
	// Limiter is optional; nil disables throttling.
	Limiter *ratelimit.Limiter
}

// NewRouter assembles the public HTTP surface. Health and metrics stay outside
// the authenticated group; every tenant-facing route goes through auth first,
// then the rate limiter and the response cache, so both key on a resolved
// principal.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(platformmw.RequestMetadata)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(platformmw.RequireAuth(deps.Validator, deps.Resolver, deps.Logger))
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		if deps.Cache != nil {
			r.Use(deps.Cache.Middleware)
		}

		deps.Workflow.Register(r)
		if deps.WS != nil {
			r.Get("/ws", deps.WS.ServeHTTP)
		}
	})

	return otelhttp.NewHandler(r, "smartop.http")
}
