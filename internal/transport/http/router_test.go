package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartop/internal/identity"
	jwttoken "smartop/internal/jwt_token"
	"smartop/internal/platform/config"
	"smartop/internal/policy"
	"smartop/internal/ratelimit"
	"smartop/internal/respcache"
	wfhandler "smartop/internal/workflow/handler"
	"smartop/internal/workflow/machine"
	"smartop/internal/workflow/models"
	"smartop/internal/workflow/service"
	"smartop/internal/workflow/store"
)

type nopSink struct{}

func (nopSink) Enqueue(context.Context, models.DomainEvent) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *jwttoken.JWTService) {
	t.Helper()
	return newTestRouterWithLimit(t, 0)
}

func newTestRouterWithLimit(t *testing.T, requestsPerMinute int) (http.Handler, *jwttoken.JWTService) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	jwtService := jwttoken.NewJWTService("router-test-key", "smartop-test")

	memStore := store.NewMemoryStore()
	policies := policy.New()
	svc := service.New(memStore, policies, logger)
	coordinator := service.NewCoordinator(memStore, machine.New(policies), nopSink{}, logger)

	cacheCfg := config.CacheConfig{
		DefaultTTL:      time.Minute,
		MaxBodyBytes:    1 << 20,
		CacheableRoutes: []string{"/control-lists", "/work-sessions"},
	}

	router := NewRouter(Dependencies{
		Logger:    logger,
		Validator: jwtService,
		Resolver:  identity.NewResolver(),
		Workflow:  wfhandler.New(svc, coordinator, logger),
		Cache:     respcache.NewEngine(respcache.NewMemoryStore(), cacheCfg, logger),
		Limiter: ratelimit.New(ratelimit.NewMemoryStore(),
			config.RateLimitConfig{RequestsPerWindow: requestsPerMinute, Window: time.Minute}, logger),
	})
	return router, jwtService
}

func bearer(t *testing.T, svc *jwttoken.JWTService, tenantID, role string) string {
	t.Helper()
	token, err := svc.GenerateAccessToken(uuid.New(), tenantID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter_HealthzIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MetricsIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RejectsMissingToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control-lists", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RejectsGarbageToken(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/control-lists", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RejectsTenantlessOperator(t *testing.T) {
	router, jwtService := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/control-lists", nil)
	req.Header.Set("Authorization", bearer(t, jwtService, "", "operator"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_ThrottlesAuthenticatedTraffic(t *testing.T) {
	router, jwtService := newTestRouterWithLimit(t, 2)
	auth := bearer(t, jwtService, uuid.NewString(), "manager")

	list := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/work-sessions", nil)
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, list().Code)
	require.Equal(t, http.StatusOK, list().Code)

	third := list()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	// Another principal keeps its own budget.
	req := httptest.NewRequest(http.MethodGet, "/work-sessions", nil)
	req.Header.Set("Authorization", bearer(t, jwtService, uuid.NewString(), "manager"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AuthenticatedListAndCache(t *testing.T) {
	router, jwtService := newTestRouter(t)
	auth := bearer(t, jwtService, uuid.NewString(), "manager")

	list := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/control-lists", nil)
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := list()
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var resp struct {
		Items []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.NewDecoder(first.Body).Decode(&resp))
	assert.Empty(t, resp.Items)

	second := list()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
}
