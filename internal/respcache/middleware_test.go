package respcache

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartop/internal/platform/config"
	id "smartop/pkg/domain"
	"smartop/pkg/requestcontext"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		DefaultTTL:      5 * time.Minute,
		MaxBodyBytes:    1 << 20,
		CacheableRoutes: []string{"/machines", "/dashboard", "/control-lists", "/work-sessions"},
	}
}

type countingHandler struct {
	calls atomic.Int64
	body  func() string
	write func(w http.ResponseWriter)
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls.Add(1)
	if h.write != nil {
		h.write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(h.body()))
}

func doRequest(t *testing.T, handler http.Handler, method, target string, tenant id.TenantID, user id.PrincipalID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	ctx := requestcontext.WithTenantID(req.Context(), tenant)
	ctx = requestcontext.WithPrincipalID(ctx, user)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestMiddleware_ServesSecondReadFromCache(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{body: func() string { return `{"rows":1}` }}
	handler := engine.Middleware(backend)
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	first := doRequest(t, handler, http.MethodGet, "/control-lists", tenant, user)
	second := doRequest(t, handler, http.MethodGet, "/control-lists", tenant, user)

	assert.Equal(t, int64(1), backend.calls.Load())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddleware_KeyIsolatesTenantsAndUsers(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{body: func() string { return `{}` }}
	handler := engine.Middleware(backend)

	tenantA, tenantB := id.NewTenantID(), id.NewTenantID()
	userA, userB := id.NewPrincipalID(), id.NewPrincipalID()

	doRequest(t, handler, http.MethodGet, "/dashboard", tenantA, userA)
	doRequest(t, handler, http.MethodGet, "/dashboard", tenantA, userB)
	doRequest(t, handler, http.MethodGet, "/dashboard", tenantB, userA)

	assert.Equal(t, int64(3), backend.calls.Load(), "each (tenant, user) pair computes its own entry")
}

func TestMiddleware_QueryIsPartOfTheKey(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{body: func() string { return `{}` }}
	handler := engine.Middleware(backend)
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	doRequest(t, handler, http.MethodGet, "/machines?status=active", tenant, user)
	doRequest(t, handler, http.MethodGet, "/machines?status=idle", tenant, user)
	// Same parameters in a different order normalize to the same key.
	doRequest(t, handler, http.MethodGet, "/machines?a=1&status=active", tenant, user)
	doRequest(t, handler, http.MethodGet, "/machines?status=active&a=1", tenant, user)

	assert.Equal(t, int64(3), backend.calls.Load())
}

func TestMiddleware_NeverCachesWrites(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{body: func() string { return `{}` }}
	handler := engine.Middleware(backend)
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	doRequest(t, handler, http.MethodPost, "/control-lists", tenant, user)
	doRequest(t, handler, http.MethodPost, "/control-lists", tenant, user)

	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestMiddleware_SkipsUnlistedRoutes(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{body: func() string { return `{}` }}
	handler := engine.Middleware(backend)
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	doRequest(t, handler, http.MethodGet, "/principals", tenant, user)
	doRequest(t, handler, http.MethodGet, "/principals", tenant, user)

	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestMiddleware_RespectsNoStore(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{write: func(w http.ResponseWriter) {
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(`{}`))
	}}
	handler := engine.Middleware(backend)
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	doRequest(t, handler, http.MethodGet, "/dashboard", tenant, user)
	doRequest(t, handler, http.MethodGet, "/dashboard", tenant, user)

	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestMiddleware_SkipsErrorAndOversizedResponses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	engine := NewEngine(NewMemoryStore(), cfg, slog.New(slog.DiscardHandler))
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	t.Run("non-200", func(t *testing.T) {
		backend := &countingHandler{write: func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
		}}
		handler := engine.Middleware(backend)
		doRequest(t, handler, http.MethodGet, "/machines", tenant, user)
		doRequest(t, handler, http.MethodGet, "/machines", tenant, user)
		assert.Equal(t, int64(2), backend.calls.Load())
	})

	t.Run("over the size ceiling", func(t *testing.T) {
		big := strings.Repeat("x", 128)
		backend := &countingHandler{body: func() string { return big }}
		handler := engine.Middleware(backend)
		first := doRequest(t, handler, http.MethodGet, "/work-sessions", tenant, user)
		doRequest(t, handler, http.MethodGet, "/work-sessions", tenant, user)
		assert.Equal(t, big, first.Body.String(), "the client still gets the full body")
		assert.Equal(t, int64(2), backend.calls.Load())
	})
}

// A transition invalidates the tenant's cached reads for the affected
// resource class immediately, without waiting for TTL.
func TestMiddleware_EventDrivenInvalidation(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	tenant, user := id.NewTenantID(), id.NewPrincipalID()
	otherTenant := id.NewTenantID()

	var mu sync.Mutex
	status := "pending"
	backend := &countingHandler{body: func() string {
		mu.Lock()
		defer mu.Unlock()
		return `{"status":"` + status + `"}`
	}}
	handler := engine.Middleware(backend)

	first := doRequest(t, handler, http.MethodGet, "/control-lists", tenant, user)
	doRequest(t, handler, http.MethodGet, "/control-lists", otherTenant, user)
	require.Contains(t, first.Body.String(), "pending")

	mu.Lock()
	status = "completed"
	mu.Unlock()
	require.NoError(t, engine.Invalidate(t.Context(), tenant.String(), "control_list"))

	after := doRequest(t, handler, http.MethodGet, "/control-lists", tenant, user)
	assert.Contains(t, after.Body.String(), "completed", "the read after the transition sees fresh state")
	assert.Equal(t, int64(3), backend.calls.Load())

	// Another tenant's entry is untouched.
	doRequest(t, handler, http.MethodGet, "/control-lists", otherTenant, user)
	assert.Equal(t, int64(3), backend.calls.Load())
}

// Admins carry no tenant of their own and address one through the query
// string; the cached entry must be tagged under that tenant so its
// transitions still evict it.
func TestMiddleware_AdminReadsInvalidatedByAddressedTenant(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	tenant := id.NewTenantID()
	admin := id.NewPrincipalID()

	var mu sync.Mutex
	status := "pending"
	backend := &countingHandler{body: func() string {
		mu.Lock()
		defer mu.Unlock()
		return `{"status":"` + status + `"}`
	}}
	handler := engine.Middleware(backend)
	target := "/dashboard?tenant_id=" + tenant.String()

	first := doRequest(t, handler, http.MethodGet, target, id.TenantID{}, admin)
	require.Contains(t, first.Body.String(), "pending")
	second := doRequest(t, handler, http.MethodGet, target, id.TenantID{}, admin)
	require.Equal(t, "HIT", second.Header().Get("X-Cache"))
	require.Equal(t, int64(1), backend.calls.Load())

	mu.Lock()
	status = "completed"
	mu.Unlock()
	require.NoError(t, engine.Invalidate(t.Context(), tenant.String(), "control_list"))

	after := doRequest(t, handler, http.MethodGet, target, id.TenantID{}, admin)
	assert.Contains(t, after.Body.String(), "completed", "the admin read after the transition sees fresh state")
	assert.Empty(t, after.Header().Get("X-Cache"))
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestMiddleware_DashboardInvalidatedByEitherClass(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), testConfig(), slog.New(slog.DiscardHandler))
	backend := &countingHandler{body: func() string { return `{}` }}
	handler := engine.Middleware(backend)
	tenant, user := id.NewTenantID(), id.NewPrincipalID()

	doRequest(t, handler, http.MethodGet, "/dashboard", tenant, user)
	require.NoError(t, engine.Invalidate(t.Context(), tenant.String(), "work_session"))
	doRequest(t, handler, http.MethodGet, "/dashboard", tenant, user)

	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestMemoryStore_TTLFallback(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	entry := &Entry{Status: 200, Body: []byte(`{}`), StoredAt: base}
	require.NoError(t, store.Set(t.Context(), "k", entry, 5*time.Minute, nil))

	_, err := store.Get(t.Context(), "k")
	require.NoError(t, err)

	mu.Lock()
	current = base.Add(6 * time.Minute)
	mu.Unlock()

	_, err = store.Get(t.Context(), "k")
	assert.Error(t, err)
}
