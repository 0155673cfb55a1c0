package respcache

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	id "smartop/pkg/domain"
	"smartop/pkg/requestcontext"
)

// Middleware serves allow-listed GET responses from cache. Write methods are
// never touched; responses carrying no-store semantics or exceeding the body
// ceiling pass through uncached.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := e.CacheableRoute(r.URL.Path)
		if r.Method != http.MethodGet || !ok {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := addressedTenant(r)
		userID := requestcontext.PrincipalID(r.Context()).String()
		key := Key(r.URL.Path, r.URL.Query().Encode(), tenantID, userID)

		if entry, hit := e.Lookup(r.Context(), route, key); hit {
			if entry.ContentType != "" {
				w.Header().Set("Content-Type", entry.ContentType)
			}
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(entry.Status)
			_, _ = w.Write(entry.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK, limit: e.maxBodyBytes}
		next.ServeHTTP(rec, r)

		switch {
		case rec.status != http.StatusOK:
			e.skip("status")
		case rec.overflow:
			e.skip("size")
		case noStore(rec.Header()):
			e.skip("no_store")
		default:
			e.Save(r.Context(), route, key, tenantID, &Entry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.buf.Bytes(),
				StoredAt:    time.Now().UTC(),
			})
		}
	})
}

// addressedTenant resolves the tenant whose data the response holds. Tenanted
// principals read their own tenant; admins name one in the tenant_id query
// parameter, and the entry must be tagged under that tenant or its
// invalidation events would never reach it.
func addressedTenant(r *http.Request) string {
	if t := requestcontext.TenantID(r.Context()); !t.IsNil() {
		return t.String()
	}
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		if tenantID, err := id.ParseTenantID(raw); err == nil {
			return tenantID.String()
		}
	}
	return ""
}

func noStore(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Cache-Control")), "no-store")
}

// responseRecorder tees the response body up to limit bytes while writing
// through to the client.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
	limit       int
	overflow    bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if !r.overflow {
		if r.buf.Len()+len(p) > r.limit {
			r.overflow = true
			r.buf.Reset()
		} else {
			r.buf.Write(p)
		}
	}
	return r.ResponseWriter.Write(p)
}
