package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"smartop/pkg/requestcontext"
)

// RequestMetadata copies the chi request ID, client IP, User-Agent, and a
// request-scoped timestamp into the request context so services can read them
// without importing net/http.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithRequestID(ctx, reqID)
		}
		ctx = requestcontext.WithClientMetadata(ctx, clientIP(r), r.UserAgent())
		ctx = requestcontext.WithTime(ctx, time.Now())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
