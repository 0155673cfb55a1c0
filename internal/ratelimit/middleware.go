package ratelimit

import (
	"net/http"
	"strconv"

	"smartop/pkg/platform/httputil"
	"smartop/pkg/requestcontext"
)

// Middleware throttles authenticated traffic per principal. Requests that
// somehow carry no principal fall back to the client IP. A failing store
// fails open so a limiter outage never takes the API down with it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := "principal:" + requestcontext.PrincipalID(ctx).String()
		if requestcontext.PrincipalID(ctx).IsNil() {
			key = "ip:" + requestcontext.ClientIP(ctx)
		}

		result, err := l.Check(ctx, key)
		if err != nil {
			l.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "rate_limit_exceeded",
				"error_description": "too many requests, slow down",
				"retry_after":       result.RetryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
