package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"smartop/internal/identity"
	jwttoken "smartop/internal/jwt_token"
	dErrors "smartop/pkg/domain-errors"
	"smartop/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

// RequireAuth validates the bearer token, resolves the acting principal, and
// threads it through the request context. Handlers and services read the
// principal from requestcontext, never from ambient state.
func RequireAuth(validator JWTValidator, resolver *identity.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or expired token")
				return
			}

			principal, err := resolver.Resolve(&identity.Session{
				PrincipalID: claims.PrincipalID,
				TenantID:    claims.TenantID,
				Role:        claims.Role,
			})
			if err != nil {
				status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
				logger.WarnContext(ctx, "principal resolution failed",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeAuthError(w, status, string(dErrors.CodeOf(err)), dErrors.MessageOf(err))
				return
			}

			ctx = requestcontext.WithPrincipalID(ctx, principal.ID)
			ctx = requestcontext.WithTenantID(ctx, principal.TenantID)
			ctx = requestcontext.WithRole(ctx, principal.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","error_description":"` + description + `"}`))
}
