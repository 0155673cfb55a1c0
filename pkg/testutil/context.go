package testutil

import (
	"net/http"

	id "smartop/pkg/domain"
	"smartop/pkg/requestcontext"
)

// WithPrincipal threads an authenticated principal through the request
// context, simulating what the auth middleware does for real requests.
func WithPrincipal(req *http.Request, principalID id.PrincipalID, tenantID id.TenantID, role id.Role) *http.Request {
	ctx := requestcontext.WithPrincipalID(req.Context(), principalID)
	ctx = requestcontext.WithTenantID(ctx, tenantID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

// WithRequestID stamps a request ID onto the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
