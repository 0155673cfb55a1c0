package identity

import (
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
)

// Resolver derives the acting principal from an authenticated session.
// It has no side effects and no stores; all facts come from the session.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the principal for a validated session.
//
// Fails with unauthenticated when the session is absent or malformed, and
// with tenant_missing when a non-admin principal carries no tenant. The
// latter is a configuration error surfaced as 403, never retried.
func (r *Resolver) Resolve(session *Session) (Principal, error) {
	if session == nil {
		return Principal{}, dErrors.New(dErrors.CodeUnauthenticated, "no valid session")
	}

	principalID, err := id.ParsePrincipalID(session.PrincipalID)
	if err != nil {
		return Principal{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "session carries no valid principal id")
	}

	role, err := id.ParseRole(session.Role)
	if err != nil {
		return Principal{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "session carries no valid role")
	}

	var tenantID id.TenantID
	if session.TenantID != "" {
		tenantID, err = id.ParseTenantID(session.TenantID)
		if err != nil {
			return Principal{}, dErrors.Wrap(err, dErrors.CodeUnauthenticated, "session carries a malformed tenant id")
		}
	}

	if role != id.RoleAdmin && tenantID.IsNil() {
		return Principal{}, dErrors.New(dErrors.CodeTenantMissing, "principal has no tenant assigned")
	}

	return Principal{
		ID:       principalID,
		TenantID: tenantID,
		Role:     role,
	}, nil
}
