// Package identity resolves the acting principal's tenant and role from an
// authenticated session. Every other module receives this context explicitly;
// nothing reads actor state from globals.
package identity

import (
	id "smartop/pkg/domain"
)

// Principal is an authenticated actor with exactly one primary role and,
// unless it is a global admin, a tenant.
//
// Invariant: a non-admin principal's TenantID must equal the tenant of any
// resource it acts upon. The policy engine enforces this; Principal itself
// only carries the facts.
type Principal struct {
	ID       id.PrincipalID
	TenantID id.TenantID // nil UUID for global admins only
	Role     id.Role
}

// IsAdmin reports whether the principal is a global admin (superuser).
func (p Principal) IsAdmin() bool { return p.Role == id.RoleAdmin }

// Session is the authenticated-session shape handed in by the transport
// layer after token validation. Token issuance is an external collaborator.
type Session struct {
	PrincipalID string
	TenantID    string // empty for global admins
	Role        string
}
