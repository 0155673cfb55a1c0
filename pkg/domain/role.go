package domain

import dErrors "smartop/pkg/domain-errors"

// Role is a principal's primary role. Exactly one per principal.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
)

// ParseRole validates a role string from an external source (token claims,
// persisted rows).
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleManager, RoleOperator:
		return Role(s), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown role %q", s)
	}
}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleOperator:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
