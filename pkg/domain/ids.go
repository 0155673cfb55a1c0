// Package domain holds identifier and enumeration types shared across modules.
// Typed UUIDs keep tenant, principal, and entity identifiers from being mixed
// up at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "smartop/pkg/domain-errors"
)

type (
	// TenantID identifies a company; every workflow record is scoped to one.
	TenantID uuid.UUID

	// PrincipalID identifies an authenticated actor.
	PrincipalID uuid.UUID

	// EntityID identifies a workflow entity (control list or work session).
	EntityID uuid.UUID

	// WorkItemID identifies a queued unit of asynchronous work.
	WorkItemID uuid.UUID
)

func (id TenantID) String() string    { return uuid.UUID(id).String() }
func (id PrincipalID) String() string { return uuid.UUID(id).String() }
func (id EntityID) String() string    { return uuid.UUID(id).String() }
func (id WorkItemID) String() string  { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PrincipalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntityID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Defined types do not inherit uuid.UUID's marshaling, so each ID implements
// encoding.TextMarshaler/TextUnmarshaler to keep JSON and logs readable.

func (id TenantID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id PrincipalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EntityID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id WorkItemID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = TenantID(u)
	return nil
}

func (id *PrincipalID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PrincipalID(u)
	return nil
}

func (id *EntityID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EntityID(u)
	return nil
}

func (id *WorkItemID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = WorkItemID(u)
	return nil
}

// parseUUID enforces the invariant that IDs must be valid, non-nil UUIDs.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", kind)
	}
	return u, nil
}

// ParseTenantID parses and validates a tenant ID string.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant id")
	return TenantID(u), err
}

// ParsePrincipalID parses and validates a principal ID string.
func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID(s, "principal id")
	return PrincipalID(u), err
}

// ParseEntityID parses and validates a workflow entity ID string.
func ParseEntityID(s string) (EntityID, error) {
	u, err := parseUUID(s, "entity id")
	return EntityID(u), err
}

// NewTenantID returns a freshly generated tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewPrincipalID returns a freshly generated principal ID.
func NewPrincipalID() PrincipalID { return PrincipalID(uuid.New()) }

// NewEntityID returns a freshly generated entity ID.
func NewEntityID() EntityID { return EntityID(uuid.New()) }

// NewWorkItemID returns a freshly generated work item ID.
func NewWorkItemID() WorkItemID { return WorkItemID(uuid.New()) }
