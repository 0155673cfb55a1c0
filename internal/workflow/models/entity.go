package models

import (
	"time"

	"smartop/internal/policy"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
)

// ControlItem is one checklist line on a control list. Completion is the only
// client-writable field; everything derived from it is recomputed server-side.
type ControlItem struct {
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
}

// Entity is the shape shared by control lists and work sessions.
//
// Invariants:
//   - Status changes only through the transition coordinator
//   - Version increments on every transition (optimistic concurrency token)
//   - ReviewerID/ReviewedAt/ReviewNotes are populated only by a terminal
//     review transition, never by client input
//   - CompletionPercentage and DurationMinutes are derived, never trusted
//     from the client
type Entity struct {
	ID         id.EntityID    `json:"id"`
	TenantID   id.TenantID    `json:"tenant_id"`
	Kind       EntityKind     `json:"kind"`
	NaturalKey string         `json:"natural_key"`
	Status     Status         `json:"status"`
	OwnerID    id.PrincipalID `json:"owner_id"`

	ReviewerID  *id.PrincipalID `json:"reviewer_id,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes string          `json:"review_notes,omitempty"`

	// Control list fields.
	Items                []ControlItem `json:"items,omitempty"`
	CompletionPercentage float64       `json:"completion_percentage"`
	ScheduledAt          *time.Time    `json:"scheduled_at,omitempty"`

	// Work session fields.
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`

	// ActiveDependents marks entities that live records still reference
	// (e.g. a running work session against a control list).
	ActiveDependents bool `json:"active_dependents"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an entity in its kind's initial status, owned by the
// given operator.
func NewEntity(kind EntityKind, tenantID id.TenantID, ownerID id.PrincipalID, naturalKey string, now time.Time) (*Entity, error) {
	if !kind.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown entity kind %q", kind)
	}
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "entity requires a tenant")
	}
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "entity requires an owner")
	}
	if naturalKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "natural key is required")
	}

	e := &Entity{
		ID:         id.NewEntityID(),
		TenantID:   tenantID,
		Kind:       kind,
		NaturalKey: naturalKey,
		Status:     InitialStatus(kind),
		OwnerID:    ownerID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if kind == KindWorkSession {
		started := now
		e.StartedAt = &started
	}
	return e, nil
}

// IsTerminal reports whether the entity has reached a terminal status.
func (e *Entity) IsTerminal() bool {
	return IsTerminal(e.Kind, e.Status)
}

// PolicyResource projects the entity into the policy engine's resource shape.
func (e *Entity) PolicyResource() policy.Resource {
	kind := policy.KindControlList
	if e.Kind == KindWorkSession {
		kind = policy.KindWorkSession
	}
	return policy.Resource{
		Kind:             kind,
		TenantID:         e.TenantID,
		OwnerID:          e.OwnerID,
		Reviewable:       IsReviewable(e.Kind, e.Status),
		OperatorEditable: IsOperatorEditable(e.Kind, e.Status),
		ActiveDependents: e.ActiveDependents,
	}
}

// RecomputeDerived recalculates every derived field from authoritative data.
// Called on each transition so client-supplied numbers never survive.
func (e *Entity) RecomputeDerived() {
	e.CompletionPercentage = completionPercentage(e.Items)
	if e.StartedAt != nil && e.EndedAt != nil {
		minutes := int(e.EndedAt.Sub(*e.StartedAt) / time.Minute)
		if minutes < 0 {
			minutes = 0
		}
		e.DurationMinutes = minutes
	}
}

func completionPercentage(items []ControlItem) float64 {
	if len(items) == 0 {
		return 0
	}
	done := 0
	for _, item := range items {
		if item.Completed {
			done++
		}
	}
	// Two decimal places, matching what review screens display.
	return float64(int(float64(done)/float64(len(items))*10000+0.5)) / 100
}

// Clone returns a deep copy so stores can hand out snapshots without aliasing
// the items slice.
func (e *Entity) Clone() *Entity {
	cp := *e
	if e.Items != nil {
		cp.Items = make([]ControlItem, len(e.Items))
		copy(cp.Items, e.Items)
	}
	if e.ReviewerID != nil {
		rid := *e.ReviewerID
		cp.ReviewerID = &rid
	}
	if e.ReviewedAt != nil {
		t := *e.ReviewedAt
		cp.ReviewedAt = &t
	}
	if e.ScheduledAt != nil {
		t := *e.ScheduledAt
		cp.ScheduledAt = &t
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
