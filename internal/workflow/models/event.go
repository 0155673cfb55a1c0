package models

import (
	"time"

	id "smartop/pkg/domain"
)

// EntityRef identifies the entity a domain event refers to.
type EntityRef struct {
	Kind EntityKind  `json:"kind"`
	ID   id.EntityID `json:"id"`
}

// DomainEvent is the immutable record of one successful transition. Exactly
// one is produced per transition; consumers must tolerate at-least-once
// delivery.
type DomainEvent struct {
	Type       string            `json:"type"`
	TenantID   id.TenantID       `json:"tenant_id"`
	Entity     EntityRef         `json:"entity"`
	OldStatus  Status            `json:"old_status"`
	NewStatus  Status            `json:"new_status"`
	OwnerID    id.PrincipalID    `json:"owner_id"`
	ActorID    id.PrincipalID    `json:"actor_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewDomainEvent builds the event for a completed transition. Type follows
// the "<kind>.<new status>" convention consumers route on.
func NewDomainEvent(e *Entity, oldStatus Status, actorID id.PrincipalID, metadata map[string]string, now time.Time) DomainEvent {
	return DomainEvent{
		Type:       string(e.Kind) + "." + string(e.Status),
		TenantID:   e.TenantID,
		Entity:     EntityRef{Kind: e.Kind, ID: e.ID},
		OldStatus:  oldStatus,
		NewStatus:  e.Status,
		OwnerID:    e.OwnerID,
		ActorID:    actorID,
		Metadata:   metadata,
		OccurredAt: now,
	}
}
