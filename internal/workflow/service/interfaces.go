package service

import (
	"context"
	"time"

	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
)

// EntityStore persists workflow entities keyed by (tenant_id, entity_id).
// Stores are pure I/O; all transition logic lives in the machine and the
// coordinator. Implementations return sentinel errors (ErrNotFound,
// ErrVersionConflict) which services translate into domain errors.
type EntityStore interface {
	Create(ctx context.Context, e *models.Entity) error
	Get(ctx context.Context, tenantID id.TenantID, entityID id.EntityID) (*models.Entity, error)
	List(ctx context.Context, tenantID id.TenantID, kind models.EntityKind) ([]*models.Entity, error)
	// UpdateVersioned replaces the stored entity only when its current version
	// equals expectedVersion; otherwise it returns sentinel.ErrVersionConflict.
	UpdateVersioned(ctx context.Context, e *models.Entity, expectedVersion int64) error
	Delete(ctx context.Context, tenantID id.TenantID, entityID id.EntityID) error
	// ListExpirable returns pending control lists whose scheduled date has
	// passed, for the expiry sweeper.
	ListExpirable(ctx context.Context, now time.Time) ([]*models.Entity, error)
}

// EventSink receives the events a successful transition produced. Enqueue is
// fail-closed: an error here aborts the transition that produced the event.
type EventSink interface {
	Enqueue(ctx context.Context, event models.DomainEvent) error
}
