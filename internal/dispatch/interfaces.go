package dispatch

import (
	"context"
	"time"

	"smartop/internal/dispatch/models"
	id "smartop/pkg/domain"
)

// ItemStore persists work items. Pending items must survive a process restart
// so delivery can resume without loss.
type ItemStore interface {
	Create(ctx context.Context, item *models.WorkItem) error

	// ClaimDue returns up to limit pending items in the given queue whose
	// available_at has passed, pushing their available_at forward by lease so
	// no other worker picks them up while delivery is in flight. An item whose
	// worker dies mid-delivery reappears once the lease expires.
	ClaimDue(ctx context.Context, queue models.QueueClass, now time.Time, limit int, lease time.Duration) ([]*models.WorkItem, error)

	// Update persists the outcome of a delivery attempt.
	Update(ctx context.Context, item *models.WorkItem) error

	// ListDeadLettered returns dead-lettered items for manual inspection.
	ListDeadLettered(ctx context.Context, tenantID id.TenantID) ([]*models.WorkItem, error)
}

// Consumer executes one kind of work item. Implementations must be idempotent
// under at-least-once delivery.
type Consumer interface {
	Kind() models.ItemKind
	Handle(ctx context.Context, item *models.WorkItem) error
}

// Directory resolves notification recipients within a tenant.
type Directory interface {
	Managers(ctx context.Context, tenantID id.TenantID) ([]id.PrincipalID, error)
}
