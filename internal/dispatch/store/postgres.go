package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"smartop/internal/dispatch/models"
	id "smartop/pkg/domain"
	"smartop/pkg/platform/sentinel"
)

// PostgresStore persists work items in PostgreSQL so undelivered items
// survive a process restart. Claiming uses FOR UPDATE SKIP LOCKED so
// concurrent workers never double-claim an item.
//
// Expected schema:
//
//	CREATE TABLE dispatch_work_items (
//	    id            UUID        PRIMARY KEY,
//	    tenant_id     UUID        NOT NULL,
//	    queue_class   TEXT        NOT NULL,
//	    kind          TEXT        NOT NULL,
//	    payload       JSONB       NOT NULL,
//	    attempt_count INTEGER     NOT NULL DEFAULT 0,
//	    max_attempts  INTEGER     NOT NULL,
//	    status        TEXT        NOT NULL,
//	    available_at  TIMESTAMPTZ NOT NULL,
//	    last_error    TEXT        NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX dispatch_work_items_due
//	    ON dispatch_work_items (queue_class, available_at) WHERE status = 'pending';
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `id, tenant_id, queue_class, kind, payload, attempt_count,
	max_attempts, status, available_at, last_error, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, item *models.WorkItem) error {
	query := `
		INSERT INTO dispatch_work_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID.String(), item.TenantID.String(), string(item.Queue), string(item.Kind),
		[]byte(item.Payload), item.AttemptCount, item.MaxAttempts, string(item.Status),
		item.AvailableAt, item.LastError, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, queue models.QueueClass, now time.Time, limit int, lease time.Duration) ([]*models.WorkItem, error) {
	query := `
		UPDATE dispatch_work_items
		SET available_at = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM dispatch_work_items
			WHERE queue_class = $3 AND status = 'pending' AND available_at <= $2
			ORDER BY available_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + itemColumns

	rows, err := s.db.QueryContext(ctx, query, now.Add(lease), now, string(queue), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due work items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, item *models.WorkItem) error {
	query := `
		UPDATE dispatch_work_items
		SET attempt_count = $2, status = $3, available_at = $4, last_error = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		item.ID.String(), item.AttemptCount, string(item.Status),
		item.AvailableAt, item.LastError, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDeadLettered(ctx context.Context, tenantID id.TenantID) ([]*models.WorkItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM dispatch_work_items
		WHERE tenant_id = $1 AND status = 'dead_lettered'
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID.String())
	if err != nil {
		return nil, fmt.Errorf("list dead-lettered work items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*models.WorkItem, error) {
	var (
		item                models.WorkItem
		itemID, tenantID    string
		queue, kind, status string
		payload             []byte
	)
	err := row.Scan(
		&itemID, &tenantID, &queue, &kind, &payload, &item.AttemptCount,
		&item.MaxAttempts, &status, &item.AvailableAt, &item.LastError,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan work item: %w", err)
	}

	parsedID, err := uuid.Parse(itemID)
	if err != nil {
		return nil, fmt.Errorf("parse work item id: %w", err)
	}
	parsedTenant, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("parse tenant id: %w", err)
	}

	item.ID = id.WorkItemID(parsedID)
	item.TenantID = id.TenantID(parsedTenant)
	item.Queue = models.QueueClass(queue)
	item.Kind = models.ItemKind(kind)
	item.Status = models.ItemStatus(status)
	item.Payload = payload
	return &item, nil
}
