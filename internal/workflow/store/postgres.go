package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	"smartop/pkg/platform/sentinel"
)

// PostgresStore persists workflow entities in PostgreSQL. Rows are keyed by
// (tenant_id, id); the version column carries the optimistic-concurrency
// token. This store is pure I/O; transition logic lives in the service layer.
//
// Expected schema:
//
//	CREATE TABLE workflow_entities (
//	    tenant_id             UUID        NOT NULL,
//	    id                    UUID        NOT NULL,
//	    kind                  TEXT        NOT NULL,
//	    natural_key           TEXT        NOT NULL,
//	    status                TEXT        NOT NULL,
//	    owner_id              UUID        NOT NULL,
//	    reviewer_id           UUID,
//	    reviewed_at           TIMESTAMPTZ,
//	    review_notes          TEXT        NOT NULL DEFAULT '',
//	    items                 JSONB,
//	    completion_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    scheduled_at          TIMESTAMPTZ,
//	    started_at            TIMESTAMPTZ,
//	    ended_at              TIMESTAMPTZ,
//	    duration_minutes      INTEGER     NOT NULL DEFAULT 0,
//	    active_dependents     BOOLEAN     NOT NULL DEFAULT FALSE,
//	    version               BIGINT      NOT NULL,
//	    created_at            TIMESTAMPTZ NOT NULL,
//	    updated_at            TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (tenant_id, id),
//	    UNIQUE (tenant_id, kind, natural_key)
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entityColumns = `tenant_id, id, kind, natural_key, status, owner_id,
	reviewer_id, reviewed_at, review_notes, items, completion_percentage,
	scheduled_at, started_at, ended_at, duration_minutes, active_dependents,
	version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, e *models.Entity) error {
	items, err := json.Marshal(e.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	query := `
		INSERT INTO workflow_entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.TenantID.String(), e.ID.String(), string(e.Kind), e.NaturalKey, string(e.Status), e.OwnerID.String(),
		nullablePrincipal(e.ReviewerID), e.ReviewedAt, e.ReviewNotes, items, e.CompletionPercentage,
		e.ScheduledAt, e.StartedAt, e.EndedAt, e.DurationMinutes, e.ActiveDependents,
		e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID id.TenantID, entityID id.EntityID) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM workflow_entities WHERE tenant_id = $1 AND id = $2`
	e, err := scanEntity(s.db.QueryRowContext(ctx, query, tenantID.String(), entityID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID id.TenantID, kind models.EntityKind) ([]*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM workflow_entities
		WHERE tenant_id = $1 AND kind = $2 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, tenantID.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateVersioned applies the compare-and-swap: the row is replaced only when
// its stored version still equals expectedVersion.
func (s *PostgresStore) UpdateVersioned(ctx context.Context, e *models.Entity, expectedVersion int64) error {
	items, err := json.Marshal(e.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	query := `
		UPDATE workflow_entities SET
			status = $4, reviewer_id = $5, reviewed_at = $6, review_notes = $7,
			items = $8, completion_percentage = $9, scheduled_at = $10,
			started_at = $11, ended_at = $12, duration_minutes = $13,
			active_dependents = $14, version = $15, updated_at = $16
		WHERE tenant_id = $1 AND id = $2 AND version = $3
	`
	res, err := s.db.ExecContext(ctx, query,
		e.TenantID.String(), e.ID.String(), expectedVersion,
		string(e.Status), nullablePrincipal(e.ReviewerID), e.ReviewedAt, e.ReviewNotes,
		items, e.CompletionPercentage, e.ScheduledAt,
		e.StartedAt, e.EndedAt, e.DurationMinutes,
		e.ActiveDependents, e.Version, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM workflow_entities WHERE tenant_id = $1 AND id = $2)`,
			e.TenantID.String(), e.ID.String(),
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("update entity existence check: %w", checkErr)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID id.TenantID, entityID id.EntityID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_entities WHERE tenant_id = $1 AND id = $2`,
		tenantID.String(), entityID.String(),
	)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entity rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExpirable(ctx context.Context, now time.Time) ([]*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM workflow_entities
		WHERE kind = $1 AND status = $2 AND scheduled_at IS NOT NULL AND scheduled_at < $3`
	rows, err := s.db.QueryContext(ctx, query,
		string(models.KindControlList), string(models.StatusPending), now)
	if err != nil {
		return nil, fmt.Errorf("list expirable entities: %w", err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		e           models.Entity
		tenantID    string
		entityID    string
		kind        string
		status      string
		ownerID     string
		reviewerID  sql.NullString
		reviewedAt  sql.NullTime
		items       []byte
		scheduledAt sql.NullTime
		startedAt   sql.NullTime
		endedAt     sql.NullTime
	)
	if err := row.Scan(
		&tenantID, &entityID, &kind, &e.NaturalKey, &status, &ownerID,
		&reviewerID, &reviewedAt, &e.ReviewNotes, &items, &e.CompletionPercentage,
		&scheduledAt, &startedAt, &endedAt, &e.DurationMinutes, &e.ActiveDependents,
		&e.Version, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if e.TenantID, err = id.ParseTenantID(tenantID); err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseEntityID(entityID); err != nil {
		return nil, err
	}
	if e.OwnerID, err = id.ParsePrincipalID(ownerID); err != nil {
		return nil, err
	}
	e.Kind = models.EntityKind(kind)
	e.Status = models.Status(status)

	if reviewerID.Valid {
		rid, err := id.ParsePrincipalID(reviewerID.String)
		if err != nil {
			return nil, err
		}
		e.ReviewerID = &rid
	}
	e.ReviewedAt = nullableTime(reviewedAt)
	e.ScheduledAt = nullableTime(scheduledAt)
	e.StartedAt = nullableTime(startedAt)
	e.EndedAt = nullableTime(endedAt)

	if len(items) > 0 {
		if err := json.Unmarshal(items, &e.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	return &e, nil
}

func nullablePrincipal(p *id.PrincipalID) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
