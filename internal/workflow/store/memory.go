// Package store provides the entity store implementations: an in-memory map
// for tests and single-node runs, and a PostgreSQL store for production.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	"smartop/pkg/platform/sentinel"
)

type entityKey struct {
	tenant id.TenantID
	entity id.EntityID
}

// MemoryStore keeps entities in a map guarded by a RWMutex. Entries are
// cloned on the way in and out so callers never share mutable state with the
// store.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[entityKey]*models.Entity
	// naturalKeys enforces the tenant-scoped natural key uniqueness.
	naturalKeys map[string]entityKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    make(map[entityKey]*models.Entity),
		naturalKeys: make(map[string]entityKey),
	}
}

func naturalKeyIndex(tenantID id.TenantID, kind models.EntityKind, naturalKey string) string {
	return tenantID.String() + "/" + string(kind) + "/" + naturalKey
}

func (s *MemoryStore) Create(ctx context.Context, e *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenant: e.TenantID, entity: e.ID}
	if _, exists := s.entities[key]; exists {
		return sentinel.ErrConflict
	}
	nk := naturalKeyIndex(e.TenantID, e.Kind, e.NaturalKey)
	if _, exists := s.naturalKeys[nk]; exists {
		return sentinel.ErrConflict
	}

	s.entities[key] = e.Clone()
	s.naturalKeys[nk] = key
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID id.TenantID, entityID id.EntityID) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[entityKey{tenant: tenantID, entity: entityID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID id.TenantID, kind models.EntityKind) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for key, e := range s.entities {
		if key.tenant == tenantID && e.Kind == kind {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateVersioned(ctx context.Context, e *models.Entity, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenant: e.TenantID, entity: e.ID}
	current, ok := s.entities[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrVersionConflict
	}

	s.entities[key] = e.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID id.TenantID, entityID id.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{tenant: tenantID, entity: entityID}
	e, ok := s.entities[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.naturalKeys, naturalKeyIndex(e.TenantID, e.Kind, e.NaturalKey))
	delete(s.entities, key)
	return nil
}

func (s *MemoryStore) ListExpirable(ctx context.Context, now time.Time) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for _, e := range s.entities {
		if e.Kind == models.KindControlList &&
			e.Status == models.StatusPending &&
			e.ScheduledAt != nil && e.ScheduledAt.Before(now) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}
