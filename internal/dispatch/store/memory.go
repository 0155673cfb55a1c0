package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartop/internal/dispatch/models"
	id "smartop/pkg/domain"
	"smartop/pkg/platform/sentinel"
)

// MemoryStore is an in-memory ItemStore for tests and single-node use.
type MemoryStore struct {
	mu    sync.Mutex
	items map[id.WorkItemID]*models.WorkItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[id.WorkItemID]*models.WorkItem),
	}
}

func (s *MemoryStore) Create(_ context.Context, item *models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, queue models.QueueClass, now time.Time, limit int, lease time.Duration) ([]*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.WorkItem
	for _, item := range s.items {
		if item.Queue == queue && item.Status == models.StatusPending && !item.AvailableAt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AvailableAt.Before(due[j].AvailableAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.WorkItem, 0, len(due))
	for _, item := range due {
		item.AvailableAt = now.Add(lease)
		claimed = append(claimed, item.Clone())
	}
	return claimed, nil
}

func (s *MemoryStore) Update(_ context.Context, item *models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) ListDeadLettered(_ context.Context, tenantID id.TenantID) ([]*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.WorkItem
	for _, item := range s.items {
		if item.TenantID == tenantID && item.Status == models.StatusDeadLettered {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns one item by id. Test helper.
func (s *MemoryStore) Get(_ context.Context, itemID id.WorkItemID) (*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return item.Clone(), nil
}
