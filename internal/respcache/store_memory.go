package respcache

import (
	"context"
	"sync"
	"time"

	"smartop/pkg/platform/sentinel"
)

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
	tags      []string
}

// MemoryStore is an in-memory cache store for tests and single-node use.
// Entries expire lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	byTag   map[string]map[string]struct{}
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if s.now().After(cached.expiresAt) {
		s.mu.Lock()
		s.remove(key)
		s.mu.Unlock()
		return nil, sentinel.ErrNotFound
	}
	entry := cached.entry
	entry.Body = append([]byte(nil), cached.entry.Body...)
	return &entry, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.Body = append([]byte(nil), entry.Body...)
	s.entries[key] = memoryEntry{
		entry:     stored,
		expiresAt: s.now().Add(ttl),
		tags:      append([]string(nil), tags...),
	}
	for _, tag := range tags {
		if s.byTag[tag] == nil {
			s.byTag[tag] = make(map[string]struct{})
		}
		s.byTag[tag][key] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) InvalidateTag(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.byTag[tag] {
		s.remove(key)
	}
	delete(s.byTag, tag)
	return nil
}

// remove drops an entry and its tag index references. Caller holds the lock.
func (s *MemoryStore) remove(key string) {
	cached, ok := s.entries[key]
	if !ok {
		return
	}
	for _, tag := range cached.tags {
		delete(s.byTag[tag], key)
	}
	delete(s.entries, key)
}
