package ratelimit

import (
	"context"
	"sync"
	"time"
)

// slidingWindow holds the timestamps of recent requests for one key. Counting
// real timestamps instead of a fixed-window counter keeps a burst straddling
// the window boundary from doubling the effective limit.
type slidingWindow struct {
	timestamps []time.Time
}

func (sw *slidingWindow) prune(cutoff time.Time) {
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// MemoryStore is an in-memory sliding-window store for tests and single-node
// use.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*slidingWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw := s.windows[key]
	if sw == nil {
		sw = &slidingWindow{}
		s.windows[key] = sw
	}
	sw.prune(now.Add(-window))

	if len(sw.timestamps) >= limit {
		resetAt := sw.timestamps[0].Add(window)
		retryAfter := int(resetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}
