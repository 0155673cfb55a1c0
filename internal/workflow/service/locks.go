package service

import (
	"context"
	"sync"
	"time"

	id "smartop/pkg/domain"
	"smartop/pkg/platform/sentinel"
)

// lockKey scopes an advisory lock to one entity within one tenant.
type lockKey struct {
	tenant id.TenantID
	entity id.EntityID
}

// lockRegistry hands out per-entity advisory locks. Acquisition is the only
// place one request may wait on another; it is bounded by a timeout after
// which the caller gets sentinel.ErrBusy instead of hanging.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[lockKey]*entityLock
}

type entityLock struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[lockKey]*entityLock)}
}

// Acquire blocks until the lock for key is held, the timeout elapses, or ctx
// is cancelled. On success it returns a release function that must be called
// exactly once.
func (r *lockRegistry) Acquire(ctx context.Context, key lockKey, timeout time.Duration) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &entityLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return func() {
			l.ch <- struct{}{}
			r.put(key, l)
		}, nil
	case <-timer.C:
		r.put(key, l)
		return nil, sentinel.ErrBusy
	case <-ctx.Done():
		r.put(key, l)
		return nil, ctx.Err()
	}
}

// put drops one reference and frees the registry entry once nobody waits on
// it, so the map does not grow with every entity ever touched.
func (r *lockRegistry) put(key lockKey, l *entityLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
}
