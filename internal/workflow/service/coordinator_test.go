package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartop/internal/identity"
	"smartop/internal/policy"
	"smartop/internal/workflow/machine"
	"smartop/internal/workflow/models"
	"smartop/internal/workflow/store"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
	"smartop/pkg/platform/sentinel"
)

type captureSink struct {
	mu     sync.Mutex
	events []models.DomainEvent
	err    error
	delay  time.Duration
}

func (s *captureSink) Enqueue(ctx context.Context, event models.DomainEvent) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) all() []models.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DomainEvent(nil), s.events...)
}

type fixture struct {
	store       *store.MemoryStore
	sink        *captureSink
	coordinator *Coordinator
	tenant      id.TenantID
	owner       identity.Principal
	manager     identity.Principal
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *fixture {
	t.Helper()
	tenant := id.NewTenantID()
	memStore := store.NewMemoryStore()
	sink := &captureSink{}
	logger := slog.New(slog.DiscardHandler)

	f := &fixture{
		store:       memStore,
		sink:        sink,
		coordinator: NewCoordinator(memStore, machine.New(policy.New()), sink, logger, opts...),
		tenant:      tenant,
		owner:       identity.Principal{ID: id.NewPrincipalID(), TenantID: tenant, Role: id.RoleOperator},
		manager:     identity.Principal{ID: id.NewPrincipalID(), TenantID: tenant, Role: id.RoleManager},
	}
	return f
}

func (f *fixture) seedControlList(t *testing.T, status models.Status) *models.Entity {
	t.Helper()
	e, err := models.NewEntity(models.KindControlList, f.tenant, f.owner.ID, "CL-"+uuid.NewString()[:8], time.Now())
	require.NoError(t, err)
	e.Status = status
	require.NoError(t, f.store.Create(context.Background(), e))
	return e
}

func TestTransition_CompleteThenApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cl := f.seedControlList(t, models.StatusPending)

	completed, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusCompleted, f.owner, machine.Payload{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.Nil(t, completed.ReviewerID)
	assert.Equal(t, 1, f.sink.count())

	approved, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusApproved, f.manager, machine.Payload{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewerID)
	assert.Equal(t, f.manager.ID, *approved.ReviewerID)
	assert.Equal(t, 2, f.sink.count())

	// The store agrees with the returned snapshot.
	stored, err := f.store.Get(ctx, f.tenant, cl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, completed.Version+1, stored.Version)
}

// Two concurrent approvals of the same entity: exactly one succeeds, the
// other gets a conflict or busy error, and exactly one event is emitted.
func TestTransition_SingleWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cl := f.seedControlList(t, models.StatusCompleted)
	m2 := identity.Principal{ID: id.NewPrincipalID(), TenantID: f.tenant, Role: id.RoleManager}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, actor := range []identity.Principal{f.manager, m2} {
		wg.Add(1)
		go func(a identity.Principal) {
			defer wg.Done()
			_, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusApproved, a, machine.Payload{})
			errs <- err
		}(actor)
	}
	wg.Wait()
	close(errs)

	var okCount, conflictCount int
	for err := range errs {
		if err == nil {
			okCount++
			continue
		}
		code := dErrors.CodeOf(err)
		if code == dErrors.CodeVersionConflict || code == dErrors.CodeBusy {
			conflictCount++
		} else {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, conflictCount)
	assert.Equal(t, 1, f.sink.count())

	stored, err := f.store.Get(ctx, f.tenant, cl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestTransition_FailuresEmitNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("invalid edge", func(t *testing.T) {
		cl := f.seedControlList(t, models.StatusApproved)
		_, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusPending, f.manager, machine.Payload{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	t.Run("policy denied", func(t *testing.T) {
		cl := f.seedControlList(t, models.StatusCompleted)
		_, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusApproved, f.owner, machine.Payload{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePolicyDenied))
	})

	t.Run("missing rejection reason", func(t *testing.T) {
		cl := f.seedControlList(t, models.StatusCompleted)
		_, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusRejected, f.manager, machine.Payload{ReviewNotes: ""})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidationFailed))
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := f.coordinator.Transition(ctx, f.tenant, id.NewEntityID(), models.StatusCompleted, f.owner, machine.Payload{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	assert.Zero(t, f.sink.count(), "failed transitions must not emit events")
}

func TestTransition_DispatchFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sink.err = sentinel.ErrUnavailable
	cl := f.seedControlList(t, models.StatusPending)

	_, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusCompleted, f.owner, machine.Payload{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDispatchFailed))

	stored, getErr := f.store.Get(ctx, f.tenant, cl.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusPending, stored.Status, "state must be rolled back when the event cannot be enqueued")
	assert.Zero(t, f.sink.count())
}

func TestTransition_LockTimeoutReturnsBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithLockTimeout(30*time.Millisecond))
	f.sink.delay = 300 * time.Millisecond
	cl := f.seedControlList(t, models.StatusPending)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusCompleted, f.owner, machine.Payload{})
	}()
	<-started
	time.Sleep(50 * time.Millisecond) // let the first call take the lock

	_, err := f.coordinator.Transition(ctx, f.tenant, cl.ID, models.StatusCompleted, f.owner, machine.Payload{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBusy), "got: %v", err)
}

// conflictingStore wedges UpdateVersioned to simulate an external writer
// racing the coordinator.
type conflictingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictingStore) UpdateVersioned(ctx context.Context, e *models.Entity, expectedVersion int64) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return sentinel.ErrVersionConflict
	}
	return s.MemoryStore.UpdateVersioned(ctx, e, expectedVersion)
}

func TestTransition_VersionConflictRetryBound(t *testing.T) {
	ctx := context.Background()
	tenant := id.NewTenantID()
	owner := identity.Principal{ID: id.NewPrincipalID(), TenantID: tenant, Role: id.RoleOperator}
	logger := slog.New(slog.DiscardHandler)

	seed := func(t *testing.T, cs *conflictingStore) *models.Entity {
		e, err := models.NewEntity(models.KindControlList, tenant, owner.ID, "CL-retry-"+uuid.NewString()[:8], time.Now())
		require.NoError(t, err)
		require.NoError(t, cs.Create(ctx, e))
		return e
	}

	t.Run("transient conflict is retried internally", func(t *testing.T) {
		cs := &conflictingStore{MemoryStore: store.NewMemoryStore(), failures: 1}
		sink := &captureSink{}
		c := NewCoordinator(cs, machine.New(policy.New()), sink, logger, WithMaxRetries(3))
		cl := seed(t, cs)

		got, err := c.Transition(ctx, tenant, cl.ID, models.StatusCompleted, owner, machine.Payload{})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, 2, cs.calls)
	})

	t.Run("persistent conflict surfaces after the bound", func(t *testing.T) {
		cs := &conflictingStore{MemoryStore: store.NewMemoryStore(), failures: 100}
		sink := &captureSink{}
		c := NewCoordinator(cs, machine.New(policy.New()), sink, logger, WithMaxRetries(3))
		cl := seed(t, cs)

		_, err := c.Transition(ctx, tenant, cl.ID, models.StatusCompleted, owner, machine.Payload{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeVersionConflict))
		assert.Equal(t, 3, cs.calls, "exactly maxRetries persist attempts")
		assert.Zero(t, sink.count())
	})
}
