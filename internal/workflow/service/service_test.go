package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartop/internal/identity"
	"smartop/internal/policy"
	"smartop/internal/workflow/models"
	"smartop/internal/workflow/store"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
)

type serviceFixture struct {
	store    *store.MemoryStore
	service  *Service
	tenant   id.TenantID
	operator identity.Principal
	manager  identity.Principal
	admin    identity.Principal
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	tenant := id.NewTenantID()
	memStore := store.NewMemoryStore()
	return &serviceFixture{
		store:    memStore,
		service:  New(memStore, policy.New(), slog.New(slog.DiscardHandler)),
		tenant:   tenant,
		operator: identity.Principal{ID: id.NewPrincipalID(), TenantID: tenant, Role: id.RoleOperator},
		manager:  identity.Principal{ID: id.NewPrincipalID(), TenantID: tenant, Role: id.RoleManager},
		admin:    identity.Principal{ID: id.NewPrincipalID(), Role: id.RoleAdmin},
	}
}

func TestCreate_OwnerDefaultsToActor(t *testing.T) {
	f := newServiceFixture(t)

	entity, err := f.service.Create(context.Background(), f.operator, CreateParams{
		Kind:       models.KindControlList,
		NaturalKey: "CL-0001",
		Items:      []models.ControlItem{{Label: "brakes"}, {Label: "lights", Completed: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, f.operator.ID, entity.OwnerID)
	assert.Equal(t, f.tenant, entity.TenantID)
	assert.Equal(t, models.StatusPending, entity.Status)
	assert.InDelta(t, 50.0, entity.CompletionPercentage, 0.01)
}

func TestCreate_OperatorCannotCreateForOthers(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Create(context.Background(), f.operator, CreateParams{
		Kind:       models.KindControlList,
		NaturalKey: "CL-0002",
		OwnerID:    id.NewPrincipalID(),
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodePolicyDenied, dErrors.CodeOf(err))
}

func TestCreate_ManagerCreatesOnBehalf(t *testing.T) {
	f := newServiceFixture(t)

	entity, err := f.service.Create(context.Background(), f.manager, CreateParams{
		Kind:       models.KindControlList,
		NaturalKey: "CL-0003",
		OwnerID:    f.operator.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.operator.ID, entity.OwnerID)
}

func TestCreate_AdminNeedsExplicitTenant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, f.admin, CreateParams{
		Kind:       models.KindControlList,
		NaturalKey: "CL-0004",
		OwnerID:    f.operator.ID,
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))

	entity, err := f.service.Create(ctx, f.admin, CreateParams{
		Kind:       models.KindControlList,
		NaturalKey: "CL-0004",
		OwnerID:    f.operator.ID,
		TenantID:   f.tenant,
	})
	require.NoError(t, err)
	assert.Equal(t, f.tenant, entity.TenantID)
}

func TestCreate_DuplicateNaturalKey(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, f.operator, CreateParams{Kind: models.KindControlList, NaturalKey: "CL-0005"})
	require.NoError(t, err)

	_, err = f.service.Create(ctx, f.operator, CreateParams{Kind: models.KindControlList, NaturalKey: "CL-0005"})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
}

func TestCreate_WorkSessionStartsImmediately(t *testing.T) {
	f := newServiceFixture(t)

	entity, err := f.service.Create(context.Background(), f.operator, CreateParams{
		Kind:       models.KindWorkSession,
		NaturalKey: "WS-0001",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, entity.Status)
	require.NotNil(t, entity.StartedAt)
}

func TestGet_CrossTenantIsNotFound(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	entity, err := f.service.Create(ctx, f.operator, CreateParams{Kind: models.KindControlList, NaturalKey: "CL-0006"})
	require.NoError(t, err)

	otherTenant := id.NewTenantID()
	intruder := identity.Principal{ID: id.NewPrincipalID(), TenantID: otherTenant, Role: id.RoleManager}
	_, err = f.service.Get(ctx, otherTenant, entity.ID, intruder)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func TestDelete_Rules(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	entity, err := f.service.Create(ctx, f.operator, CreateParams{Kind: models.KindControlList, NaturalKey: "CL-0007"})
	require.NoError(t, err)

	t.Run("operators cannot delete", func(t *testing.T) {
		err := f.service.Delete(ctx, f.tenant, entity.ID, f.operator)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodePolicyDenied, dErrors.CodeOf(err))
	})

	t.Run("active dependents block deletion even for admins", func(t *testing.T) {
		entity.ActiveDependents = true
		require.NoError(t, f.store.UpdateVersioned(ctx, entity, entity.Version))

		err := f.service.Delete(ctx, f.tenant, entity.ID, f.admin)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))

		entity.ActiveDependents = false
		require.NoError(t, f.store.UpdateVersioned(ctx, entity, entity.Version))
	})

	t.Run("managers delete", func(t *testing.T) {
		require.NoError(t, f.service.Delete(ctx, f.tenant, entity.ID, f.manager))
		_, err := f.service.Get(ctx, f.tenant, entity.ID, f.manager)
		assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func TestList_Scoping(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, key := range []string{"CL-A", "CL-B"} {
		_, err := f.service.Create(ctx, f.operator, CreateParams{Kind: models.KindControlList, NaturalKey: key})
		require.NoError(t, err)
	}
	_, err := f.service.Create(ctx, f.operator, CreateParams{Kind: models.KindWorkSession, NaturalKey: "WS-A"})
	require.NoError(t, err)

	lists, err := f.service.List(ctx, f.tenant, models.KindControlList, f.manager)
	require.NoError(t, err)
	assert.Len(t, lists, 2)

	sessions, err := f.service.List(ctx, f.tenant, models.KindWorkSession, f.manager)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCreate_ScheduledAtRoundTrip(t *testing.T) {
	f := newServiceFixture(t)

	scheduled := time.Now().Add(72 * time.Hour).UTC()
	entity, err := f.service.Create(context.Background(), f.operator, CreateParams{
		Kind:        models.KindControlList,
		NaturalKey:  "CL-0008",
		ScheduledAt: &scheduled,
	})
	require.NoError(t, err)
	require.NotNil(t, entity.ScheduledAt)
	assert.True(t, entity.ScheduledAt.Equal(scheduled))
}
