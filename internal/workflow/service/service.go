package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"smartop/internal/identity"
	"smartop/internal/policy"
	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
	"smartop/pkg/platform/sentinel"
	"smartop/pkg/requestcontext"
)

// Service covers the non-transition operations on workflow entities: create,
// read, list, delete. Reads bypass the coordinator entirely; writes that
// change status never go through here.
type Service struct {
	store    EntityStore
	policies *policy.Engine
	logger   *slog.Logger
}

func New(store EntityStore, policies *policy.Engine, logger *slog.Logger) *Service {
	return &Service{store: store, policies: policies, logger: logger}
}

// CreateParams carries everything needed to register a new entity.
type CreateParams struct {
	Kind       models.EntityKind
	NaturalKey string
	// OwnerID defaults to the actor when unset.
	OwnerID id.PrincipalID
	// TenantID is only honored for admins, who act outside any tenant and
	// must name one explicitly.
	TenantID    id.TenantID
	Items       []models.ControlItem
	ScheduledAt *time.Time
}

// Create registers a new entity. Managers may create on an operator's behalf;
// operators only for themselves.
func (s *Service) Create(ctx context.Context, actor identity.Principal, params CreateParams) (*models.Entity, error) {
	ownerID := params.OwnerID
	if ownerID.IsNil() {
		ownerID = actor.ID
	}
	if actor.Role == id.RoleOperator && ownerID != actor.ID {
		return nil, dErrors.New(dErrors.CodePolicyDenied, "operators create entities only for themselves")
	}

	tenantID := actor.TenantID
	if actor.IsAdmin() {
		tenantID = params.TenantID
		if tenantID.IsNil() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "admin create requires an explicit tenant")
		}
	}

	decision := s.policies.Decide(actor, policy.ActionCreate, policy.Resource{TenantID: tenantID})
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}

	entity, err := models.NewEntity(params.Kind, tenantID, ownerID, strings.TrimSpace(params.NaturalKey), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	entity.Items = params.Items
	entity.ScheduledAt = params.ScheduledAt
	entity.RecomputeDerived()

	if err := s.store.Create(ctx, entity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "natural key already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create entity")
	}
	return entity, nil
}

// Get returns one entity after a view policy check.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, entityID id.EntityID, actor identity.Principal) (*models.Entity, error) {
	entity, err := s.store.Get(ctx, tenantID, entityID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	decision := s.policies.Decide(actor, policy.ActionView, entity.PolicyResource())
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}
	return entity, nil
}

// List returns the tenant's entities of one kind after a view policy check.
func (s *Service) List(ctx context.Context, tenantID id.TenantID, kind models.EntityKind, actor identity.Principal) ([]*models.Entity, error) {
	decision := s.policies.Decide(actor, policy.ActionView, policy.Resource{TenantID: tenantID})
	if !decision.Allowed {
		return nil, dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}
	entities, err := s.store.List(ctx, tenantID, kind)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entities")
	}
	return entities, nil
}

// Delete removes an entity. Besides the policy check, a non-terminal entity
// with unresolved dependents can never be deleted, not even by an admin.
func (s *Service) Delete(ctx context.Context, tenantID id.TenantID, entityID id.EntityID, actor identity.Principal) error {
	entity, err := s.store.Get(ctx, tenantID, entityID)
	if err != nil {
		return wrapStoreErr(err)
	}

	decision := s.policies.Decide(actor, policy.ActionDelete, entity.PolicyResource())
	if !decision.Allowed {
		return dErrors.New(dErrors.CodePolicyDenied, decision.Reason)
	}
	if entity.ActiveDependents && !entity.IsTerminal() {
		return dErrors.New(dErrors.CodeConflict, "entity has active dependents")
	}

	if err := s.store.Delete(ctx, tenantID, entityID); err != nil {
		return wrapStoreErr(err)
	}
	s.logger.InfoContext(ctx, "workflow entity deleted",
		"entity_id", entityID.String(),
		"actor_id", actor.ID.String(),
	)
	return nil
}

func wrapStoreErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "entity not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "entity store failure")
}
