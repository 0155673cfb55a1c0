package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smartop/internal/identity"
	"smartop/internal/workflow/machine"
	wfmetrics "smartop/internal/workflow/metrics"
	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
	"smartop/pkg/platform/sentinel"
	"smartop/pkg/requestcontext"
)

// Coordinator drives a transition end-to-end: per-entity lock, fresh read,
// state machine, versioned persist, event hand-off. It is the sole mutator of
// workflow entity status.
type Coordinator struct {
	store   EntityStore
	machine *machine.Machine
	sink    EventSink
	logger  *slog.Logger
	metrics *wfmetrics.Metrics
	tracer  trace.Tracer

	lockTimeout      time.Duration
	maxRetries       int
	dispatchDeadline time.Duration

	locks *lockRegistry
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *wfmetrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLockTimeout bounds how long a transition waits on the per-entity lock.
func WithLockTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.lockTimeout = d }
}

// WithMaxRetries bounds internal version-conflict retries.
func WithMaxRetries(n int) CoordinatorOption {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithDispatchDeadline bounds the event enqueue call.
func WithDispatchDeadline(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.dispatchDeadline = d }
}

func NewCoordinator(store EntityStore, m *machine.Machine, sink EventSink, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:            store,
		machine:          m,
		sink:             sink,
		logger:           logger,
		tracer:           otel.Tracer("smartop/workflow"),
		lockTimeout:      3 * time.Second,
		maxRetries:       3,
		dispatchDeadline: 2 * time.Second,
		locks:            newLockRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transition applies the requested status change to the entity identified by
// (tenantID, entityID) on behalf of actor.
//
// Steps 1-4 (lock, read, validate, persist) are all-or-nothing: a failure
// leaves the entity unchanged and emits nothing. Event hand-off is fail-closed
// too: if the sink rejects the event, the persisted state is rolled back under
// the still-held lock and the caller sees dispatch_failed.
func (c *Coordinator) Transition(ctx context.Context, tenantID id.TenantID, entityID id.EntityID, requested models.Status, actor identity.Principal, payload machine.Payload) (*models.Entity, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "workflow.transition",
		trace.WithAttributes(
			attribute.String("entity_id", entityID.String()),
			attribute.String("requested_status", string(requested)),
		))
	defer span.End()

	release, err := c.locks.Acquire(ctx, lockKey{tenant: tenantID, entity: entityID}, c.lockTimeout)
	if err != nil {
		if errors.Is(err, sentinel.ErrBusy) {
			c.incrementLockTimeout()
			c.incrementFailed(dErrors.CodeBusy)
			return nil, dErrors.New(dErrors.CodeBusy, "entity is busy, retry shortly")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "lock acquisition interrupted")
	}
	defer release()

	entity, result, err := c.transitionLocked(ctx, tenantID, entityID, requested, actor, payload)
	if err != nil {
		c.incrementFailed(dErrors.CodeOf(err))
		return nil, err
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, c.dispatchDeadline)
	defer cancel()
	if err := c.sink.Enqueue(dispatchCtx, result.Event); err != nil {
		// State changed but no consumer will ever hear about it; roll back
		// under the lock so state and notification stream stay consistent.
		c.rollback(ctx, entity, result.Entity)
		c.incrementFailed(dErrors.CodeDispatchFailed)
		return nil, dErrors.Wrap(err, dErrors.CodeDispatchFailed, "event dispatch failed")
	}

	c.observeTransition(result.Entity, start)
	c.logger.InfoContext(ctx, "workflow transition applied",
		"kind", string(result.Entity.Kind),
		"entity_id", result.Entity.ID.String(),
		"old_status", string(result.Event.OldStatus),
		"new_status", string(result.Entity.Status),
		"actor_id", actor.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result.Entity, nil
}

// transitionLocked re-reads the entity at its latest version and applies the
// machine, retrying on version conflicts up to the configured bound.
func (c *Coordinator) transitionLocked(ctx context.Context, tenantID id.TenantID, entityID id.EntityID, requested models.Status, actor identity.Principal, payload machine.Payload) (*models.Entity, *machine.Result, error) {
	now := requestcontext.Now(ctx)

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		entity, err := c.store.Get(ctx, tenantID, entityID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
			}
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read entity")
		}

		// A concurrent transition that already landed the requested status is
		// reported as a conflict, not an illegal edge.
		if entity.Status == requested {
			return nil, nil, dErrors.New(dErrors.CodeVersionConflict, "entity already in requested status")
		}

		result, err := c.machine.Attempt(entity, requested, actor, payload, now)
		if err != nil {
			return nil, nil, err
		}

		if err := c.store.UpdateVersioned(ctx, result.Entity, entity.Version); err != nil {
			if errors.Is(err, sentinel.ErrVersionConflict) {
				c.incrementVersionConflict()
				continue
			}
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist transition")
		}
		return entity, result, nil
	}

	return nil, nil, dErrors.New(dErrors.CodeVersionConflict, "entity was modified concurrently")
}

// rollback restores the pre-transition snapshot. The per-entity lock is still
// held, so the versioned write cannot race another transition.
func (c *Coordinator) rollback(ctx context.Context, previous, applied *models.Entity) {
	restored := previous.Clone()
	restored.Version = applied.Version + 1
	if err := c.store.UpdateVersioned(ctx, restored, applied.Version); err != nil {
		c.logger.ErrorContext(ctx, "rollback after dispatch failure did not apply",
			"entity_id", applied.ID.String(),
			"error", err,
		)
	}
}

func (c *Coordinator) observeTransition(e *models.Entity, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveTransition(string(e.Kind), string(e.Status), start)
	}
}

func (c *Coordinator) incrementFailed(code dErrors.Code) {
	if c.metrics != nil {
		c.metrics.IncrementFailed(string(code))
	}
}

func (c *Coordinator) incrementLockTimeout() {
	if c.metrics != nil {
		c.metrics.LockTimeouts.Inc()
	}
}

func (c *Coordinator) incrementVersionConflict() {
	if c.metrics != nil {
		c.metrics.VersionConflicts.Inc()
	}
}
