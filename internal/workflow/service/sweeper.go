package service

import (
	"context"
	"log/slog"
	"time"

	"smartop/internal/identity"
	"smartop/internal/workflow/machine"
	"smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	dErrors "smartop/pkg/domain-errors"
)

// Sweeper expires overdue pending control lists on a fixed interval. Expiry
// goes through the ordinary transition pipeline, so it serializes with user
// transitions, bumps the version, and emits the usual domain event.
type Sweeper struct {
	store       EntityStore
	coordinator *Coordinator
	system      identity.Principal
	interval    time.Duration
	logger      *slog.Logger
}

func NewSweeper(store EntityStore, coordinator *Coordinator, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:       store,
		coordinator: coordinator,
		// The sweeper acts as a system-level principal; its ID shows up as
		// the actor on expiry events.
		system:   identity.Principal{ID: id.NewPrincipalID(), Role: id.RoleAdmin},
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep expires every overdue entity it finds. Individual failures are logged
// and skipped; a busy entity will be picked up on the next tick.
func (s *Sweeper) sweep(ctx context.Context) {
	overdue, err := s.store.ListExpirable(ctx, time.Now())
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed to list entities", "error", err)
		return
	}

	for _, entity := range overdue {
		_, err := s.coordinator.Transition(ctx, entity.TenantID, entity.ID, models.StatusExpired, s.system, machine.Payload{})
		if err != nil {
			// Losing the race to a user transition is fine; the entity is no
			// longer pending and will not show up in the next listing.
			if dErrors.HasCode(err, dErrors.CodeInvalidTransition) || dErrors.HasCode(err, dErrors.CodeBusy) {
				continue
			}
			s.logger.WarnContext(ctx, "expiry transition failed",
				"entity_id", entity.ID.String(),
				"error", err,
			)
		}
	}
}
