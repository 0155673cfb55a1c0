package events

import (
	"context"

	wfmodels "smartop/internal/workflow/models"
)

// EventSink matches the coordinator's event hand-off contract.
type EventSink interface {
	Enqueue(ctx context.Context, event wfmodels.DomainEvent) error
}

// Sink forwards events to the dispatch queue and, when a publisher is
// configured, mirrors them to the audit topic. The dispatch hand-off stays
// fail-closed; the mirror never affects the outcome.
type Sink struct {
	primary EventSink
	mirror  *AuditPublisher
}

func NewSink(primary EventSink, mirror *AuditPublisher) *Sink {
	return &Sink{primary: primary, mirror: mirror}
}

func (s *Sink) Enqueue(ctx context.Context, event wfmodels.DomainEvent) error {
	if err := s.primary.Enqueue(ctx, event); err != nil {
		return err
	}
	if s.mirror != nil {
		s.mirror.Mirror(ctx, event)
	}
	return nil
}
