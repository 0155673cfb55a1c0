package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	dmetrics "smartop/internal/dispatch/metrics"
	"smartop/internal/dispatch/models"
	wfmodels "smartop/internal/workflow/models"
	id "smartop/pkg/domain"
	pstrings "smartop/pkg/platform/strings"
)

// Dispatcher turns domain events into persisted work items. Enqueue is
// fail-closed: if any item cannot be persisted the caller gets an error and
// must treat the whole transition as not happened.
type Dispatcher struct {
	store     ItemStore
	directory Directory
	logger    *slog.Logger
	metrics   *dmetrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *dmetrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(store ItemStore, directory Directory, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		directory: directory,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue fans the event out into work items: notifications for the affected
// principals, a websocket broadcast, a cache invalidation for the entity's
// resource class, and a report request for reviewed entities.
func (d *Dispatcher) Enqueue(ctx context.Context, event wfmodels.DomainEvent) error {
	now := time.Now().UTC()

	items, err := d.fanOut(ctx, event, now)
	if err != nil {
		return fmt.Errorf("dispatch fan-out: %w", err)
	}

	for _, item := range items {
		if err := d.store.Create(ctx, item); err != nil {
			return fmt.Errorf("persist work item %s: %w", item.Kind, err)
		}
		if d.metrics != nil {
			d.metrics.EnqueuedTotal.WithLabelValues(string(item.Queue), string(item.Kind)).Inc()
		}
	}

	d.logger.DebugContext(ctx, "event enqueued",
		"event_type", event.Type,
		"tenant_id", event.TenantID.String(),
		"items", len(items),
	)
	return nil
}

func (d *Dispatcher) fanOut(ctx context.Context, event wfmodels.DomainEvent, now time.Time) ([]*models.WorkItem, error) {
	var items []*models.WorkItem

	notifItems, err := d.notificationItems(ctx, event, now)
	if err != nil {
		return nil, err
	}
	items = append(items, notifItems...)

	broadcast, err := broadcastItem(event, now)
	if err != nil {
		return nil, err
	}
	items = append(items, broadcast)

	invalidation, err := invalidationItem(event, now)
	if err != nil {
		return nil, err
	}
	items = append(items, invalidation)

	if event.NewStatus == wfmodels.StatusApproved {
		report, err := reportItem(event, now)
		if err != nil {
			return nil, err
		}
		items = append(items, report)
	}

	return items, nil
}

// notificationItems resolves recipients per event type: review outcomes go to
// the entity owner, completions go to the tenant's managers.
func (d *Dispatcher) notificationItems(ctx context.Context, event wfmodels.DomainEvent, now time.Time) ([]*models.WorkItem, error) {
	var (
		recipients []id.PrincipalID
		priority   models.Priority
		subject    string
		withPush   bool
	)

	switch event.NewStatus {
	case wfmodels.StatusCompleted:
		managers, err := d.directory.Managers(ctx, event.TenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve managers: %w", err)
		}
		recipients = managers
		priority = models.PriorityHigh
		subject = fmt.Sprintf("%s %s is ready for review", event.Entity.Kind, event.Metadata["natural_key"])
	case wfmodels.StatusApproved:
		recipients = []id.PrincipalID{event.OwnerID}
		priority = models.PriorityNormal
		subject = fmt.Sprintf("%s %s was approved", event.Entity.Kind, event.Metadata["natural_key"])
		withPush = true
	case wfmodels.StatusRejected:
		recipients = []id.PrincipalID{event.OwnerID}
		priority = models.PriorityCritical
		subject = fmt.Sprintf("%s %s was rejected", event.Entity.Kind, event.Metadata["natural_key"])
		withPush = true
	case wfmodels.StatusExpired:
		recipients = []id.PrincipalID{event.OwnerID}
		priority = models.PriorityLow
		subject = fmt.Sprintf("%s %s expired without completion", event.Entity.Kind, event.Metadata["natural_key"])
	default:
		return nil, nil
	}

	if len(recipients) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.String())
	}
	// A manager who also owns the entity would otherwise be listed twice.
	ids = pstrings.DedupeAndTrim(ids)
	payload, err := json.Marshal(models.NotificationPayload{
		Recipients: ids,
		Subject:    subject,
		Body:       event.Metadata["review_notes"],
		EventType:  event.Type,
		EntityID:   event.Entity.ID.String(),
		Priority:   priority,
	})
	if err != nil {
		return nil, fmt.Errorf("encode notification payload: %w", err)
	}

	queue := models.QueueFor(priority)
	items := []*models.WorkItem{
		models.NewWorkItem(event.TenantID, queue, models.KindEmail, payload, now),
	}
	if withPush {
		items = append(items, models.NewWorkItem(event.TenantID, queue, models.KindPush, payload, now))
	}
	return items, nil
}

func broadcastItem(event wfmodels.DomainEvent, now time.Time) (*models.WorkItem, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	payload, err := json.Marshal(models.BroadcastPayload{
		Channel: "tenant:" + event.TenantID.String(),
		Event:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode broadcast payload: %w", err)
	}
	return models.NewWorkItem(event.TenantID, models.QueueCritical, models.KindBroadcast, payload, now), nil
}

// invalidationItem closes the staleness window: cached responses tagged with
// the entity's resource class are dropped as soon as the item is consumed.
func invalidationItem(event wfmodels.DomainEvent, now time.Time) (*models.WorkItem, error) {
	payload, err := json.Marshal(models.InvalidationPayload{
		TenantID:      event.TenantID.String(),
		ResourceClass: string(event.Entity.Kind),
	})
	if err != nil {
		return nil, fmt.Errorf("encode invalidation payload: %w", err)
	}
	return models.NewWorkItem(event.TenantID, models.QueueCritical, models.KindCacheInvalidation, payload, now), nil
}

func reportItem(event wfmodels.DomainEvent, now time.Time) (*models.WorkItem, error) {
	payload, err := json.Marshal(models.ReportPayload{
		EntityID:   event.Entity.ID.String(),
		NaturalKey: event.Metadata["natural_key"],
		EventType:  event.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("encode report payload: %w", err)
	}
	return models.NewWorkItem(event.TenantID, models.QueueReports, models.KindReport, payload, now), nil
}
