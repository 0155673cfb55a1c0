package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"smartop/internal/dispatch/models"
)

// Sender delivers a notification to a set of principals. Implementations live
// in the notify package; errors are retried on the backoff schedule unless
// marked Permanent.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// Broadcaster pushes a message to every live subscriber of a channel.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// CacheInvalidator drops cached responses tagged (tenant, resource class).
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID, resourceClass string) error
}

// ReportSink hands a summary request to the report generator.
type ReportSink interface {
	Generate(ctx context.Context, tenantID, entityID, naturalKey, eventType string) error
}

// EmailConsumer delivers email work items.
type EmailConsumer struct {
	sender Sender
}

func NewEmailConsumer(sender Sender) *EmailConsumer { return &EmailConsumer{sender: sender} }

func (c *EmailConsumer) Kind() models.ItemKind { return models.KindEmail }

func (c *EmailConsumer) Handle(ctx context.Context, item *models.WorkItem) error {
	payload, err := decodeNotification(item)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, payload.Recipients, payload.Subject, payload.Body)
}

// PushConsumer delivers push notification work items.
type PushConsumer struct {
	sender Sender
}

func NewPushConsumer(sender Sender) *PushConsumer { return &PushConsumer{sender: sender} }

func (c *PushConsumer) Kind() models.ItemKind { return models.KindPush }

func (c *PushConsumer) Handle(ctx context.Context, item *models.WorkItem) error {
	payload, err := decodeNotification(item)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, payload.Recipients, payload.Subject, payload.Body)
}

// BroadcastConsumer fans the event out to live websocket subscribers.
type BroadcastConsumer struct {
	hub Broadcaster
}

func NewBroadcastConsumer(hub Broadcaster) *BroadcastConsumer {
	return &BroadcastConsumer{hub: hub}
}

func (c *BroadcastConsumer) Kind() models.ItemKind { return models.KindBroadcast }

func (c *BroadcastConsumer) Handle(ctx context.Context, item *models.WorkItem) error {
	var payload models.BroadcastPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("decode broadcast payload: %w", err))
	}
	return c.hub.Publish(ctx, payload.Channel, payload.Event)
}

// InvalidationConsumer closes the cache staleness window after a transition.
type InvalidationConsumer struct {
	cache CacheInvalidator
}

func NewInvalidationConsumer(cache CacheInvalidator) *InvalidationConsumer {
	return &InvalidationConsumer{cache: cache}
}

func (c *InvalidationConsumer) Kind() models.ItemKind { return models.KindCacheInvalidation }

func (c *InvalidationConsumer) Handle(ctx context.Context, item *models.WorkItem) error {
	var payload models.InvalidationPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("decode invalidation payload: %w", err))
	}
	return c.cache.Invalidate(ctx, payload.TenantID, payload.ResourceClass)
}

// ReportConsumer requests an approval summary from the report generator.
type ReportConsumer struct {
	sink ReportSink
}

func NewReportConsumer(sink ReportSink) *ReportConsumer { return &ReportConsumer{sink: sink} }

func (c *ReportConsumer) Kind() models.ItemKind { return models.KindReport }

func (c *ReportConsumer) Handle(ctx context.Context, item *models.WorkItem) error {
	var payload models.ReportPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("decode report payload: %w", err))
	}
	return c.sink.Generate(ctx, item.TenantID.String(), payload.EntityID, payload.NaturalKey, payload.EventType)
}

func decodeNotification(item *models.WorkItem) (*models.NotificationPayload, error) {
	var payload models.NotificationPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode notification payload: %w", err))
	}
	return &payload, nil
}
