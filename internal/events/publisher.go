package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"smartop/internal/platform/config"
	wfmodels "smartop/internal/workflow/models"
)

// producer is the slice of kgo.Client the publisher needs.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Close()
}

// AuditPublisher mirrors domain events to a Kafka topic for downstream audit
// consumers. Mirroring is best-effort: a broker outage never blocks or fails
// a transition, it only surfaces in logs and metrics.
type AuditPublisher struct {
	client producer
	topic  string
	logger *slog.Logger
}

// NewAuditPublisher connects to the configured brokers. Returns (nil, nil)
// when no brokers are configured, which disables mirroring.
func NewAuditPublisher(cfg config.KafkaConfig, logger *slog.Logger) (*AuditPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
		kgo.ClientID("smartop"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &AuditPublisher{client: client, topic: cfg.AuditTopic, logger: logger}, nil
}

// Mirror publishes the event asynchronously, keyed by tenant so each tenant's
// audit trail keeps transition order.
func (p *AuditPublisher) Mirror(ctx context.Context, event wfmodels.DomainEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "audit event encode failed", "event_type", event.Type, "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.TenantID.String()),
		Value: raw,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("audit event publish failed",
				"event_type", event.Type,
				"tenant_id", event.TenantID.String(),
				"error", err,
			)
		}
	})
}

func (p *AuditPublisher) Close() {
	p.client.Close()
}
