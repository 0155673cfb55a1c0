package notify

import (
	"context"
	"log/slog"
)

// ReportLogger satisfies the dispatch report consumer's sink seam. Document
// rendering runs in an external service; this records the hand-off so the
// reports queue is observable end to end even without that service attached.
type ReportLogger struct {
	logger *slog.Logger
}

func NewReportLogger(logger *slog.Logger) *ReportLogger {
	return &ReportLogger{logger: logger}
}

func (r *ReportLogger) Generate(ctx context.Context, tenantID, entityID, naturalKey, eventType string) error {
	r.logger.InfoContext(ctx, "report generation requested",
		"tenant_id", tenantID,
		"entity_id", entityID,
		"natural_key", naturalKey,
		"event_type", eventType,
	)
	return nil
}
