// Package notify holds the delivery side of the platform's notifications:
// sender seams for email and push plus the real-time broadcast hub. Actual
// transport (SMTP relay, push gateway) is an external collaborator behind the
// Transport interface.
package notify

import (
	"context"
	"log/slog"
)

// Transport delivers one message to a set of recipients.
type Transport interface {
	Deliver(ctx context.Context, recipients []string, subject, body string) error
}

// EmailSender satisfies the dispatch email consumer's Sender seam.
type EmailSender struct {
	transport Transport
	logger    *slog.Logger
}

func NewEmailSender(transport Transport, logger *slog.Logger) *EmailSender {
	return &EmailSender{transport: transport, logger: logger}
}

func (s *EmailSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	if err := s.transport.Deliver(ctx, recipients, subject, body); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "email sent", "recipients", len(recipients), "subject", subject)
	return nil
}

// PushSender satisfies the dispatch push consumer's Sender seam.
type PushSender struct {
	transport Transport
	logger    *slog.Logger
}

func NewPushSender(transport Transport, logger *slog.Logger) *PushSender {
	return &PushSender{transport: transport, logger: logger}
}

func (s *PushSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	if err := s.transport.Deliver(ctx, recipients, subject, body); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "push sent", "recipients", len(recipients))
	return nil
}

// LogTransport writes deliveries to the log. Default for local development
// where no relay or push gateway is configured.
type LogTransport struct {
	Kind   string
	Logger *slog.Logger
}

func (t *LogTransport) Deliver(ctx context.Context, recipients []string, subject, _ string) error {
	t.Logger.InfoContext(ctx, "notification delivered",
		"transport", t.Kind,
		"recipients", recipients,
		"subject", subject,
	)
	return nil
}
