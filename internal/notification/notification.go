package notification

import (
	"context"
	"log/slog"

	"github.com/pet-saude/authsvc/internal/config"
)

const (
	// KindVerificationCode indicates an email verification code.
	KindVerificationCode = "verification_code"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Subject     string
	Body        string
	HTML        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

const redactedBody = "[redacted]"

// LoggerNotifier writes notifications to the logger instead of delivering
// them. It stands in for a mail relay when none is configured. Bodies carry
// verification codes, so they are only logged when revealBody is set.
type LoggerNotifier struct {
	logger     *slog.Logger
	revealBody bool
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger, revealBody bool) *LoggerNotifier {
	return &LoggerNotifier{logger: logger, revealBody: revealBody}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	body := redactedBody
	if n.revealBody {
		body = message.Body
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"subject", message.Subject,
		"body", body,
	)
	return nil
}

// NewTransport picks SMTP when credentials are configured and the logging
// transport otherwise. revealBody is passed to the logging transport.
func NewTransport(cfg config.SMTP, logger *slog.Logger, revealBody bool) Notifier {
	if cfg.Enabled() {
		logger.Info("using configured SMTP transport", "host", cfg.Host, "port", cfg.Port)
		return NewSMTPNotifier(cfg)
	}
	logger.Info("SMTP not configured, using logging transport")
	return NewLoggerNotifier(logger, revealBody)
}
