package notification

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"

	"github.com/samber/oops"
)

const verificationSubject = "Seu código de verificação - PET-Saúde Equidade"

var verificationHTML = template.Must(template.New("verification").Parse(
	`<p>Seu código de verificação: <b>{{.}}</b></p>`))

// VerificationMailer sends verification codes through a Notifier.
type VerificationMailer struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewVerificationMailer wraps notifier for verification code delivery.
func NewVerificationMailer(notifier Notifier, logger *slog.Logger) *VerificationMailer {
	return &VerificationMailer{notifier: notifier, logger: logger}
}

// SendVerificationCode mails code to email.
func (m *VerificationMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	var html bytes.Buffer
	if err := verificationHTML.Execute(&html, code); err != nil {
		return oops.With("operation", "render verification html").Wrap(err)
	}

	err := m.notifier.Send(ctx, Message{
		Kind:        KindVerificationCode,
		Destination: email,
		Subject:     verificationSubject,
		Body:        "Seu código de verificação: " + code,
		HTML:        html.String(),
	})
	if err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("verification email sent", "email", email)
	}
	return nil
}
