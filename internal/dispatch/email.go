// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/pkg/errors"
)

// Message is a plain text email ready for delivery.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers a Message using the target's email settings.
type Mailer interface {
	Deliver(ctx context.Context, cfg integration.EmailConfig, msg Message) error
}

// EmailSender delivers payloads as email. The transport is chosen by the
// configured provider.
type EmailSender struct {
	mailers map[integration.EmailProvider]Mailer
	logger  *slog.Logger
}

// NewEmailSender creates an EmailSender. sendgrid may be nil when no
// SendGrid delivery is expected.
func NewEmailSender(smtp, sendgrid Mailer, logger *slog.Logger) *EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	mailers := map[integration.EmailProvider]Mailer{}
	if smtp != nil {
		mailers[integration.ProviderSMTP] = smtp
	}
	if sendgrid != nil {
		mailers[integration.ProviderSendGrid] = sendgrid
	}
	return &EmailSender{mailers: mailers, logger: logger}
}

// Send implements Sender.
func (s *EmailSender) Send(ctx context.Context, target integration.Target, body *payload.Object) (*Outcome, error) {
	cfg := target.Email
	recipients := integration.Recipients(cfg.ToEmail)

	provider := cfg.Provider
	if provider == "" {
		provider = integration.ProviderSMTP
	}

	text, err := payload.MarshalIndent(body)
	if err != nil {
		return nil, &errors.DispatchError{Target: "email", Destination: cfg.ToEmail, Message: "encoding body", Cause: err}
	}

	msg := Message{
		From:    cfg.FromEmail,
		To:      recipients,
		Subject: cfg.SubjectLine(),
		Body:    string(text),
	}

	record := payload.NewObject()
	record.Set("type", payload.String("email"))
	record.Set("provider", payload.String(string(provider)))
	if provider == integration.ProviderSMTP {
		record.Set("smtp_server", payload.String(cfg.SMTPServer))
	}
	record.Set("from", payload.String(msg.From))
	record.Set("to", payload.FromNative(recipients))
	record.Set("subject", payload.String(msg.Subject))
	record.Set("body", body)

	deliveryErr := s.deliver(ctx, provider, cfg, msg)
	if deliveryErr != nil {
		failed := payload.NewObject()
		failed.Set("type", payload.String("email"))
		failed.Set("error", payload.String("Failed to send email"))
		out := &Outcome{
			Status:   integration.StatusError,
			Request:  failed,
			Response: errorResponse(deliveryErr),
			Error:    deliveryErr.Error(),
		}
		return out, &errors.DispatchError{
			Target:      "email",
			Destination: strings.Join(recipients, ", "),
			Cause:       deliveryErr,
		}
	}

	message := fmt.Sprintf("Email sent to %d recipient(s)", len(recipients))
	response := payload.NewObject()
	response.Set("status", payload.String("sent"))
	response.Set("recipients", payload.FromNative(recipients))
	response.Set("message", payload.String("Email sent successfully"))

	s.logger.InfoContext(ctx, "email delivered",
		slog.String("provider", string(provider)),
		slog.Int("recipients", len(recipients)),
	)

	return &Outcome{
		Status:   integration.StatusSuccess,
		Request:  record,
		Response: response,
		Body:     response,
		Message:  message,
	}, nil
}

func (s *EmailSender) deliver(ctx context.Context, provider integration.EmailProvider, cfg integration.EmailConfig, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients")
	}
	mailer, ok := s.mailers[provider]
	if !ok {
		return fmt.Errorf("email provider %q is not configured", provider)
	}
	attrs := []slog.Attr{slog.String("provider", string(provider)), slog.Int("recipients", len(msg.To))}
	if provider == integration.ProviderSendGrid {
		attrs = append(attrs, slog.String("api_key", log.SanitizeAPIKey(cfg.APIKey)))
	} else {
		attrs = append(attrs, slog.String("smtp_server", cfg.SMTPServer))
	}
	log.Trace(ctx, s.logger, "delivering email", attrs...)
	return errors.Wrapf(mailer.Deliver(ctx, cfg, msg), "%s delivery", provider)
}
