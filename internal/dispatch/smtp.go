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
	"time"

	"github.com/wneessen/go-mail"

	"github.com/tombee/courier/internal/integration"
)

// SMTPMailer delivers mail over SMTP. STARTTLS is mandatory unless the
// target disables TLS, and SMTP AUTH is used whenever a username is set.
type SMTPMailer struct {
	// Timeout bounds connection and delivery. Zero uses go-mail's default.
	Timeout time.Duration
}

// Deliver implements Mailer.
func (m *SMTPMailer) Deliver(ctx context.Context, cfg integration.EmailConfig, msg Message) error {
	if cfg.SMTPServer == "" {
		return fmt.Errorf("smtp server is not configured")
	}

	email, err := buildMessage(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(cfg.SMTPServer, clientOptions(cfg, m.Timeout)...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("sending via %s:%d: %w", cfg.SMTPServer, cfg.Port(), err)
	}
	return nil
}

func clientOptions(cfg integration.EmailConfig, timeout time.Duration) []mail.Option {
	opts := []mail.Option{mail.WithPort(cfg.Port())}
	if cfg.TLS() {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}
	if timeout > 0 {
		opts = append(opts, mail.WithTimeout(timeout))
	}
	return opts
}

func buildMessage(msg Message) (*mail.Msg, error) {
	email := mail.NewMsg()
	if err := email.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", msg.From, err)
	}
	if err := email.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextPlain, msg.Body)
	return email, nil
}
