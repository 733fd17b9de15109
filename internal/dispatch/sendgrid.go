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

	sendgridgo "github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/tombee/courier/internal/integration"
)

// SendGridMailer delivers mail through the SendGrid v3 API using the
// target's API key.
type SendGridMailer struct {
	// Host overrides the API host. Empty uses https://api.sendgrid.com.
	Host string
}

// Deliver implements Mailer.
func (m *SendGridMailer) Deliver(ctx context.Context, cfg integration.EmailConfig, msg Message) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("sendgrid api key is not configured")
	}

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(sgmail.NewEmail("", msg.From))
	v3.Subject = msg.Subject

	p := sgmail.NewPersonalization()
	for _, addr := range msg.To {
		p.AddTos(sgmail.NewEmail("", addr))
	}
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgridgo.GetRequest(cfg.APIKey, "/v3/mail/send", m.Host)
	req.Method = "POST"
	req.Body = sgmail.GetRequestBody(v3)

	resp, err := sendgridgo.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sendgrid returned HTTP %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
