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

// Package integration defines integration configurations and the run
// records produced each time an event is processed.
package integration

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/courier/internal/payload"
)

// SourceType identifies where events for an integration come from.
type SourceType string

const (
	SourceWebhook SourceType = "webhook"
	SourcePubSub  SourceType = "pubsub"
)

// SubscriptionMode selects how Pub/Sub messages are delivered.
type SubscriptionMode string

const (
	ModePush SubscriptionMode = "push"
	ModePull SubscriptionMode = "pull"
)

// TargetType identifies the dispatch channel.
type TargetType string

const (
	TargetHTTP  TargetType = "http"
	TargetEmail TargetType = "email"
)

// AuthType selects how HTTP targets are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "apikey"
)

// EmailProvider selects the mail delivery backend.
type EmailProvider string

const (
	ProviderSMTP     EmailProvider = "smtp"
	ProviderSendGrid EmailProvider = "sendgrid"
)

// Defaults applied when a configuration omits a value.
const (
	DefaultPullIntervalSeconds = 60
	DefaultMethod              = "POST"
	DefaultAPIKeyHeader        = "X-API-Key"
	DefaultEmailSubject        = "Integration Notification"
	DefaultSMTPPort            = 587
)

// TransformScript is the transform name that marks a script rule in
// configurations authored by the mapping editor.
const TransformScript = "javascript"

// Configuration is a complete integration definition.
type Configuration struct {
	ID             string        `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name" validate:"required,max=255"`
	Mappings       []MappingRule `json:"mappings" yaml:"mappings"`
	Condition      string        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Target         Target        `json:"target" yaml:"target"`
	SourceType     SourceType    `json:"sourceType" yaml:"sourceType" validate:"required,oneof=webhook pubsub"`
	Source         SourceConfig  `json:"sourceConfig,omitempty" yaml:"sourceConfig,omitempty"`
	WebhookPath    string        `json:"webhookPath,omitempty" yaml:"webhookPath,omitempty"`
	PushEndpoint   string        `json:"pushEndpoint,omitempty" yaml:"pushEndpoint,omitempty"`
	IsActive       bool          `json:"isActive" yaml:"isActive"`
	ListenerActive bool          `json:"listenerActive" yaml:"-"`
	CreatedAt      time.Time     `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time     `json:"updatedAt" yaml:"-"`
}

// IsPull reports whether the configuration is consumed by a pull listener.
func (c *Configuration) IsPull() bool {
	return c.SourceType == SourcePubSub && c.Source.SubscriptionMode == ModePull
}

// IsPush reports whether the configuration receives Pub/Sub push deliveries.
func (c *Configuration) IsPush() bool {
	return c.SourceType == SourcePubSub && c.Source.SubscriptionMode != ModePull
}

// SourceConfig holds Pub/Sub source settings.
type SourceConfig struct {
	ProjectID           string           `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	TopicID             string           `json:"topicId,omitempty" yaml:"topicId,omitempty"`
	Subscription        string           `json:"subscription,omitempty" yaml:"subscription,omitempty"`
	SubscriptionMode    SubscriptionMode `json:"subscriptionMode,omitempty" yaml:"subscriptionMode,omitempty" validate:"omitempty,oneof=push pull"`
	PullIntervalSeconds int              `json:"pullIntervalSeconds,omitempty" yaml:"pullIntervalSeconds,omitempty" validate:"gte=0"`
	Credentials         string           `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// PullInterval returns the configured pull interval, defaulting to 60s.
func (s SourceConfig) PullInterval() time.Duration {
	if s.PullIntervalSeconds <= 0 {
		return DefaultPullIntervalSeconds * time.Second
	}
	return time.Duration(s.PullIntervalSeconds) * time.Second
}

// Target describes where transformed payloads are delivered.
type Target struct {
	Type     TargetType        `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=http email"`
	URL      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Method   string            `json:"method,omitempty" yaml:"method,omitempty" validate:"omitempty,oneof=GET POST"`
	AuthType AuthType          `json:"authType,omitempty" yaml:"authType,omitempty" validate:"omitempty,oneof=none bearer basic apikey"`
	Auth     Auth              `json:"auth,omitempty" yaml:"auth,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Email    EmailConfig       `json:"emailConfig,omitempty" yaml:"emailConfig,omitempty"`
}

// Kind returns the target type, defaulting to http.
func (t Target) Kind() TargetType {
	if t.Type == "" {
		return TargetHTTP
	}
	return t.Type
}

// HTTPMethod returns the request method, defaulting to POST.
func (t Target) HTTPMethod() string {
	if t.Method == "" {
		return DefaultMethod
	}
	return t.Method
}

// Auth carries credentials for HTTP targets.
type Auth struct {
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	HeaderName string `json:"headerName,omitempty" yaml:"headerName,omitempty"`
	APIKey     string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
}

// APIKeyHeader returns the header carrying the API key, defaulting to X-API-Key.
func (a Auth) APIKeyHeader() string {
	if a.HeaderName == "" {
		return DefaultAPIKeyHeader
	}
	return a.HeaderName
}

// EmailConfig holds mail delivery settings for email targets.
type EmailConfig struct {
	Provider     EmailProvider `json:"provider,omitempty" yaml:"provider,omitempty" validate:"omitempty,oneof=smtp sendgrid"`
	SMTPServer   string        `json:"smtpServer,omitempty" yaml:"smtpServer,omitempty"`
	SMTPPort     int           `json:"smtpPort,omitempty" yaml:"smtpPort,omitempty" validate:"gte=0,lte=65535"`
	SMTPUsername string        `json:"smtpUsername,omitempty" yaml:"smtpUsername,omitempty"`
	SMTPPassword string        `json:"smtpPassword,omitempty" yaml:"smtpPassword,omitempty"`
	FromEmail    string        `json:"fromEmail,omitempty" yaml:"fromEmail,omitempty" validate:"omitempty,email"`
	ToEmail      string        `json:"toEmail,omitempty" yaml:"toEmail,omitempty"`
	Subject      string        `json:"subject,omitempty" yaml:"subject,omitempty"`
	UseTLS       *bool         `json:"useTLS,omitempty" yaml:"useTLS,omitempty"`
	APIKey       string        `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
}

// TLS reports whether STARTTLS is required. Defaults to true.
func (e EmailConfig) TLS() bool {
	return e.UseTLS == nil || *e.UseTLS
}

// Port returns the SMTP port, defaulting to 587.
func (e EmailConfig) Port() int {
	if e.SMTPPort == 0 {
		return DefaultSMTPPort
	}
	return e.SMTPPort
}

// SubjectLine returns the subject, defaulting to "Integration Notification".
func (e EmailConfig) SubjectLine() string {
	if e.Subject == "" {
		return DefaultEmailSubject
	}
	return e.Subject
}

// MappingRule writes one field of the output payload.
//
// A rule is driven either by Source, which is resolved against the
// incoming payload and passed through Transform, or by Script, which is
// evaluated with the ScriptInputFields bound.
type MappingRule struct {
	Source            string   `json:"source,omitempty" yaml:"source,omitempty"`
	Target            string   `json:"target" yaml:"target"`
	Transform         string   `json:"transform,omitempty" yaml:"transform,omitempty"`
	Params            []any    `json:"params,omitempty" yaml:"params,omitempty"`
	Script            string   `json:"script,omitempty" yaml:"script,omitempty"`
	ScriptInputFields []string `json:"scriptInputFields,omitempty" yaml:"scriptInputFields,omitempty"`
}

// IsScript reports whether the rule is evaluated as a script.
func (r MappingRule) IsScript() bool {
	return r.Script != "" || r.Transform == TransformScript
}

// ParamValues converts Params into payload values.
func (r MappingRule) ParamValues() []payload.Value {
	if len(r.Params) == 0 {
		return nil
	}
	out := make([]payload.Value, len(r.Params))
	for i, p := range r.Params {
		out[i] = payload.FromNative(p)
	}
	return out
}

// mappingRuleDoc accepts both the canonical field names and the
// jsCode/sourceFields spelling written by the mapping editor.
type mappingRuleDoc struct {
	Source            string   `json:"source" yaml:"source"`
	Target            string   `json:"target" yaml:"target"`
	Transform         string   `json:"transform" yaml:"transform"`
	Params            []any    `json:"params" yaml:"params"`
	Script            string   `json:"script" yaml:"script"`
	ScriptInputFields []string `json:"scriptInputFields" yaml:"scriptInputFields"`
	JSCode            string   `json:"jsCode" yaml:"jsCode"`
	SourceFields      []string `json:"sourceFields" yaml:"sourceFields"`
}

func (d mappingRuleDoc) rule() MappingRule {
	r := MappingRule{
		Source:            d.Source,
		Target:            d.Target,
		Transform:         d.Transform,
		Params:            d.Params,
		Script:            d.Script,
		ScriptInputFields: d.ScriptInputFields,
	}
	if r.Script == "" {
		r.Script = d.JSCode
	}
	if len(r.ScriptInputFields) == 0 {
		r.ScriptInputFields = d.SourceFields
	}
	return r
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *MappingRule) UnmarshalJSON(data []byte) error {
	var doc mappingRuleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = doc.rule()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *MappingRule) UnmarshalYAML(node *yaml.Node) error {
	var doc mappingRuleDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	*r = doc.rule()
	return nil
}

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Run is the immutable audit record of one pipeline invocation.
type Run struct {
	ID                   string        `json:"id"`
	IntegrationID        string        `json:"integrationId"`
	IncomingPayload      payload.Value `json:"-"`
	TransformedPayload   payload.Value `json:"-"`
	OutgoingRequest      payload.Value `json:"-"`
	OutgoingResponse     payload.Value `json:"-"`
	Status               Status        `json:"status"`
	ErrorMessage         *string       `json:"errorMessage"`
	TransformationTimeMs int64         `json:"transformationTimeMs"`
	APICallTimeMs        int64         `json:"apiCallTimeMs"`
	CreatedAt            time.Time     `json:"createdAt"`
}

// runJSON is the wire form of Run with payload trees encoded inline.
type runJSON struct {
	ID                   string      `json:"id"`
	IntegrationID        string      `json:"integrationId"`
	IncomingPayload      payload.Raw `json:"incomingPayload"`
	TransformedPayload   payload.Raw `json:"transformedPayload"`
	OutgoingRequest      payload.Raw `json:"outgoingRequest"`
	OutgoingResponse     payload.Raw `json:"outgoingResponse"`
	Status               Status      `json:"status"`
	ErrorMessage         *string     `json:"errorMessage"`
	TransformationTimeMs int64       `json:"transformationTimeMs"`
	APICallTimeMs        int64       `json:"apiCallTimeMs"`
	CreatedAt            time.Time   `json:"createdAt"`
}

// MarshalJSON implements json.Marshaler.
func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal(runJSON{
		ID:                   r.ID,
		IntegrationID:        r.IntegrationID,
		IncomingPayload:      payload.Raw{Value: r.IncomingPayload},
		TransformedPayload:   payload.Raw{Value: r.TransformedPayload},
		OutgoingRequest:      payload.Raw{Value: r.OutgoingRequest},
		OutgoingResponse:     payload.Raw{Value: r.OutgoingResponse},
		Status:               r.Status,
		ErrorMessage:         r.ErrorMessage,
		TransformationTimeMs: r.TransformationTimeMs,
		APICallTimeMs:        r.APICallTimeMs,
		CreatedAt:            r.CreatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Run) UnmarshalJSON(data []byte) error {
	var doc runJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = Run{
		ID:                   doc.ID,
		IntegrationID:        doc.IntegrationID,
		IncomingPayload:      doc.IncomingPayload.Value,
		TransformedPayload:   doc.TransformedPayload.Value,
		OutgoingRequest:      doc.OutgoingRequest.Value,
		OutgoingResponse:     doc.OutgoingResponse.Value,
		Status:               doc.Status,
		ErrorMessage:         doc.ErrorMessage,
		TransformationTimeMs: doc.TransformationTimeMs,
		APICallTimeMs:        doc.APICallTimeMs,
		CreatedAt:            doc.CreatedAt,
	}
	return nil
}
