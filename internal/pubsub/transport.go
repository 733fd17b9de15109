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

// Package pubsub talks to Google Cloud Pub/Sub: pulling messages,
// decoding push deliveries and managing the subscriptions that feed
// integrations.
package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/pkg/errors"
)

// Message is a received Pub/Sub message. Data holds the decoded JSON
// body, or a String when the body is not JSON.
type Message struct {
	ID          string
	Data        payload.Value
	Attributes  map[string]string
	PublishTime time.Time
}

// Transport is the Pub/Sub surface used by listeners and the admin API.
// Every call takes the integration's source settings, which carry the
// project, topic, subscription and optional service-account credentials.
type Transport interface {
	// Pull receives up to max messages and acknowledges them before
	// returning, so a message is never redelivered after Pull succeeds.
	Pull(ctx context.Context, src integration.SourceConfig, max int) ([]Message, error)

	// EnsurePushSubscription creates the subscription with endpoint as its
	// push target, or updates the endpoint of an existing one.
	EnsurePushSubscription(ctx context.Context, src integration.SourceConfig, endpoint string) error

	// EnsurePullSubscription creates the subscription if it does not exist.
	EnsurePullSubscription(ctx context.Context, src integration.SourceConfig) error

	// DeleteSubscription removes the subscription. A missing subscription
	// is not an error.
	DeleteSubscription(ctx context.Context, src integration.SourceConfig) error

	// Publish sends data as a JSON message to the topic and returns the
	// server-assigned message id.
	Publish(ctx context.Context, src integration.SourceConfig, data payload.Value) (string, error)
}

// pushEnvelope is the body of a Pub/Sub push request.
type pushEnvelope struct {
	Message *struct {
		Data           string            `json:"data"`
		Attributes     map[string]string `json:"attributes"`
		MessageID      string            `json:"messageId"`
		MessageIDAlt   string            `json:"message_id"`
		PublishTime    string            `json:"publishTime"`
		PublishTimeAlt string            `json:"publish_time"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePush unwraps a push delivery body into a Message.
func DecodePush(body []byte) (*Message, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &errors.ValidationError{Field: "body", Message: fmt.Sprintf("invalid Pub/Sub push envelope: %v", err)}
	}
	if env.Message == nil {
		return nil, &errors.ValidationError{Field: "message", Message: "invalid Pub/Sub message format: missing message"}
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, &errors.ValidationError{Field: "message.data", Message: fmt.Sprintf("data is not base64: %v", err)}
	}

	msg := &Message{
		ID:         firstNonEmpty(env.Message.MessageID, env.Message.MessageIDAlt),
		Data:       payload.ParseOrString(raw),
		Attributes: env.Message.Attributes,
	}
	if ts := firstNonEmpty(env.Message.PublishTime, env.Message.PublishTimeAlt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.PublishTime = t
		}
	}
	if msg.Attributes == nil {
		msg.Attributes = map[string]string{}
	}
	return msg, nil
}

// SubscriptionPath returns the fully qualified subscription name.
func SubscriptionPath(project, subscription string) string {
	if strings.HasPrefix(subscription, "projects/") {
		return subscription
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", project, subscription)
}

// TopicPath returns the fully qualified topic name.
func TopicPath(project, topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", project, topic)
}

// ValidateCredentials checks that creds, when set, is a service-account
// style JSON document.
func ValidateCredentials(creds string) error {
	if strings.TrimSpace(creds) == "" {
		return nil
	}
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(creds), &doc); err != nil {
		return &errors.ConfigError{Key: "sourceConfig.credentials", Reason: "invalid service account credentials", Cause: err}
	}
	if doc.Type == "" {
		return &errors.ConfigError{Key: "sourceConfig.credentials", Reason: "credentials document has no type"}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
