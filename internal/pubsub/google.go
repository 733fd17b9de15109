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

package pubsub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gpubsub "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
)

// Defaults for GoogleConfig.
const (
	DefaultPullTimeout        = 10 * time.Second
	DefaultAckDeadlineSeconds = 60
)

// GoogleConfig configures a GoogleTransport.
type GoogleConfig struct {
	// PullTimeout bounds a single pull call. Default: 10s.
	PullTimeout time.Duration

	// AckDeadlineSeconds is set on subscriptions this transport creates.
	// Default: 60.
	AckDeadlineSeconds int32

	// ClientOptions are appended to every client, after credentials.
	ClientOptions []option.ClientOption

	Logger *slog.Logger
}

type clients struct {
	sub *gpubsub.SubscriberClient
	pub *gpubsub.PublisherClient
}

// GoogleTransport implements Transport on the Pub/Sub v1 gRPC API.
// Clients are cached per credentials document.
type GoogleTransport struct {
	cfg    GoogleConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clients
}

var _ Transport = (*GoogleTransport)(nil)

// NewGoogleTransport creates a transport. No connection is made until the
// first call.
func NewGoogleTransport(cfg GoogleConfig) *GoogleTransport {
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.AckDeadlineSeconds <= 0 {
		cfg.AckDeadlineSeconds = DefaultAckDeadlineSeconds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GoogleTransport{
		cfg:     cfg,
		logger:  log.WithComponent(cfg.Logger, "pubsub"),
		clients: make(map[string]*clients),
	}
}

func (t *GoogleTransport) clientsFor(ctx context.Context, creds string) (*clients, error) {
	if err := ValidateCredentials(creds); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(creds))
	key := hex.EncodeToString(sum[:])

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	var opts []option.ClientOption
	if creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	opts = append(opts, t.cfg.ClientOptions...)

	sub, err := gpubsub.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating subscriber client: %w", err)
	}
	pub, err := gpubsub.NewPublisherClient(ctx, opts...)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("creating publisher client: %w", err)
	}
	c := &clients{sub: sub, pub: pub}
	t.clients[key] = c
	return c, nil
}

// Pull implements Transport.
func (t *GoogleTransport) Pull(ctx context.Context, src integration.SourceConfig, max int) ([]Message, error) {
	c, err := t.clientsFor(ctx, src.Credentials)
	if err != nil {
		return nil, err
	}
	subscription := SubscriptionPath(src.ProjectID, src.Subscription)

	pullCtx, cancel := context.WithTimeout(ctx, t.cfg.PullTimeout)
	defer cancel()
	resp, err := c.sub.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: subscription,
		MaxMessages:  int32(max),
	})
	if err != nil {
		// An empty subscription can surface as a deadline on long polls.
		if status.Code(err) == codes.DeadlineExceeded && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("pulling %s: %w", subscription, err)
	}

	received := resp.GetReceivedMessages()
	if len(received) == 0 {
		return nil, nil
	}

	messages := make([]Message, 0, len(received))
	ackIDs := make([]string, 0, len(received))
	for _, rm := range received {
		m := rm.GetMessage()
		msg := Message{
			ID:         m.GetMessageId(),
			Data:       payload.ParseOrString(m.GetData()),
			Attributes: m.GetAttributes(),
		}
		if ts := m.GetPublishTime(); ts != nil {
			msg.PublishTime = ts.AsTime()
		}
		if msg.Attributes == nil {
			msg.Attributes = map[string]string{}
		}
		messages = append(messages, msg)
		ackIDs = append(ackIDs, rm.GetAckId())
	}

	if err := c.sub.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: subscription,
		AckIds:       ackIDs,
	}); err != nil {
		return nil, fmt.Errorf("acknowledging %d messages on %s: %w", len(ackIDs), subscription, err)
	}

	t.logger.DebugContext(ctx, "pulled and acknowledged messages",
		slog.String("subscription", subscription),
		slog.Int("count", len(messages)),
	)
	return messages, nil
}

// EnsurePushSubscription implements Transport.
func (t *GoogleTransport) EnsurePushSubscription(ctx context.Context, src integration.SourceConfig, endpoint string) error {
	c, err := t.clientsFor(ctx, src.Credentials)
	if err != nil {
		return err
	}
	name := SubscriptionPath(src.ProjectID, src.Subscription)

	existing, err := c.sub.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	switch {
	case err == nil:
		if existing.GetPushConfig().GetPushEndpoint() == endpoint {
			return nil
		}
		_, err = c.sub.UpdateSubscription(ctx, &pubsubpb.UpdateSubscriptionRequest{
			Subscription: &pubsubpb.Subscription{
				Name:       name,
				PushConfig: &pubsubpb.PushConfig{PushEndpoint: endpoint},
			},
			UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"push_config"}},
		})
		if err != nil {
			return fmt.Errorf("updating push endpoint of %s: %w", name, err)
		}
		t.logger.InfoContext(ctx, "updated push endpoint", slog.String("subscription", name))
		return nil
	case status.Code(err) != codes.NotFound:
		return fmt.Errorf("getting subscription %s: %w", name, err)
	}

	return t.create(ctx, c, &pubsubpb.Subscription{
		Name:               name,
		Topic:              TopicPath(src.ProjectID, src.TopicID),
		PushConfig:         &pubsubpb.PushConfig{PushEndpoint: endpoint},
		AckDeadlineSeconds: t.cfg.AckDeadlineSeconds,
	})
}

// EnsurePullSubscription implements Transport.
func (t *GoogleTransport) EnsurePullSubscription(ctx context.Context, src integration.SourceConfig) error {
	c, err := t.clientsFor(ctx, src.Credentials)
	if err != nil {
		return err
	}
	name := SubscriptionPath(src.ProjectID, src.Subscription)

	_, err = c.sub.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("getting subscription %s: %w", name, err)
	}

	return t.create(ctx, c, &pubsubpb.Subscription{
		Name:               name,
		Topic:              TopicPath(src.ProjectID, src.TopicID),
		AckDeadlineSeconds: t.cfg.AckDeadlineSeconds,
	})
}

func (t *GoogleTransport) create(ctx context.Context, c *clients, sub *pubsubpb.Subscription) error {
	_, err := c.sub.CreateSubscription(ctx, sub)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating subscription %s: %w", sub.GetName(), err)
	}
	t.logger.InfoContext(ctx, "created subscription",
		slog.String("subscription", sub.GetName()),
		slog.String("topic", sub.GetTopic()),
		slog.Bool("push", sub.GetPushConfig().GetPushEndpoint() != ""),
	)
	return nil
}

// DeleteSubscription implements Transport.
func (t *GoogleTransport) DeleteSubscription(ctx context.Context, src integration.SourceConfig) error {
	c, err := t.clientsFor(ctx, src.Credentials)
	if err != nil {
		return err
	}
	name := SubscriptionPath(src.ProjectID, src.Subscription)

	err = c.sub.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{Subscription: name})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting subscription %s: %w", name, err)
	}
	return nil
}

// Publish implements Transport.
func (t *GoogleTransport) Publish(ctx context.Context, src integration.SourceConfig, data payload.Value) (string, error) {
	c, err := t.clientsFor(ctx, src.Credentials)
	if err != nil {
		return "", err
	}
	body, err := payload.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	topic := TopicPath(src.ProjectID, src.TopicID)
	resp, err := c.pub.Publish(ctx, &pubsubpb.PublishRequest{
		Topic:    topic,
		Messages: []*pubsubpb.PubsubMessage{{Data: body}},
	})
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", topic, err)
	}
	ids := resp.GetMessageIds()
	if len(ids) == 0 {
		return "", fmt.Errorf("publishing to %s: no message id returned", topic)
	}
	return ids[0], nil
}

// Close releases all cached clients.
func (t *GoogleTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for key, c := range t.clients {
		if err := c.sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.pub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.clients, key)
	}
	return firstErr
}
