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

// Package pubsubtest provides an in-memory pubsub.Transport for tests.
package pubsubtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/pubsub"
)

// Subscription is the recorded state of a subscription on the fake.
type Subscription struct {
	Topic        string
	PushEndpoint string
}

// Fake is a pubsub.Transport backed by maps. Queued messages are returned
// by Pull in FIFO order.
type Fake struct {
	mu            sync.Mutex
	queues        map[string][]pubsub.Message
	subscriptions map[string]Subscription
	published     []payload.Value
	pulls         int
	nextID        int

	// PullErr, when set, is returned by every Pull.
	PullErr error
	// EnsureErr, when set, is returned by the Ensure* methods.
	EnsureErr error
	// PublishErr, when set, is returned by Publish.
	PublishErr error
}

var _ pubsub.Transport = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		queues:        make(map[string][]pubsub.Message),
		subscriptions: make(map[string]Subscription),
	}
}

func key(src integration.SourceConfig) string {
	return pubsub.SubscriptionPath(src.ProjectID, src.Subscription)
}

// Enqueue adds messages for the subscription of src.
func (f *Fake) Enqueue(src integration.SourceConfig, data ...payload.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range data {
		f.nextID++
		f.queues[key(src)] = append(f.queues[key(src)], pubsub.Message{
			ID:         fmt.Sprintf("msg-%d", f.nextID),
			Data:       d,
			Attributes: map[string]string{},
		})
	}
}

// Pull implements pubsub.Transport.
func (f *Fake) Pull(ctx context.Context, src integration.SourceConfig, max int) ([]pubsub.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if f.PullErr != nil {
		return nil, f.PullErr
	}
	q := f.queues[key(src)]
	n := min(max, len(q))
	out := append([]pubsub.Message(nil), q[:n]...)
	f.queues[key(src)] = q[n:]
	return out, nil
}

// EnsurePushSubscription implements pubsub.Transport.
func (f *Fake) EnsurePushSubscription(ctx context.Context, src integration.SourceConfig, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnsureErr != nil {
		return f.EnsureErr
	}
	f.subscriptions[key(src)] = Subscription{Topic: pubsub.TopicPath(src.ProjectID, src.TopicID), PushEndpoint: endpoint}
	return nil
}

// EnsurePullSubscription implements pubsub.Transport.
func (f *Fake) EnsurePullSubscription(ctx context.Context, src integration.SourceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnsureErr != nil {
		return f.EnsureErr
	}
	if _, ok := f.subscriptions[key(src)]; !ok {
		f.subscriptions[key(src)] = Subscription{Topic: pubsub.TopicPath(src.ProjectID, src.TopicID)}
	}
	return nil
}

// DeleteSubscription implements pubsub.Transport.
func (f *Fake) DeleteSubscription(ctx context.Context, src integration.SourceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscriptions, key(src))
	return nil
}

// Publish implements pubsub.Transport. Published data is also queued on
// the subscription of src.
func (f *Fake) Publish(ctx context.Context, src integration.SourceConfig, data payload.Value) (string, error) {
	f.mu.Lock()
	if f.PublishErr != nil {
		f.mu.Unlock()
		return "", f.PublishErr
	}
	f.published = append(f.published, data)
	f.mu.Unlock()

	f.Enqueue(src, data)

	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[key(src)]
	return q[len(q)-1].ID, nil
}

// Subscription returns the recorded subscription for src.
func (f *Fake) Subscription(src integration.SourceConfig) (Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[key(src)]
	return s, ok
}

// Published returns every payload passed to Publish.
func (f *Fake) Published() []payload.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payload.Value(nil), f.published...)
}

// Pulls returns the number of Pull calls.
func (f *Fake) Pulls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls
}
