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

// Package subscription manages the Pub/Sub side of integration listeners:
// the subscription on Google's side and, in pull mode, the local puller.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/pubsub"
	"github.com/tombee/courier/internal/store"
	"github.com/tombee/courier/pkg/errors"
)

// Puller starts and stops pull listeners. *puller.Scheduler satisfies it.
type Puller interface {
	Start(cfg *integration.Configuration) error
	Stop(id string)
}

// ListenerStore is the part of store.ConfigStore the manager writes to.
type ListenerStore interface {
	SetListenerActive(ctx context.Context, id string, active bool) error
	ListConfigurations(ctx context.Context, filter store.ConfigFilter) ([]*integration.Configuration, error)
}

// Config configures a Manager.
type Config struct {
	// PublicBaseURL prefixes push endpoints when creating push
	// subscriptions.
	PublicBaseURL string
	Logger        *slog.Logger
}

// Manager activates and deactivates listeners.
type Manager struct {
	transport pubsub.Transport
	puller    Puller
	configs   ListenerStore
	baseURL   string
	logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(transport pubsub.Transport, puller Puller, configs ListenerStore, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		transport: transport,
		puller:    puller,
		configs:   configs,
		baseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:    log.WithComponent(cfg.Logger, "subscription"),
	}
}

// PushURL returns the public URL Pub/Sub should push to for cfg.
func (m *Manager) PushURL(cfg *integration.Configuration) (string, error) {
	if m.baseURL == "" {
		return "", &errors.ConfigError{Key: "server.public_base_url", Reason: "required for push subscriptions"}
	}
	if cfg.PushEndpoint == "" {
		return "", &errors.ConfigError{Key: "pushEndpoint", Reason: "integration has no push endpoint"}
	}
	return m.baseURL + cfg.PushEndpoint, nil
}

// Activate ensures the subscription for cfg exists and, in pull mode,
// starts its puller. The listener flag is set on success. Non-Pub/Sub
// configurations are ignored.
func (m *Manager) Activate(ctx context.Context, cfg *integration.Configuration) error {
	if cfg.SourceType != integration.SourcePubSub {
		return nil
	}
	logger := log.WithIntegration(m.logger, cfg.ID)

	if cfg.IsPull() {
		if err := m.transport.EnsurePullSubscription(ctx, cfg.Source); err != nil {
			return fmt.Errorf("failed to ensure pull subscription: %w", err)
		}
		if err := m.puller.Start(cfg); err != nil {
			return fmt.Errorf("failed to start puller: %w", err)
		}
	} else {
		endpoint, err := m.PushURL(cfg)
		if err != nil {
			return err
		}
		if err := m.transport.EnsurePushSubscription(ctx, cfg.Source, endpoint); err != nil {
			return fmt.Errorf("failed to ensure push subscription: %w", err)
		}
	}

	if err := m.configs.SetListenerActive(ctx, cfg.ID, true); err != nil {
		return fmt.Errorf("failed to mark listener active: %w", err)
	}
	cfg.ListenerActive = true

	logger.Info("listener activated",
		slog.String("mode", string(cfg.Source.SubscriptionMode)),
		slog.String("subscription", cfg.Source.Subscription),
	)
	return nil
}

// Deactivate stops the puller, deletes the subscription and clears the
// listener flag. Failures are logged and otherwise ignored so a broken
// remote never blocks disabling an integration.
func (m *Manager) Deactivate(ctx context.Context, cfg *integration.Configuration) {
	if cfg.SourceType != integration.SourcePubSub {
		return
	}
	logger := log.WithIntegration(m.logger, cfg.ID)

	if cfg.IsPull() {
		m.puller.Stop(cfg.ID)
	}
	if err := m.transport.DeleteSubscription(ctx, cfg.Source); err != nil {
		logger.Warn("failed to delete subscription", log.Error(err))
	}
	if err := m.configs.SetListenerActive(ctx, cfg.ID, false); err != nil && !store.IsNotFound(err) {
		logger.Warn("failed to clear listener flag", log.Error(err))
	}
	cfg.ListenerActive = false

	logger.Info("listener deactivated")
}

// Reconcile brings the listener of an updated configuration in line with
// its new settings: the previous listener is torn down, and a new one is
// started if the configuration is active.
func (m *Manager) Reconcile(ctx context.Context, previous, current *integration.Configuration) error {
	if previous != nil && previous.SourceType == integration.SourcePubSub && previous.ListenerActive {
		m.Deactivate(ctx, previous)
	}
	if current.IsActive {
		return m.Activate(ctx, current)
	}
	return nil
}

// ActivateAll activates every active Pub/Sub configuration. It keeps
// going after a failure and returns the number activated along with the
// first error.
func (m *Manager) ActivateAll(ctx context.Context) (int, error) {
	configs, err := m.configs.ListConfigurations(ctx, store.ConfigFilter{
		SourceType: integration.SourcePubSub,
		ActiveOnly: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list integrations: %w", err)
	}

	var firstErr error
	activated := 0
	for _, cfg := range configs {
		if err := m.Activate(ctx, cfg); err != nil {
			m.logger.Error("failed to activate listener",
				slog.String(log.IntegrationIDKey, cfg.ID),
				log.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		activated++
	}
	return activated, firstErr
}
