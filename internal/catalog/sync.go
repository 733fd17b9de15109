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

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/store"
)

// Listeners restarts Pub/Sub listeners. *subscription.Manager satisfies it.
type Listeners interface {
	Reconcile(ctx context.Context, previous, current *integration.Configuration) error
}

// Summary counts what Apply did.
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
}

// Syncer upserts file-declared configurations into a store.
// Configurations absent from the file are left alone, so integrations
// created through the API survive a reload.
type Syncer struct {
	configs   store.ConfigStore
	listeners Listeners
	logger    *slog.Logger

	// mu serializes Apply so reconciles never overlap.
	mu sync.Mutex
}

// NewSyncer creates a Syncer. listeners may be nil when no Pub/Sub
// listeners should be managed, as in one-shot CLI commands.
func NewSyncer(configs store.ConfigStore, listeners Listeners, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		configs:   configs,
		listeners: listeners,
		logger:    log.WithComponent(logger, "catalog"),
	}
}

// Apply upserts every configuration by id. Entries without inbound paths
// keep the ones already stored, or get new ones on first load. Listener
// failures are logged and do not stop the remaining entries.
func (s *Syncer) Apply(ctx context.Context, configs []*integration.Configuration) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	for _, cfg := range configs {
		previous, err := s.configs.GetConfiguration(ctx, cfg.ID)
		switch {
		case store.IsNotFound(err):
			integration.AssignPaths(cfg)
			if err := s.configs.CreateConfiguration(ctx, cfg); err != nil {
				return sum, fmt.Errorf("failed to create integration %s: %w", cfg.ID, err)
			}
			sum.Created++
			s.reconcile(ctx, nil, cfg)
			continue
		case err != nil:
			return sum, fmt.Errorf("failed to load integration %s: %w", cfg.ID, err)
		}

		if cfg.WebhookPath == "" && cfg.SourceType == previous.SourceType {
			cfg.WebhookPath = previous.WebhookPath
		}
		if cfg.PushEndpoint == "" && cfg.IsPush() {
			cfg.PushEndpoint = previous.PushEndpoint
		}
		integration.AssignPaths(cfg)

		if same(previous, cfg) {
			sum.Unchanged++
			continue
		}
		if err := s.configs.UpdateConfiguration(ctx, cfg); err != nil {
			return sum, fmt.Errorf("failed to update integration %s: %w", cfg.ID, err)
		}
		sum.Updated++
		s.reconcile(ctx, previous, cfg)
	}

	s.logger.Info("integrations file applied",
		slog.Int("created", sum.Created),
		slog.Int("updated", sum.Updated),
		slog.Int("unchanged", sum.Unchanged),
	)
	return sum, nil
}

func (s *Syncer) reconcile(ctx context.Context, previous, current *integration.Configuration) {
	if s.listeners == nil {
		return
	}
	if current.SourceType != integration.SourcePubSub && (previous == nil || previous.SourceType != integration.SourcePubSub) {
		return
	}
	if err := s.listeners.Reconcile(ctx, previous, current); err != nil {
		s.logger.Warn("failed to reconcile listener",
			slog.String(log.IntegrationIDKey, current.ID),
			log.Error(err),
		)
	}
}

// same compares the declarative parts of two configurations.
func same(a, b *integration.Configuration) bool {
	return fingerprint(a) == fingerprint(b)
}

func fingerprint(cfg *integration.Configuration) string {
	cp := *cfg
	cp.ListenerActive = false
	cp.CreatedAt = time.Time{}
	cp.UpdatedAt = time.Time{}
	data, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	return string(data)
}
