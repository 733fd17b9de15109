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

// Package memory provides an in-memory store implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/store"
)

// Compile-time interface assertions.
var (
	_ store.RunStore    = (*Backend)(nil)
	_ store.RunLister   = (*Backend)(nil)
	_ store.ConfigStore = (*Backend)(nil)
	_ store.Store       = (*Backend)(nil)
)

// Backend is an in-memory store. Values are copied on the way in and out
// so callers cannot mutate stored records.
type Backend struct {
	mu      sync.RWMutex
	runs    map[string]*integration.Run
	configs map[string]*integration.Configuration
	now     func() time.Time
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		runs:    make(map[string]*integration.Run),
		configs: make(map[string]*integration.Configuration),
		now:     time.Now,
	}
}

// CreateRun creates a new run.
func (b *Backend) CreateRun(ctx context.Context, run *integration.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = b.now().UTC()
	}
	cp := *run
	b.runs[run.ID] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*integration.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, exists := b.runs[id]
	if !exists {
		return nil, store.RunNotFound(id)
	}
	cp := *run
	return &cp, nil
}

// ListRuns lists runs newest first.
func (b *Backend) ListRuns(ctx context.Context, filter store.RunFilter) ([]*integration.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*integration.Run
	for _, run := range b.runs {
		if !filter.Matches(run) {
			continue
		}
		cp := *run
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return page(result, filter.Offset, filter.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// CreateConfiguration stores a new configuration.
func (b *Backend) CreateConfiguration(ctx context.Context, cfg *integration.Configuration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.configs[cfg.ID]; exists {
		return fmt.Errorf("integration already exists: %s", cfg.ID)
	}
	now := b.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	cp := *cfg
	b.configs[cfg.ID] = &cp
	return nil
}

// GetConfiguration retrieves a configuration by ID.
func (b *Backend) GetConfiguration(ctx context.Context, id string) (*integration.Configuration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cfg, exists := b.configs[id]
	if !exists {
		return nil, store.ConfigurationNotFound(id)
	}
	cp := *cfg
	return &cp, nil
}

// UpdateConfiguration replaces a stored configuration. The listener flag
// and creation time are preserved.
func (b *Backend) UpdateConfiguration(ctx context.Context, cfg *integration.Configuration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, exists := b.configs[cfg.ID]
	if !exists {
		return store.ConfigurationNotFound(cfg.ID)
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.ListenerActive = existing.ListenerActive
	cfg.UpdatedAt = b.now().UTC()
	cp := *cfg
	b.configs[cfg.ID] = &cp
	return nil
}

// DeleteConfiguration removes a configuration. Its runs are kept.
func (b *Backend) DeleteConfiguration(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.configs[id]; !exists {
		return store.ConfigurationNotFound(id)
	}
	delete(b.configs, id)
	return nil
}

// ListConfigurations lists configurations by creation time.
func (b *Backend) ListConfigurations(ctx context.Context, filter store.ConfigFilter) ([]*integration.Configuration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*integration.Configuration
	for _, cfg := range b.configs {
		if !filter.Matches(cfg) {
			continue
		}
		cp := *cfg
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// FindByWebhookPath returns the active configuration for a webhook path.
func (b *Backend) FindByWebhookPath(ctx context.Context, path string) (*integration.Configuration, error) {
	return b.findActive(func(c *integration.Configuration) bool { return c.WebhookPath == path }, path)
}

// FindByPushEndpoint returns the active configuration for a push endpoint.
func (b *Backend) FindByPushEndpoint(ctx context.Context, endpoint string) (*integration.Configuration, error) {
	return b.findActive(func(c *integration.Configuration) bool { return c.PushEndpoint == endpoint }, endpoint)
}

func (b *Backend) findActive(match func(*integration.Configuration) bool, key string) (*integration.Configuration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, cfg := range b.configs {
		if cfg.IsActive && match(cfg) {
			cp := *cfg
			return &cp, nil
		}
	}
	return nil, store.ConfigurationNotFound(key)
}

// SetListenerActive updates the listener flag.
func (b *Backend) SetListenerActive(ctx context.Context, id string, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, exists := b.configs[id]
	if !exists {
		return store.ConfigurationNotFound(id)
	}
	cfg.ListenerActive = active
	return nil
}

// Close implements io.Closer.
func (b *Backend) Close() error {
	return nil
}
