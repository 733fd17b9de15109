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

// Package store defines persistence for integration configurations and
// their run records.
//
// # Interface Hierarchy
//
//   - RunStore (core, required by the pipeline): CreateRun, GetRun
//   - RunLister (optional): ListRuns
//   - ConfigStore: configuration CRUD and lookups by endpoint
//   - io.Closer: Close
//
// Store composes all of these. Components accept the narrowest interface
// they need. Runs are append-only; no interface updates or deletes them.
package store

import (
	"context"
	"io"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/pkg/errors"
)

// RunStore persists run records.
type RunStore interface {
	// CreateRun stores a new run. The run's ID must be unique.
	CreateRun(ctx context.Context, run *integration.Run) error

	// GetRun retrieves a run by ID. Returns *errors.NotFoundError when absent.
	GetRun(ctx context.Context, id string) (*integration.Run, error)
}

// RunLister lists run records, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, filter RunFilter) ([]*integration.Run, error)
}

// ConfigStore persists integration configurations.
type ConfigStore interface {
	CreateConfiguration(ctx context.Context, cfg *integration.Configuration) error
	GetConfiguration(ctx context.Context, id string) (*integration.Configuration, error)
	UpdateConfiguration(ctx context.Context, cfg *integration.Configuration) error
	DeleteConfiguration(ctx context.Context, id string) error
	ListConfigurations(ctx context.Context, filter ConfigFilter) ([]*integration.Configuration, error)

	// FindByWebhookPath returns the active configuration owning path.
	FindByWebhookPath(ctx context.Context, path string) (*integration.Configuration, error)

	// FindByPushEndpoint returns the active configuration owning endpoint.
	FindByPushEndpoint(ctx context.Context, endpoint string) (*integration.Configuration, error)

	// SetListenerActive records whether a background listener is running.
	SetListenerActive(ctx context.Context, id string, active bool) error
}

// Store is the full storage interface.
type Store interface {
	RunStore
	RunLister
	ConfigStore
	io.Closer
}

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	IntegrationID string
	Status        integration.Status
	Limit         int
	Offset        int
}

// ConfigFilter contains filtering options for listing configurations.
type ConfigFilter struct {
	SourceType integration.SourceType
	ActiveOnly bool
}

// Matches reports whether cfg passes the filter.
func (f ConfigFilter) Matches(cfg *integration.Configuration) bool {
	if f.SourceType != "" && cfg.SourceType != f.SourceType {
		return false
	}
	if f.ActiveOnly && !cfg.IsActive {
		return false
	}
	return true
}

// Matches reports whether run passes the filter, ignoring paging.
func (f RunFilter) Matches(run *integration.Run) bool {
	if f.IntegrationID != "" && run.IntegrationID != f.IntegrationID {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	return true
}

// RunNotFound builds the not-found error for a run id.
func RunNotFound(id string) error {
	return &errors.NotFoundError{Resource: "run", ID: id}
}

// ConfigurationNotFound builds the not-found error for a configuration key.
func ConfigurationNotFound(key string) error {
	return &errors.NotFoundError{Resource: "integration", ID: key}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var nf *errors.NotFoundError
	return errors.As(err, &nf)
}
