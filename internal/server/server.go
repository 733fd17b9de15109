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

// Package server exposes the HTTP surface: inbound webhook and Pub/Sub
// push deliveries, the integration admin API, run history, health and
// metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/pipeline"
	"github.com/tombee/courier/internal/pubsub"
	"github.com/tombee/courier/internal/store"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 10 << 20

// Processor runs one payload through an integration.
type Processor interface {
	Process(ctx context.Context, cfg *integration.Configuration, incoming payload.Value) (*pipeline.Result, error)
}

// Listeners manages Pub/Sub listeners. *subscription.Manager satisfies it.
type Listeners interface {
	Activate(ctx context.Context, cfg *integration.Configuration) error
	Deactivate(ctx context.Context, cfg *integration.Configuration)
	Reconcile(ctx context.Context, previous, current *integration.Configuration) error
}

// Config configures a Server.
type Config struct {
	// PublicBaseURL prefixes webhook paths in API responses.
	PublicBaseURL string

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	Version string
	Logger  *slog.Logger
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store     store.Store
	processor Processor
	listeners Listeners
	transport pubsub.Transport
	cfg       Config
	logger    *slog.Logger
	started   time.Time
}

// New creates a Server.
func New(st store.Store, processor Processor, listeners Listeners, transport pubsub.Transport, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		store:     st,
		processor: processor,
		listeners: listeners,
		transport: transport,
		cfg:       cfg,
		logger:    log.WithComponent(cfg.Logger, "server"),
		started:   time.Now(),
	}
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, p := range []string{"/webhook/{path}/{$}", "/webhook/{path}"} {
		mux.HandleFunc("POST "+p, s.handleWebhook)
	}
	for _, p := range []string{"/pubsub/{path}/{$}", "/pubsub/{path}"} {
		mux.HandleFunc("POST "+p, s.handlePubSubPush)
	}

	mux.HandleFunc("GET /api/integrations/{$}", s.handleListIntegrations)
	mux.HandleFunc("POST /api/integrations/{$}", s.handleCreateIntegration)
	mux.HandleFunc("GET /api/integrations/{id}/{$}", s.handleGetIntegration)
	mux.HandleFunc("PUT /api/integrations/{id}/{$}", s.handleUpdateIntegration)
	mux.HandleFunc("DELETE /api/integrations/{id}/{$}", s.handleDeleteIntegration)
	mux.HandleFunc("POST /api/integrations/{id}/toggle_active/{$}", s.handleToggleActive)
	mux.HandleFunc("POST /api/integrations/{id}/test_pubsub/{$}", s.handleTestPubSub)

	mux.HandleFunc("GET /api/runs/{$}", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}/{$}", s.handleGetRun)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}

	return log.NewHTTPMiddleware(s.logger).Wrap(mux)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
