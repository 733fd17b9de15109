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

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/store"
	"github.com/tombee/courier/pkg/errors"
)

// integrationView is the API representation of a configuration.
type integrationView struct {
	*integration.Configuration
	WebhookURL string `json:"webhookUrl,omitempty"`
}

func (s *Server) view(cfg *integration.Configuration) integrationView {
	v := integrationView{Configuration: cfg}
	if cfg.WebhookPath != "" {
		base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
		if base == "" {
			base = "http://localhost:8000"
		}
		v.WebhookURL = base + cfg.WebhookPath
	}
	return v
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	filter := store.ConfigFilter{
		SourceType: integration.SourceType(r.URL.Query().Get("source_type")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	configs, err := s.store.ListConfigurations(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list integrations", log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list integrations")
		return
	}

	views := make([]integrationView, 0, len(configs))
	// Newest first, as the admin UI expects.
	for i := len(configs) - 1; i >= 0; i-- {
		views = append(views, s.view(configs[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(cfg))
}

func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeConfiguration(w, r)
	if !ok {
		return
	}
	cfg.ID = uuid.NewString()
	cfg.ListenerActive = false
	integration.AssignPaths(cfg)

	if !s.validate(w, cfg) {
		return
	}
	if err := s.store.CreateConfiguration(r.Context(), cfg); err != nil {
		s.logger.Error("failed to create integration", log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create integration")
		return
	}

	if cfg.SourceType == integration.SourcePubSub && cfg.IsActive {
		s.activate(r.Context(), cfg)
	}

	s.logger.Info("integration created",
		slog.String(log.IntegrationIDKey, cfg.ID),
		slog.String("source_type", string(cfg.SourceType)),
	)
	writeJSON(w, http.StatusCreated, s.view(cfg))
}

func (s *Server) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	previous, ok := s.lookup(w, r)
	if !ok {
		return
	}
	cfg, ok := s.decodeConfiguration(w, r)
	if !ok {
		return
	}
	cfg.ID = previous.ID
	cfg.WebhookPath = previous.WebhookPath
	cfg.PushEndpoint = previous.PushEndpoint
	integration.AssignPaths(cfg)

	if !s.validate(w, cfg) {
		return
	}
	if err := s.store.UpdateConfiguration(r.Context(), cfg); err != nil {
		s.logger.Error("failed to update integration", slog.String(log.IntegrationIDKey, cfg.ID), log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update integration")
		return
	}

	if previous.SourceType == integration.SourcePubSub || cfg.SourceType == integration.SourcePubSub {
		if err := s.listeners.Reconcile(r.Context(), previous, cfg); err != nil {
			s.logger.Warn("failed to restart listener", slog.String(log.IntegrationIDKey, cfg.ID), log.Error(err))
		}
	}

	s.respondCurrent(w, r, cfg.ID, http.StatusOK)
}

func (s *Server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if cfg.SourceType == integration.SourcePubSub && cfg.ListenerActive {
		s.listeners.Deactivate(r.Context(), cfg)
	}
	if err := s.store.DeleteConfiguration(r.Context(), cfg.ID); err != nil && !store.IsNotFound(err) {
		s.logger.Error("failed to delete integration", slog.String(log.IntegrationIDKey, cfg.ID), log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete integration")
		return
	}
	s.logger.Info("integration deleted", slog.String(log.IntegrationIDKey, cfg.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	cfg.IsActive = !cfg.IsActive
	if err := s.store.UpdateConfiguration(r.Context(), cfg); err != nil {
		s.logger.Error("failed to toggle integration", slog.String(log.IntegrationIDKey, cfg.ID), log.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update integration")
		return
	}

	if cfg.SourceType == integration.SourcePubSub {
		if cfg.IsActive {
			s.activate(r.Context(), cfg)
		} else {
			s.listeners.Deactivate(r.Context(), cfg)
		}
	}

	s.respondCurrent(w, r, cfg.ID, http.StatusOK)
}

func (s *Server) handleTestPubSub(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if cfg.SourceType != integration.SourcePubSub {
		writeError(w, http.StatusBadRequest, "Integration is not a Pub/Sub integration")
		return
	}

	var req struct {
		MessageData payload.Raw `json:"message_data"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}
	}
	data := req.MessageData.Value
	if data == nil || data.Kind() == payload.KindNull {
		data = payload.NewObject()
	}

	messageID, err := s.transport.Publish(r.Context(), cfg.Source, data)
	if err != nil {
		s.logger.Error("failed to publish test message", slog.String(log.IntegrationIDKey, cfg.ID), log.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"message":    "Test message published to Pub/Sub",
		"message_id": messageID,
		"topic":      cfg.Source.TopicID,
	})
}

// activate starts a listener, logging failures. The configuration is
// still saved when its listener cannot start.
func (s *Server) activate(ctx context.Context, cfg *integration.Configuration) {
	if err := s.listeners.Activate(ctx, cfg); err != nil {
		s.logger.Warn("failed to start listener", slog.String(log.IntegrationIDKey, cfg.ID), log.Error(err))
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*integration.Configuration, bool) {
	cfg, err := s.store.GetConfiguration(r.Context(), r.PathValue("id"))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Not found.")
		} else {
			s.logger.Error("failed to load integration", log.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load integration")
		}
		return nil, false
	}
	return cfg, true
}

func (s *Server) respondCurrent(w http.ResponseWriter, r *http.Request, id string, status int) {
	cfg, err := s.store.GetConfiguration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load integration")
		return
	}
	writeJSON(w, status, s.view(cfg))
}

func (s *Server) decodeConfiguration(w http.ResponseWriter, r *http.Request) (*integration.Configuration, bool) {
	var cfg integration.Configuration
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid integration: " + err.Error()})
		return nil, false
	}
	return &cfg, true
}

func (s *Server) validate(w http.ResponseWriter, cfg *integration.Configuration) bool {
	err := integration.Validate(cfg)
	if err == nil {
		return true
	}
	resp := map[string]string{"error": err.Error()}
	if field := errors.Field(err); field != "" {
		resp["field"] = field
	}
	writeJSON(w, http.StatusBadRequest, resp)
	return false
}
