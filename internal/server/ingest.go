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
	"io"
	"log/slog"
	"net/http"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/pubsub"
	"github.com/tombee/courier/internal/store"
)

// handleWebhook runs the webhook body through the integration owning the
// path. Only processing failures return 500; a run that recorded a
// non-2xx target response still succeeds here.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	path := "/webhook/" + r.PathValue("path") + "/"

	cfg, err := s.store.FindByWebhookPath(r.Context(), path)
	if err != nil || !cfg.IsActive || cfg.SourceType != integration.SourceWebhook {
		if err != nil && !store.IsNotFound(err) {
			s.logger.Error("webhook lookup failed", slog.String("path", path), log.Error(err))
		}
		writeError(w, http.StatusNotFound, "Not found.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "failed to read body"})
		return
	}
	incoming, err := payload.Parse(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "request body is not valid JSON"})
		return
	}

	result, err := s.processor.Process(r.Context(), cfg, incoming)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"run_id":  result.RunID,
		"message": "Integration executed successfully",
	})
}

// handlePubSubPush processes a push delivery. Any 2xx acknowledges the
// message, so failures that a redelivery cannot fix answer 200 with an
// error body.
func (s *Server) handlePubSubPush(w http.ResponseWriter, r *http.Request) {
	path := "/pubsub/" + r.PathValue("path") + "/"

	cfg, err := s.store.FindByPushEndpoint(r.Context(), path)
	if err != nil || !cfg.IsActive || !cfg.IsPush() {
		if err != nil && !store.IsNotFound(err) {
			s.logger.Error("push endpoint lookup failed", slog.String("path", path), log.Error(err))
		}
		writeError(w, http.StatusNotFound, "Not found.")
		return
	}
	logger := log.WithIntegration(s.logger, cfg.ID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "failed to read body"})
		return
	}

	msg, err := pubsub.DecodePush(body)
	if err != nil {
		logger.Warn("rejected malformed push delivery", log.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	result, err := s.processor.Process(r.Context(), cfg, msg.Data)
	if err != nil {
		logger.Error("failed to process push delivery",
			slog.String(log.MessageIDKey, msg.ID),
			log.Error(err),
		)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "error",
			"message":    err.Error(),
			"message_id": msg.ID,
		})
		return
	}

	logger.Debug("processed push delivery",
		slog.String(log.MessageIDKey, msg.ID),
		slog.String(log.RunIDKey, result.RunID),
	)
	w.WriteHeader(http.StatusNoContent)
}
