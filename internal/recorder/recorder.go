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

// Package recorder builds and persists run records.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/store"
)

// Messages recorded on runs that did not reach a target.
const (
	SkippedMessage = "Condition not met - execution skipped"
	SkippedReason  = "Condition evaluated to false"
	UnknownError   = "unknown error"
)

// Entry is the data for one run, before an id and timestamp are assigned.
type Entry struct {
	IntegrationID      string
	Incoming           payload.Value
	Transformed        payload.Value
	Request            payload.Value
	Response           payload.Value
	Status             integration.Status
	Error              string
	TransformationTime time.Duration
	APICallTime        time.Duration
}

// Recorder writes append-only run records.
type Recorder struct {
	runs   store.RunStore
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New creates a Recorder backed by runs.
func New(runs store.RunStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		runs:   runs,
		logger: log.WithComponent(logger, "recorder"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Record normalizes e into a Run and stores it. Skipped runs always carry
// an empty transformed payload and error runs always carry a message.
func (r *Recorder) Record(ctx context.Context, e Entry) (*integration.Run, error) {
	run := &integration.Run{
		ID:                   r.newID(),
		IntegrationID:        e.IntegrationID,
		IncomingPayload:      orNull(e.Incoming),
		TransformedPayload:   orEmpty(e.Transformed),
		OutgoingRequest:      orNull(e.Request),
		OutgoingResponse:     orNull(e.Response),
		Status:               e.Status,
		TransformationTimeMs: millis(e.TransformationTime),
		APICallTimeMs:        millis(e.APICallTime),
		CreatedAt:            r.now().UTC(),
	}

	switch e.Status {
	case integration.StatusSkipped:
		run.TransformedPayload = payload.NewObject()
		msg := e.Error
		if msg == "" {
			msg = SkippedMessage
		}
		run.ErrorMessage = &msg
	case integration.StatusError:
		msg := e.Error
		if msg == "" {
			msg = UnknownError
		}
		run.ErrorMessage = &msg
	case integration.StatusSuccess:
	default:
		return nil, fmt.Errorf("invalid run status %q", e.Status)
	}

	if err := r.runs.CreateRun(ctx, run); err != nil {
		r.logger.Error("failed to record run",
			slog.String(log.IntegrationIDKey, e.IntegrationID),
			slog.String(log.RunIDKey, run.ID),
			log.Error(err),
		)
		return nil, fmt.Errorf("recording run: %w", err)
	}

	r.logger.Debug("run recorded",
		slog.String(log.IntegrationIDKey, run.IntegrationID),
		slog.String(log.RunIDKey, run.ID),
		slog.String("status", string(run.Status)),
	)
	return run, nil
}

// SkippedRequest is the outgoing-request record of a run whose condition
// evaluated to false.
func SkippedRequest(condition string) *payload.Object {
	req := payload.NewObject()
	req.Set("skipped", payload.Bool(true))
	req.Set("reason", payload.String(SkippedReason))
	req.Set("condition", payload.String(condition))
	req.Set("condition_result", payload.Bool(false))
	return req
}

// SkippedResponse is the outgoing-response record of a skipped run.
func SkippedResponse() *payload.Object {
	resp := payload.NewObject()
	resp.Set("skipped", payload.Bool(true))
	return resp
}

// ErrorObject wraps msg as {"error": msg}.
func ErrorObject(msg string) *payload.Object {
	obj := payload.NewObject()
	obj.Set("error", payload.String(msg))
	return obj
}

func orNull(v payload.Value) payload.Value {
	if v == nil {
		return payload.Null{}
	}
	return v
}

func orEmpty(v payload.Value) payload.Value {
	if v == nil {
		return payload.NewObject()
	}
	return v
}

func millis(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
