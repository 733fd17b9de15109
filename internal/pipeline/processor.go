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

// Package pipeline runs one event through an integration: condition,
// mapping, dispatch and recording.
//
// Process is the boundary that guarantees every attributable failure is
// recorded as an error run before it is returned. Configuration problems
// are detected before a run exists and are returned without a record.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/courier/internal/dispatch"
	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/recorder"
	"github.com/tombee/courier/internal/script"
	"github.com/tombee/courier/internal/tracing"
	"github.com/tombee/courier/pkg/errors"
)

// ConditionEvaluator decides whether a run proceeds. *script.Sandbox
// satisfies it.
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, code string, fields map[string]any) (bool, error)
}

// Mapper builds the outgoing payload. *mapping.Engine satisfies it.
type Mapper interface {
	Transform(ctx context.Context, source payload.Value, rules []integration.MappingRule) *payload.Object
}

// Dispatcher delivers the outgoing payload. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, target integration.Target, body *payload.Object) (*dispatch.Outcome, error)
}

// Result describes a finished run to the caller.
type Result struct {
	RunID    string             `json:"run_id"`
	Status   integration.Status `json:"status"`
	Message  string             `json:"message,omitempty"`
	Response payload.Value      `json:"response,omitempty"`
}

// Processor runs the pipeline. It is safe for concurrent use.
type Processor struct {
	conditions ConditionEvaluator
	mapper     Mapper
	dispatcher Dispatcher
	recorder   *recorder.Recorder
	metrics    *tracing.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Processor.
func New(mapper Mapper, dispatcher Dispatcher, rec *recorder.Recorder, opts ...Option) *Processor {
	p := &Processor{
		mapper:     mapper,
		dispatcher: dispatcher,
		recorder:   rec,
		tracer:     otel.Tracer("github.com/tombee/courier/internal/pipeline"),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.WithComponent(p.logger, "pipeline")
	return p
}

// run carries the state of one invocation so a failure at any step can
// be recorded with what was computed so far.
type run struct {
	cfg         *integration.Configuration
	incoming    payload.Value
	evaluated   bool
	transformed *payload.Object
	transformT  time.Duration
	apiT        time.Duration
}

// Process runs incoming through cfg.
func (p *Processor) Process(ctx context.Context, cfg *integration.Configuration, incoming payload.Value) (result *Result, err error) {
	if err := integration.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Condition != "" && p.conditions == nil {
		return nil, &errors.ConfigError{Key: "condition", Reason: "no condition evaluator configured"}
	}
	if incoming == nil {
		incoming = payload.NewObject()
	}

	start := p.now()
	source := sourceLabel(cfg)
	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("integration.id", cfg.ID),
		attribute.String("integration.source", source),
		attribute.String("target.type", string(cfg.Target.Kind())),
	))
	defer span.End()

	r := &run{cfg: cfg, incoming: incoming}

	defer func() {
		if rec := recover(); rec != nil {
			perr := fmt.Errorf("pipeline panic: %v", rec)
			result, err = p.fail(ctx, r, nil, nil, perr)
			if err == nil {
				err = perr
			}
		}

		status := "error"
		if result != nil {
			status = string(result.Status)
			span.SetAttributes(attribute.String("run.id", result.RunID))
		}
		span.SetAttributes(attribute.String("run.status", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		p.metrics.RecordRun(ctx, cfg.ID, source, status, p.now().Sub(start))
	}()

	if cfg.Condition != "" {
		ok, cerr := p.conditions.EvaluateCondition(ctx, cfg.Condition, script.Flatten(incoming))
		if cerr != nil {
			var serr *errors.ScriptError
			if !errors.As(cerr, &serr) {
				cerr = &errors.ScriptError{Script: cfg.Condition, Cause: cerr}
			}
			req := recorder.ErrorObject("Condition evaluation failed")
			req.Set("condition", payload.String(cfg.Condition))
			return p.fail(ctx, r, req, nil, cerr)
		}
		r.evaluated = true
		span.AddEvent("condition.evaluated", trace.WithAttributes(attribute.Bool("condition.result", ok)))
		if !ok {
			return p.skip(ctx, r)
		}
	}

	transformStart := p.now()
	r.transformed = p.mapper.Transform(ctx, incoming, cfg.Mappings)
	r.transformT = p.now().Sub(transformStart)

	apiStart := p.now()
	outcome, derr := p.dispatcher.Dispatch(ctx, cfg.Target, r.transformed)
	r.apiT = p.now().Sub(apiStart)

	if derr != nil {
		p.metrics.RecordDispatch(ctx, string(cfg.Target.Kind()), "error", r.apiT)
		var req *payload.Object
		var resp payload.Value
		if outcome != nil {
			req, resp = outcome.Request, outcome.Response
		}
		return p.fail(ctx, r, req, resp, derr)
	}
	p.metrics.RecordDispatch(ctx, string(cfg.Target.Kind()), string(outcome.Status), r.apiT)

	req := outcome.Request
	if req == nil {
		req = payload.NewObject()
	}
	p.annotateCondition(r, req)

	entry := recorder.Entry{
		IntegrationID:      cfg.ID,
		Incoming:           incoming,
		Transformed:        r.transformed,
		Request:            req,
		Response:           outcome.Response,
		Status:             outcome.Status,
		Error:              outcome.Error,
		TransformationTime: r.transformT,
		APICallTime:        r.apiT,
	}
	recorded, rerr := p.recorder.Record(ctx, entry)
	if rerr != nil {
		return nil, rerr
	}

	log.WithRun(p.logger, cfg.ID, recorded.ID).Info("integration run completed",
		slog.String("status", string(recorded.Status)),
		log.Duration(log.DurationKey, recorded.TransformationTimeMs+recorded.APICallTimeMs),
	)
	return &Result{
		RunID:    recorded.ID,
		Status:   recorded.Status,
		Message:  outcome.Message,
		Response: outcome.Body,
	}, nil
}

func (p *Processor) skip(ctx context.Context, r *run) (*Result, error) {
	recorded, err := p.recorder.Record(ctx, recorder.Entry{
		IntegrationID: r.cfg.ID,
		Incoming:      r.incoming,
		Request:       recorder.SkippedRequest(r.cfg.Condition),
		Response:      recorder.SkippedResponse(),
		Status:        integration.StatusSkipped,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:   recorded.ID,
		Status:  integration.StatusSkipped,
		Message: recorder.SkippedReason,
	}, nil
}

// fail records an error run and returns cause. A nil request means the
// failure happened before anything was sent.
func (p *Processor) fail(ctx context.Context, r *run, req *payload.Object, resp payload.Value, cause error) (*Result, error) {
	if req == nil {
		req = recorder.ErrorObject("Failed before request")
	}
	if resp == nil {
		resp = recorder.ErrorObject(cause.Error())
	}
	p.annotateCondition(r, req)

	var transformed payload.Value
	if r.transformed != nil {
		transformed = r.transformed
	}
	recorded, err := p.recorder.Record(ctx, recorder.Entry{
		IntegrationID:      r.cfg.ID,
		Incoming:           r.incoming,
		Transformed:        transformed,
		Request:            req,
		Response:           resp,
		Status:             integration.StatusError,
		Error:              cause.Error(),
		TransformationTime: r.transformT,
		APICallTime:        r.apiT,
	})
	if err != nil {
		p.logger.Error("failed to record error run",
			slog.String(log.IntegrationIDKey, r.cfg.ID),
			log.Error(err),
		)
		return nil, cause
	}
	log.WithRun(p.logger, r.cfg.ID, recorded.ID).Warn("integration run failed",
		slog.String("error_type", errors.Category(cause)),
		log.Error(cause),
	)
	return &Result{
		RunID:   recorded.ID,
		Status:  integration.StatusError,
		Message: cause.Error(),
	}, cause
}

func (p *Processor) annotateCondition(r *run, req *payload.Object) {
	if !r.evaluated {
		return
	}
	req.Set("condition", payload.String(r.cfg.Condition))
	req.Set("condition_result", payload.Bool(true))
}

func sourceLabel(cfg *integration.Configuration) string {
	switch {
	case cfg.IsPull():
		return "pubsub_pull"
	case cfg.IsPush():
		return "pubsub_push"
	default:
		return string(cfg.SourceType)
	}
}
