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

package pipeline

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/courier/internal/tracing"
)

// Option configures a Processor.
type Option func(*Processor)

// WithConditions sets the condition evaluator. Without one, configured
// conditions are a configuration error.
func WithConditions(c ConditionEvaluator) Option {
	return func(p *Processor) {
		p.conditions = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *tracing.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}
