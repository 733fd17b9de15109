// Package mapping builds the outgoing payload for an integration by
// applying its mapping rules to the incoming event.
package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/courier/internal/integration"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/script"
	"github.com/tombee/courier/internal/transform"
)

// Evaluator runs transform scripts. *script.Sandbox satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, fields map[string]any) payload.Value
}

// Engine applies mapping rules.
type Engine struct {
	scripts Evaluator
	logger  *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default().
func New(scripts Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		scripts: scripts,
		logger:  logger.With(slog.String("component", "mapping")),
	}
}

// Transform applies rules to source in order and returns the new payload.
// Later rules overwrite earlier writes to the same target. Rules without a
// target, or without a source or script, are skipped; a rule that fails is
// logged and skipped without affecting the others.
func (e *Engine) Transform(ctx context.Context, source payload.Value, rules []integration.MappingRule) *payload.Object {
	out := payload.NewObject()
	for i, rule := range rules {
		if rule.Target == "" {
			continue
		}
		value, ok, err := e.apply(ctx, source, rule)
		if err != nil {
			e.logger.Warn("mapping rule failed",
				slog.Int("rule", i),
				slog.String("target", rule.Target),
				slog.Any("error", err),
			)
			continue
		}
		if !ok {
			continue
		}
		payload.Set(out, rule.Target, value)
	}
	return out
}

// apply evaluates a single rule. The boolean is false when the rule has
// nothing to evaluate.
func (e *Engine) apply(ctx context.Context, source payload.Value, rule integration.MappingRule) (value payload.Value, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, ok, err = nil, false, fmt.Errorf("panic: %v", r)
		}
	}()

	if rule.IsScript() {
		if rule.Script == "" {
			return nil, false, nil
		}
		if e.scripts == nil {
			return nil, false, fmt.Errorf("no script evaluator configured")
		}
		fields := script.Select(source, rule.ScriptInputFields)
		return e.scripts.Evaluate(ctx, rule.Script, fields), true, nil
	}

	if rule.Source == "" {
		return nil, false, nil
	}
	resolved := payload.Lookup(source, rule.Source)
	return transform.Apply(rule.Transform, resolved, rule.ParamValues()), true, nil
}
