// Package script evaluates user-supplied condition and transform scripts.
//
// Scripts are single expressions over a read-only map named fields.
// Evaluation uses expr-lang; scripts that expr cannot compile are retried
// through a restricted jq dialect. Neither evaluator can reach the
// filesystem, network, environment, or process.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
	"github.com/expr-lang/expr/vm/runtime"
	"github.com/itchyny/gojq"

	"github.com/tombee/courier/internal/log"
	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/internal/transform"
	"github.com/tombee/courier/pkg/errors"
)

// DefaultTimeout bounds a single script evaluation.
const DefaultTimeout = 1 * time.Second

// FailurePolicy decides the outcome of a condition that cannot be
// evaluated.
type FailurePolicy string

const (
	// FailOpen treats an unevaluable condition as true.
	FailOpen FailurePolicy = "open"
	// FailClosed treats an unevaluable condition as false.
	FailClosed FailurePolicy = "closed"
	// FailError surfaces the evaluation error to the caller.
	FailError FailurePolicy = "error"
)

// ParseFailurePolicy parses a policy name. The empty string is FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed, FailError:
		return FailurePolicy(s), nil
	}
	return "", fmt.Errorf("unknown script failure policy %q (want open, closed or error)", s)
}

// Config configures a Sandbox.
type Config struct {
	// Policy controls how condition failures resolve. Default: open.
	Policy FailurePolicy

	// Timeout bounds each evaluation. Default: 1s.
	Timeout time.Duration

	// Logger receives evaluation failures. Default: slog.Default().
	Logger *slog.Logger
}

// Sandbox evaluates scripts with compiled-program caching.
// It is safe for concurrent use.
type Sandbox struct {
	policy  FailurePolicy
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	programs map[string]*vm.Program
	queries  map[string]*gojq.Code
}

// New creates a Sandbox.
func New(cfg Config) *Sandbox {
	if cfg.Policy == "" {
		cfg.Policy = FailOpen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sandbox{
		policy:   cfg.Policy,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With(slog.String("component", "script")),
		programs: make(map[string]*vm.Program),
		queries:  make(map[string]*gojq.Code),
	}
}

// Policy returns the configured failure policy.
func (s *Sandbox) Policy() FailurePolicy {
	return s.policy
}

// Evaluate runs a transform script and returns its result. Any failure is
// logged and yields Null.
func (s *Sandbox) Evaluate(ctx context.Context, code string, fields map[string]any) payload.Value {
	result, err := s.Run(ctx, code, fields)
	if err != nil {
		s.logger.Warn("transform script failed", slog.Any("error", err))
		return payload.Null{}
	}
	return payload.FromNative(result)
}

// EvaluateCondition runs a condition script and reports the truthiness of
// its result. An empty script is true. When evaluation fails the outcome
// follows the failure policy; only FailError returns an error.
func (s *Sandbox) EvaluateCondition(ctx context.Context, code string, fields map[string]any) (bool, error) {
	if normalize(code) == "" {
		return true, nil
	}

	result, err := s.Run(ctx, code, fields)
	if err != nil {
		switch s.policy {
		case FailClosed:
			s.logger.Warn("condition failed, treating as false", slog.Any("error", err))
			return false, nil
		case FailError:
			return false, err
		default:
			s.logger.Warn("condition failed, treating as true", slog.Any("error", err))
			return true, nil
		}
	}
	return transform.Truthy(payload.FromNative(result)), nil
}

// Run evaluates code with fields bound and returns the raw result.
func (s *Sandbox) Run(ctx context.Context, code string, fields map[string]any) (any, error) {
	src := normalize(code)
	if src == "" {
		return nil, &errors.ScriptError{Cause: fmt.Errorf("empty script")}
	}
	if fields == nil {
		fields = map[string]any{}
	}

	program, exprErr := s.compileExpr(src)
	if exprErr == nil {
		log.Trace(ctx, s.logger, "evaluating script", slog.String("engine", "expr"), slog.String("script", src))
		return s.runExpr(ctx, src, program, fields)
	}

	query, jqErr := s.compileJQ(src)
	if jqErr != nil {
		return nil, &errors.ScriptError{
			Engine: "expr",
			Script: src,
			Cause:  fmt.Errorf("%w (jq fallback: %v)", exprErr, jqErr),
		}
	}
	log.Trace(ctx, s.logger, "evaluating script", slog.String("engine", "jq"), slog.String("script", src))
	return s.runJQ(ctx, src, query, fields)
}

// Validate reports whether code compiles under either evaluator.
func (s *Sandbox) Validate(code string) error {
	src := normalize(code)
	if src == "" {
		return nil
	}
	_, exprErr := s.compileExpr(src)
	if exprErr == nil {
		return nil
	}
	if _, jqErr := s.compileJQ(src); jqErr != nil {
		return &errors.ValidationError{
			Field:      "script",
			Message:    fmt.Sprintf("failed to compile script: %s", exprErr.Error()),
			Suggestion: "scripts are single expressions over fields, e.g. fields.amount > 100",
		}
	}
	return nil
}

func (s *Sandbox) compileExpr(src string) (*vm.Program, error) {
	s.mu.RLock()
	if prog, ok := s.programs[src]; ok {
		s.mu.RUnlock()
		return prog, nil
	}
	s.mu.RUnlock()

	// Only fields is visible; any other identifier fails to compile.
	prog, err := expr.Compile(src,
		expr.Env(map[string]any{"fields": map[string]any{}}),
		expr.Function(orderedFunc, ordered),
		expr.Patch(nilSafeOrdering{}),
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.programs[src] = prog
	s.mu.Unlock()
	return prog, nil
}

const orderedFunc = "__ordered"

// nilSafeOrdering rewrites <, >, <= and >= into calls to ordered so that a
// comparison against a missing field is false rather than a runtime error.
type nilSafeOrdering struct{}

func (nilSafeOrdering) Visit(node *ast.Node) {
	bin, ok := (*node).(*ast.BinaryNode)
	if !ok {
		return
	}
	switch bin.Operator {
	case "<", ">", "<=", ">=":
		ast.Patch(node, &ast.CallNode{
			Callee:    &ast.IdentifierNode{Value: orderedFunc},
			Arguments: []ast.Node{&ast.StringNode{Value: bin.Operator}, bin.Left, bin.Right},
		})
	}
}

func ordered(params ...any) (any, error) {
	if len(params) != 3 {
		return nil, fmt.Errorf("%s: want 3 arguments, got %d", orderedFunc, len(params))
	}
	a, b := params[1], params[2]
	if a == nil || b == nil {
		return false, nil
	}
	switch params[0] {
	case "<":
		return runtime.Less(a, b), nil
	case ">":
		return runtime.More(a, b), nil
	case "<=":
		return runtime.LessOrEqual(a, b), nil
	case ">=":
		return runtime.MoreOrEqual(a, b), nil
	}
	return nil, fmt.Errorf("%s: unknown operator %v", orderedFunc, params[0])
}

func (s *Sandbox) runExpr(ctx context.Context, src string, prog *vm.Program, fields map[string]any) (any, error) {
	return s.withTimeout(ctx, "expr", src, func(context.Context) (any, error) {
		return expr.Run(prog, map[string]any{"fields": fields})
	})
}

func (s *Sandbox) compileJQ(src string) (*gojq.Code, error) {
	s.mu.RLock()
	if code, ok := s.queries[src]; ok {
		s.mu.RUnlock()
		return code, nil
	}
	s.mu.RUnlock()

	rewritten, err := toJQ(src)
	if err != nil {
		return nil, err
	}
	query, err := gojq.Parse(rewritten)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query,
		gojq.WithVariables([]string{"$fields"}),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	s.mu.Lock()
	s.queries[src] = code
	s.mu.Unlock()
	return code, nil
}

func (s *Sandbox) runJQ(ctx context.Context, src string, code *gojq.Code, fields map[string]any) (any, error) {
	return s.withTimeout(ctx, "jq", src, func(ctx context.Context) (any, error) {
		iter := code.RunWithContext(ctx, nil, fields)
		v, ok := iter.Next()
		if !ok {
			return nil, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, err
		}
		return v, nil
	})
}

// withTimeout runs fn on its own goroutine and abandons it once the
// timeout or ctx expires.
func (s *Sandbox) withTimeout(ctx context.Context, engine, src string, fn func(context.Context) (any, error)) (any, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(execCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &errors.ScriptError{Engine: engine, Script: src, Cause: out.err}
		}
		return out.value, nil
	case <-execCtx.Done():
		return nil, &errors.ScriptError{
			Engine: engine,
			Script: src,
			Cause: &errors.TimeoutError{
				Operation: "script",
				Duration:  s.timeout,
				Cause:     execCtx.Err(),
			},
		}
	}
}
