package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/courier/internal/payload"
	"github.com/tombee/courier/pkg/errors"
)

func fieldsFrom(t *testing.T, doc string) map[string]any {
	t.Helper()
	v, err := payload.Parse([]byte(doc))
	require.NoError(t, err)
	return Flatten(v)
}

func TestEvaluateCondition(t *testing.T) {
	sb := New(Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		code string
		doc  string
		want bool
	}{
		{"greater than passes", "fields.amount > 100", `{"amount":150}`, true},
		{"greater than fails", "fields.amount > 100", `{"amount":50}`, false},
		{"return statement with semicolon", "return fields.amount > 100;", `{"amount":150}`, true},
		{"strict equality", `fields.status === "paid"`, `{"status":"paid"}`, true},
		{"strict inequality", `fields.status !== "paid"`, `{"status":"paid"}`, false},
		{"nested member access", `fields.user.role == "admin" && fields.user.active`, `{"user":{"role":"admin","active":true}}`, true},
		{"dotted key access", `fields["user.role"] == "admin"`, `{"user":{"role":"admin"}}`, true},
		{"logical or", `fields.a == 1 || fields.b == 1`, `{"a":0,"b":1}`, true},
		{"truthy string result", `fields.name`, `{"name":"x"}`, true},
		{"falsy empty string result", `fields.name`, `{"name":""}`, false},
		{"jq fallback pipe", `fields.tags | length > 1`, `{"tags":["a","b"]}`, true},
		{"jq fallback test", `fields.name | test("^jo")`, `{"name":"john"}`, true},
		{"empty condition", "  ", `{}`, true},
		{"missing field greater than", "fields.missing > 100", `{"amount":150}`, false},
		{"missing field less or equal", "fields.missing <= 100", `{}`, false},
		{"null field less than", "fields.amount < 100", `{"amount":null}`, false},
		{"missing field guarded by or", "fields.missing > 100 || fields.amount >= 150", `{"amount":150}`, true},
		{"string ordering", `fields.name < "m"`, `{"name":"john"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.EvaluateCondition(ctx, tt.code, fieldsFrom(t, tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_FailurePolicies(t *testing.T) {
	ctx := context.Background()
	fields := map[string]any{"amount": 10.0}
	broken := "fields.amount >"

	open := New(Config{Policy: FailOpen})
	ok, err := open.EvaluateCondition(ctx, broken, fields)
	require.NoError(t, err)
	assert.True(t, ok)

	closed := New(Config{Policy: FailClosed})
	ok, err = closed.EvaluateCondition(ctx, broken, fields)
	require.NoError(t, err)
	assert.False(t, ok)

	strict := New(Config{Policy: FailError})
	_, err = strict.EvaluateCondition(ctx, broken, fields)
	require.Error(t, err)
	var scriptErr *errors.ScriptError
	assert.True(t, errors.As(err, &scriptErr))
}

func TestEvaluateCondition_MissingFieldIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []FailurePolicy{FailOpen, FailClosed, FailError} {
		t.Run(string(policy), func(t *testing.T) {
			ok, err := New(Config{Policy: policy}).EvaluateCondition(ctx, "fields.missing > 100", map[string]any{})
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSandbox_RejectsHostAccess(t *testing.T) {
	sb := New(Config{Policy: FailError})
	ctx := context.Background()

	scripts := []string{
		`env.HOME`,
		`$ENV.PATH`,
		`input`,
		`os.Getenv("HOME")`,
		`$__loc__`,
		`fields | @sh`,
		`"\(env)"`,
		`import "x" as y; 1`,
	}

	for _, code := range scripts {
		t.Run(code, func(t *testing.T) {
			_, err := sb.Run(ctx, code, map[string]any{})
			assert.Error(t, err)
		})
	}
}

func TestEvaluate(t *testing.T) {
	sb := New(Config{})
	ctx := context.Background()

	fields := map[string]any{
		"user.first": "john",
		"user.last":  "doe",
		"amount":     12.5,
	}

	got := sb.Evaluate(ctx, `return fields["user.first"] + " " + fields["user.last"];`, fields)
	assert.Equal(t, payload.String("john doe"), got)

	got = sb.Evaluate(ctx, `fields.amount * 2`, fields)
	assert.Equal(t, payload.Number(25), got)

	got = sb.Evaluate(ctx, `{"total": fields.amount}`, fields)
	obj, ok := got.(*payload.Object)
	require.True(t, ok)
	total, _ := obj.Get("total")
	assert.Equal(t, payload.Number(12.5), total)
}

func TestEvaluate_FailsSoftToNull(t *testing.T) {
	sb := New(Config{})
	got := sb.Evaluate(context.Background(), `undefinedFunction(fields)`, nil)
	assert.Equal(t, payload.Null{}, got)
}

func TestWithTimeout(t *testing.T) {
	sb := New(Config{Timeout: 10 * time.Millisecond})

	block := make(chan struct{})
	defer close(block)

	_, err := sb.withTimeout(context.Background(), "expr", "fields.slow", func(context.Context) (any, error) {
		<-block
		return nil, nil
	})
	require.Error(t, err)

	var timeoutErr *errors.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 10*time.Millisecond, timeoutErr.Duration)
}

func TestWithTimeout_RecoversPanic(t *testing.T) {
	sb := New(Config{})

	_, err := sb.withTimeout(context.Background(), "expr", "boom", func(context.Context) (any, error) {
		panic("boom")
	})
	assert.ErrorContains(t, err, "panic: boom")
}

func TestValidate(t *testing.T) {
	sb := New(Config{})

	assert.NoError(t, sb.Validate(""))
	assert.NoError(t, sb.Validate("fields.a > 1"))
	assert.NoError(t, sb.Validate("fields.tags | length > 1"))

	err := sb.Validate("fields.a >")
	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestSandbox_CachesPrograms(t *testing.T) {
	sb := New(Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := sb.Run(ctx, "fields.a == 1", map[string]any{"a": 1.0})
		require.NoError(t, err)
	}
	assert.Len(t, sb.programs, 1)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	p, err = ParseFailurePolicy("closed")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)

	_, err = ParseFailurePolicy("sometimes")
	assert.Error(t, err)
}
