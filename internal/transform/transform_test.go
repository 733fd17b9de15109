package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/courier/internal/payload"
)

func params(values ...string) []payload.Value {
	out := make([]payload.Value, len(values))
	for i, v := range values {
		out[i] = payload.String(v)
	}
	return out
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		transform string
		input     payload.Value
		params    []payload.Value
		want      payload.Value
	}{
		{"uppercase", Uppercase, payload.String("john"), nil, payload.String("JOHN")},
		{"uppercase number", Uppercase, payload.Number(12), nil, payload.String("12")},
		{"lowercase", Lowercase, payload.String("DOE"), nil, payload.String("doe")},
		{"trim", Trim, payload.String("  padded \t"), nil, payload.String("padded")},
		{"toNumber from string", ToNumber, payload.String(" 42.5 "), nil, payload.Number(42.5)},
		{"toNumber alias", "number", payload.String("7"), nil, payload.Number(7)},
		{"toNumber unparsable", ToNumber, payload.String("abc"), nil, payload.Null{}},
		{"toNumber bool", ToNumber, payload.Bool(true), nil, payload.Number(1)},
		{"toString number", ToString, payload.Number(30), nil, payload.String("30")},
		{"toString alias", "string", payload.Bool(false), nil, payload.String("false")},
		{"toString array", ToString, payload.Array{payload.Number(1), payload.String("a")}, nil, payload.String(`[1,"a"]`)},
		{"toBoolean non-empty", ToBoolean, payload.String("no"), nil, payload.Bool(true)},
		{"toBoolean empty", ToBoolean, payload.String(""), nil, payload.Bool(false)},
		{"toBoolean zero", "boolean", payload.Number(0), nil, payload.Bool(false)},
		{"concat", Concat, payload.String("john"), params("@example.com"), payload.String("john@example.com")},
		{"concat no param", Concat, payload.String("john"), nil, payload.String("john")},
		{"replace all", Replace, payload.String("a-b-c"), params("-", "+"), payload.String("a+b+c")},
		{"replace missing replacement", Replace, payload.String("a-b"), params("-"), payload.String("ab")},
		{"split default", Split, payload.String("a,b,c"), nil, payload.Array{payload.String("a"), payload.String("b"), payload.String("c")}},
		{"split custom", Split, payload.String("a|b"), params("|"), payload.Array{payload.String("a"), payload.String("b")}},
		{"join default", Join, payload.Array{payload.String("a"), payload.Number(2)}, nil, payload.String("a,2")},
		{"join custom", Join, payload.Array{payload.String("a"), payload.String("b")}, params(" / "), payload.String("a / b")},
		{"join non-sequence passthrough", Join, payload.String("abc"), params("-"), payload.String("abc")},
		{"date iso", Date, payload.String("2024-03-01T10:00:00+02:00"), nil, payload.String("2024-03-01T08:00:00.000Z")},
		{"date day", Date, payload.String("2024-03-01"), nil, payload.String("2024-03-01T00:00:00.000Z")},
		{"date epoch millis", Date, payload.Number(0), nil, payload.String("1970-01-01T00:00:00.000Z")},
		{"date unparsable", Date, payload.String("yesterday"), nil, payload.Null{}},
		{"unknown is identity", "reverse", payload.String("abc"), nil, payload.String("abc")},
		{"none is identity", None, payload.Number(5), nil, payload.Number(5)},
		{"empty is identity", "", payload.Bool(true), nil, payload.Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.transform, tt.input, tt.params)
			assert.True(t, payload.Equal(tt.want, got), "want %#v, got %#v", tt.want, got)
		})
	}
}

func TestApply_NullInput(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, payload.Null{}, Apply(name, payload.Null{}, params("x", "y")))
			assert.Equal(t, payload.Null{}, Apply(name, nil, params("x", "y")))
		})
	}
}

func TestJoin_Property(t *testing.T) {
	values := []payload.Value{
		payload.String("s"),
		payload.Number(1),
		payload.Bool(true),
		payload.ObjectOf(map[string]any{"k": "v"}),
	}
	for _, v := range values {
		assert.Equal(t, v, Apply(Join, v, params(",")))
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(payload.Null{}))
	assert.False(t, Truthy(payload.Array{}))
	assert.False(t, Truthy(payload.NewObject()))
	assert.True(t, Truthy(payload.ObjectOf(map[string]any{"a": 1})))
	assert.True(t, Truthy(payload.Number(-1)))
}
