// Package transform implements the named value transforms that mapping
// rules apply to a resolved source value.
//
// Every transform is total: null input yields null (join and identity
// pass it through) and malformed input never produces an error.
package transform

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tombee/courier/internal/payload"
)

// Func transforms a value using positional parameters.
type Func func(v payload.Value, params []payload.Value) payload.Value

// Transform names.
const (
	None      = "none"
	Uppercase = "uppercase"
	Lowercase = "lowercase"
	Trim      = "trim"
	ToNumber  = "toNumber"
	ToString  = "toString"
	ToBoolean = "toBoolean"
	Concat    = "concat"
	Replace   = "replace"
	Split     = "split"
	Join      = "join"
	Date      = "date"
)

// DefaultDelimiter is used by split and join when no delimiter is given.
const DefaultDelimiter = ","

var (
	upper = cases.Upper(language.Und)
	lower = cases.Lower(language.Und)
)

var registry = map[string]Func{
	Uppercase: nullSafe(func(v payload.Value, _ []payload.Value) payload.Value {
		return payload.String(upper.String(Stringify(v)))
	}),
	Lowercase: nullSafe(func(v payload.Value, _ []payload.Value) payload.Value {
		return payload.String(lower.String(Stringify(v)))
	}),
	Trim: nullSafe(func(v payload.Value, _ []payload.Value) payload.Value {
		return payload.String(strings.TrimSpace(Stringify(v)))
	}),
	ToNumber: nullSafe(toNumber),
	ToString: nullSafe(func(v payload.Value, _ []payload.Value) payload.Value {
		return payload.String(Stringify(v))
	}),
	ToBoolean: nullSafe(func(v payload.Value, _ []payload.Value) payload.Value {
		return payload.Bool(Truthy(v))
	}),
	Concat: nullSafe(func(v payload.Value, params []payload.Value) payload.Value {
		return payload.String(Stringify(v) + param(params, 0, ""))
	}),
	Replace: nullSafe(func(v payload.Value, params []payload.Value) payload.Value {
		search := param(params, 0, "")
		s := Stringify(v)
		if search == "" {
			return payload.String(s)
		}
		return payload.String(strings.ReplaceAll(s, search, param(params, 1, "")))
	}),
	Split: nullSafe(func(v payload.Value, params []payload.Value) payload.Value {
		parts := strings.Split(Stringify(v), param(params, 0, DefaultDelimiter))
		out := make(payload.Array, len(parts))
		for i, p := range parts {
			out[i] = payload.String(p)
		}
		return out
	}),
	Join: join,
	Date: nullSafe(toDate),
}

// aliases maps the short names used by older configurations onto the
// canonical transform names.
var aliases = map[string]string{
	"number":  ToNumber,
	"string":  ToString,
	"boolean": ToBoolean,
}

// Apply runs the named transform. Unknown names, "none" and the empty
// name return v unchanged.
func Apply(name string, v payload.Value, params []payload.Value) payload.Value {
	fn, ok := Lookup(name)
	if !ok {
		if v == nil {
			return payload.Null{}
		}
		return v
	}
	return fn(v, params)
}

// Lookup returns the transform registered under name or one of its
// aliases.
func Lookup(name string) (Func, bool) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the canonical transform names.
func Names() []string {
	return []string{
		None, Uppercase, Lowercase, Trim, ToNumber, ToString, ToBoolean,
		Concat, Replace, Split, Join, Date,
	}
}

func nullSafe(fn Func) Func {
	return func(v payload.Value, params []payload.Value) payload.Value {
		if payload.IsNull(v) {
			return payload.Null{}
		}
		return fn(v, params)
	}
}

func join(v payload.Value, params []payload.Value) payload.Value {
	arr, ok := v.(payload.Array)
	if !ok {
		if v == nil {
			return payload.Null{}
		}
		return v
	}
	parts := make([]string, len(arr))
	for i, elem := range arr {
		parts[i] = Stringify(elem)
	}
	return payload.String(strings.Join(parts, param(params, 0, DefaultDelimiter)))
}

func toNumber(v payload.Value, _ []payload.Value) payload.Value {
	switch t := v.(type) {
	case payload.Number:
		return t
	case payload.Bool:
		if t {
			return payload.Number(1)
		}
		return payload.Number(0)
	case payload.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return payload.Null{}
		}
		return payload.Number(f)
	}
	return payload.Null{}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ISOLayout is the rendering used by the date transform.
const ISOLayout = "2006-01-02T15:04:05.000Z"

func toDate(v payload.Value, _ []payload.Value) payload.Value {
	switch t := v.(type) {
	case payload.Number:
		// Numeric input is milliseconds since the Unix epoch.
		return payload.String(time.UnixMilli(int64(t)).UTC().Format(ISOLayout))
	case payload.String:
		s := strings.TrimSpace(string(t))
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return payload.String(ts.UTC().Format(ISOLayout))
			}
		}
	}
	return payload.Null{}
}

// param returns params[i] rendered as a string, or def when missing.
func param(params []payload.Value, i int, def string) string {
	if i >= len(params) || payload.IsNull(params[i]) {
		return def
	}
	return Stringify(params[i])
}
