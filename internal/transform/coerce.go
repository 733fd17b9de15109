package transform

import (
	"strconv"

	"github.com/tombee/courier/internal/payload"
)

// Stringify renders v as text. Strings are returned as-is, numbers use the
// shortest representation, and composites are encoded as compact JSON.
func Stringify(v payload.Value) string {
	switch t := v.(type) {
	case nil, payload.Null:
		return ""
	case payload.String:
		return string(t)
	case payload.Bool:
		return strconv.FormatBool(bool(t))
	case payload.Number:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	default:
		raw, err := payload.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// Truthy reports the truthiness of v: null, false, zero, the empty string
// and empty composites are false.
func Truthy(v payload.Value) bool {
	switch t := v.(type) {
	case nil, payload.Null:
		return false
	case payload.Bool:
		return bool(t)
	case payload.Number:
		return t != 0
	case payload.String:
		return t != ""
	case payload.Array:
		return len(t) > 0
	case *payload.Object:
		return t.Len() > 0
	}
	return false
}
