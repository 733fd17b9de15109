package payload

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// FromNative converts a Go value built from encoding/json, YAML decoding or
// literal maps into a Value. Unsupported types are rendered with %v.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano))
	case []any:
		arr := make(Array, len(t))
		for i, elem := range t {
			arr[i] = FromNative(elem)
		}
		return arr
	case []string:
		arr := make(Array, len(t))
		for i, elem := range t {
			arr[i] = String(elem)
		}
		return arr
	case map[string]any:
		return ObjectOf(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = v
		}
		return ObjectOf(m)
	}

	// YAML decoders may produce map[any]any or typed slices.
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		arr := make(Array, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			arr[i] = FromNative(rv.Index(i).Interface())
		}
		return arr
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return ObjectOf(m)
	}
	return String(fmt.Sprint(x))
}

// ToNative converts v into plain Go values: nil, bool, float64, string,
// []any and map[string]any.
func ToNative(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case Array:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = ToNative(elem)
		}
		return out
	case *Object:
		if t == nil {
			return nil
		}
		out := make(map[string]any, t.Len())
		for _, k := range t.keys {
			out[k] = ToNative(t.fields[k])
		}
		return out
	}
	return nil
}
