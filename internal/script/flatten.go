package script

import "github.com/tombee/courier/internal/payload"

// Flatten records every reachable path in tree as a dotted key. Objects
// are recorded at their own path and recursed into; arrays are recorded
// whole and their elements are not indexed.
//
// For {"a":{"b":1},"c":[1,2]} the result is
// {"a": {"b":1}, "a.b": 1, "c": [1,2]}.
func Flatten(tree payload.Value) map[string]any {
	out := make(map[string]any)
	obj, ok := tree.(*payload.Object)
	if !ok {
		return out
	}
	flattenInto(out, obj, "")
	return out
}

func flattenInto(out map[string]any, obj *payload.Object, prefix string) {
	for _, key := range obj.Keys() {
		v, _ := obj.Get(key)
		path := key
		if prefix != "" {
			path = prefix + payload.PathSeparator + key
		}
		out[path] = payload.ToNative(v)
		if child, ok := v.(*payload.Object); ok {
			flattenInto(out, child, path)
		}
	}
}

// Select builds a flat field map from the given paths. Paths missing from
// tree are present with a nil value.
func Select(tree payload.Value, paths []string) map[string]any {
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		out[p] = payload.ToNative(payload.Lookup(tree, p))
	}
	return out
}
