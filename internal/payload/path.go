package payload

import "strings"

// PathSeparator separates the segments of a dotted path.
const PathSeparator = "."

// Get resolves a dotted path against tree. The second return value is
// false when any segment is missing or an intermediate value is not an
// object. Array elements cannot be addressed.
func Get(tree Value, path string) (Value, bool) {
	current := tree
	for _, segment := range strings.Split(path, PathSeparator) {
		obj, ok := current.(*Object)
		if !ok || obj == nil {
			return nil, false
		}
		next, exists := obj.Get(segment)
		if !exists {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Lookup is Get with absent values reported as Null.
func Lookup(tree Value, path string) Value {
	v, ok := Get(tree, path)
	if !ok {
		return Null{}
	}
	return v
}

// Set writes v at the dotted path inside obj, creating intermediate
// objects as needed. An intermediate that exists but is not an object is
// replaced by an empty object, discarding its previous value.
func Set(obj *Object, path string, v Value) {
	segments := strings.Split(path, PathSeparator)
	current := obj
	for _, segment := range segments[:len(segments)-1] {
		next, exists := current.Get(segment)
		child, isObject := next.(*Object)
		if !exists || !isObject || child == nil {
			child = NewObject()
			current.Set(segment, child)
		}
		current = child
	}
	current.Set(segments[len(segments)-1], v)
}
