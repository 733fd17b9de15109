// Package payload defines the tagged value tree that flows through the
// integration pipeline, along with dotted-path access helpers.
//
// Incoming event bodies, mapping output, and dispatch responses are all
// represented as Value trees so that every stage works on the same shape
// regardless of whether the event arrived as JSON over HTTP or as a Pub/Sub
// message.
package payload

import "sort"

// Kind identifies the concrete type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a sealed interface over the JSON value types.
// Only Null, Bool, Number, String, Array and *Object implement it.
type Value interface {
	Kind() Kind
	value()
}

// Null is the JSON null value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) value()     {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Number is a JSON number. All numbers are held as float64.
type Number float64

func (Number) Kind() Kind { return KindNumber }
func (Number) value()     {}

// String is a JSON string.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// Array is an ordered sequence of values.
type Array []Value

func (Array) Kind() Kind { return KindArray }
func (Array) value()     {}

// Object is a string-keyed mapping that remembers insertion order.
// The zero value is not usable; construct with NewObject.
type Object struct {
	keys   []string
	fields map[string]Value
}

func (*Object) Kind() Kind { return KindObject }
func (*Object) value()     {}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Set stores v under key. A nil v is stored as Null.
// Existing keys keep their original position.
func (o *Object) Set(key string, v Value) {
	if v == nil {
		v = Null{}
	}
	if _, exists := o.fields[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
}

// Delete removes key from the object.
func (o *Object) Delete(key string) {
	if _, exists := o.fields[key]; !exists {
		return
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// ObjectOf builds an object from a native map. Keys are inserted in
// sorted order so the result is deterministic.
func ObjectOf(m map[string]any) *Object {
	obj := NewObject()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		obj.Set(k, FromNative(m[k]))
	}
	return obj
}

// IsNull reports whether v is absent or the null value.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether a and b hold the same tree. Object key order is
// ignored.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Object:
		bv, ok := b.(*Object)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			other, exists := bv.fields[k]
			if !exists || !Equal(av.fields[k], other) {
				return false
			}
		}
		return true
	}
	return false
}
