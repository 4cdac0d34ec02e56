// Package document holds the synchronized daemon state model: an immutable
// tagged-variant Value tree, the protocol key normalizer and the patcher that
// folds incremental update operations into a document.
//
// Values are never mutated after construction. Every function returning a
// "modified" Value builds new containers along the changed path and shares
// untouched subtrees, so a Value held by a reader stays stable while the
// registry folds newer frames.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind discriminates the variants of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
	KindList
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
	case KindMap:
		return "map"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one node of a document. The zero Value is null, which doubles as
// the protocol's absence sentinel.
type Value struct {
	kind Kind
	b    bool
	s    string // string payload, or the literal text of a number
	m    map[string]Value
	l    []Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a numeric Value holding i.
func Int(i int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)} }

// Float returns a numeric Value holding f.
func Float(f float64) Value {
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number returns a numeric Value from its JSON text, preserving it exactly.
func Number(n json.Number) Value { return Value{kind: KindNumber, s: n.String()} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// NewMap returns a map Value. The input map is copied.
func NewMap(entries map[string]Value) Value {
	m := make(map[string]Value, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// EmptyMap returns a map Value with no entries.
func EmptyMap() Value { return Value{kind: KindMap, m: map[string]Value{}} }

// NewList returns a list Value. The input slice is copied.
func NewList(items ...Value) Value {
	l := make([]Value, len(items))
	copy(l, items)
	return Value{kind: KindList, l: l}
}

// EmptyList returns a list Value with no elements.
func EmptyList() Value { return Value{kind: KindList, l: []Value{}} }

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null/absence sentinel.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsContainer reports whether v is a map or a list.
func (v Value) IsContainer() bool { return v.kind == KindMap || v.kind == KindList }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsFloat returns the numeric payload as a float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// AsInt returns the numeric payload when it is integral.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(v.s, 10, 64); err == nil {
		return i, true
	}
	f, ok := v.AsFloat()
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// Len returns the number of entries of a map or elements of a list.
func (v Value) Len() int {
	switch v.kind {
	case KindMap:
		return len(v.m)
	case KindList:
		return len(v.l)
	}
	return 0
}

// Get returns the entry of a map Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	e, ok := v.m[key]
	return e, ok
}

// Index returns the element of a list Value.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.l) {
		return Value{}, false
	}
	return v.l[i], true
}

// Keys returns the keys of a map Value in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the elements of a list Value.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.l))
	copy(out, v.l)
	return out
}

// Equal reports deep equality. Numbers compare by value, so 1 equals 1.0.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindNumber:
		if a.s == b.s {
			return true
		}
		fa, okA := a.AsFloat()
		fb, okB := b.AsFloat()
		return okA && okB && fa == fb
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindList:
		if len(a.l) != len(b.l) {
			return false
		}
		for i := range a.l {
			if !Equal(a.l[i], b.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts plain Go data (as produced by encoding/json or built by
// hand) into a Value. Unsupported types yield an error.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]Value:
		return NewMap(t), nil
	case []any:
		l := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			l[i] = ev
		}
		return Value{kind: KindList, l: l}, nil
	case []Value:
		return NewList(t...), nil
	case []map[string]any:
		l := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			l[i] = ev
		}
		return Value{kind: KindList, l: l}, nil
	}
	return Value{}, fmt.Errorf("document: unsupported type %T", x)
}

// MustFromAny is FromAny for literals known to be valid.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ToAny converts v into plain Go data: map[string]any, []any, string,
// bool, int64, float64 or nil.
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindNumber:
		if i, err := strconv.ParseInt(v.s, 10, 64); err == nil {
			return i
		}
		f, _ := v.AsFloat()
		return f
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, e := range v.m {
			m[k] = e.ToAny()
		}
		return m
	case KindList:
		l := make([]any, len(v.l))
		for i, e := range v.l {
			l[i] = e.ToAny()
		}
		return l
	}
	return nil
}

// MarshalJSON encodes v with map keys in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.s)
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.m[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindList:
		buf.WriteByte('[')
		for i, e := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("document: cannot encode %s", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON text into v, keeping numbers exact.
// Keys are taken verbatim; use Decode to normalize them.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML lets yaml encoders render a Value as plain data.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.ToAny(), nil
}

// String renders v as compact JSON.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(b)
}
