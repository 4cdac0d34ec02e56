package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// maxNormalizedKeyLen bounds which string keys get hyphens rewritten.
// Longer strings are treated as payload rather than identifiers.
const maxNormalizedKeyLen = 16

// ErrMalformed is wrapped by Decode when a frame is not valid JSON.
var ErrMalformed = errors.New("malformed frame")

// NormalizeKey rewrites a key to the protocol's canonical form: strings of at
// most 16 characters have every '-' replaced by '_'. Every other Value is
// returned unchanged.
func NormalizeKey(k Value) Value {
	if k.kind != KindString {
		return k
	}
	return String(normalizeKeyString(k.s))
}

func normalizeKeyString(s string) string {
	if utf8.RuneCountInString(s) > maxNormalizedKeyLen || !strings.Contains(s, "-") {
		return s
	}
	return strings.ReplaceAll(s, "-", "_")
}

// Normalize applies NormalizeKey to every map key in v, recursively,
// returning a new tree.
func Normalize(v Value) Value {
	switch v.kind {
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			out[normalizeKeyString(k)] = Normalize(e)
		}
		return Value{kind: KindMap, m: out}
	case KindList:
		out := make([]Value, len(v.l))
		for i, e := range v.l {
			out[i] = Normalize(e)
		}
		return Value{kind: KindList, l: out}
	}
	return v
}

// Decode parses one inbound frame into a key-normalized Value. Trailing data
// after the first JSON value is rejected.
func Decode(frame []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after value", ErrMalformed)
	}
	v, err := FromAny(raw)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Normalize(v), nil
}
