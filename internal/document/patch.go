package document

import (
	"strconv"
)

// Sentinel final keys understood when the parent container is a list.
const (
	AppendKey     = -1 // append the value as one element
	BulkAppendKey = -2 // append every element of a list value
)

// Operation is a decoded update: walk Path from the document root, then
// apply Value under Key in the container reached.
type Operation struct {
	Path  []Value
	Key   Value
	Value Value
}

// ParseOperation splits a sequence-shaped frame into an Operation. Frames
// with fewer than two elements are not operations.
func ParseOperation(frame Value) (Operation, bool) {
	if frame.kind != KindList || len(frame.l) < 2 {
		return Operation{}, false
	}
	n := len(frame.l)
	return Operation{
		Path:  frame.l[:n-2],
		Key:   frame.l[n-2],
		Value: frame.l[n-1],
	}, true
}

// Frame renders the operation back into its wire shape.
func (op Operation) Frame() Value {
	l := make([]Value, 0, len(op.Path)+2)
	l = append(l, op.Path...)
	l = append(l, op.Key, op.Value)
	return Value{kind: KindList, l: l}
}

// Apply folds one update frame into doc and returns the resulting document.
//
// The input is never modified: containers along the touched path are
// copied and everything else is shared with doc. A non-map doc is treated
// as an empty map. When the frame is not a well-formed operation, or its
// path is blocked by a scalar, doc itself is returned.
func Apply(doc Value, frame Value) Value {
	op, ok := ParseOperation(frame)
	if !ok {
		return doc
	}
	return ApplyOperation(doc, op)
}

// ApplyOperation is Apply for an already parsed Operation.
func ApplyOperation(doc Value, op Operation) Value {
	root := doc
	if root.kind != KindMap {
		root = EmptyMap()
	}
	path := make([]Value, len(op.Path))
	for i, seg := range op.Path {
		path[i] = NormalizeKey(seg)
	}
	out, ok := applyAt(root, path, NormalizeKey(op.Key), Normalize(op.Value))
	if !ok {
		return doc
	}
	return out
}

func applyAt(node Value, path []Value, key, val Value) (Value, bool) {
	if len(path) == 0 {
		return assign(node, key, val)
	}
	seg := path[0]
	next := key
	if len(path) > 1 {
		next = path[1]
	}

	switch node.kind {
	case KindMap:
		name, ok := mapKey(seg)
		if !ok {
			return Value{}, false
		}
		child, ok := descend(node.m[name], next)
		if !ok {
			return Value{}, false
		}
		updated, ok := applyAt(child, path[1:], key, val)
		if !ok {
			return Value{}, false
		}
		m := cloneMap(node.m, 1)
		m[name] = updated
		return Value{kind: KindMap, m: m}, true

	case KindList:
		idx, ok := indexOf(seg)
		if !ok {
			return Value{}, false
		}
		var existing Value
		if idx < len(node.l) {
			existing = node.l[idx]
		}
		child, ok := descend(existing, next)
		if !ok {
			return Value{}, false
		}
		updated, ok := applyAt(child, path[1:], key, val)
		if !ok {
			return Value{}, false
		}
		l := padList(node.l, idx+1)
		l[idx] = updated
		return Value{kind: KindList, l: l}, true
	}
	return Value{}, false
}

// descend returns the container to walk into. Missing or null children are
// replaced by a fresh list when the next segment is an index, else a map.
// Scalars block descent.
func descend(child, next Value) (Value, bool) {
	switch child.kind {
	case KindMap, KindList:
		return child, true
	case KindNull:
		if _, ok := indexOf(next); ok {
			return EmptyList(), true
		}
		return EmptyMap(), true
	}
	return Value{}, false
}

func assign(node, key, val Value) (Value, bool) {
	switch node.kind {
	case KindMap:
		name, ok := mapKey(key)
		if !ok {
			return Value{}, false
		}
		m := cloneMap(node.m, 1)
		if val.kind == KindNull {
			delete(m, name)
		} else {
			m[name] = val
		}
		return Value{kind: KindMap, m: m}, true

	case KindList:
		if s, ok := sentinelOf(key); ok {
			switch s {
			case AppendKey:
				l := make([]Value, len(node.l), len(node.l)+1)
				copy(l, node.l)
				return Value{kind: KindList, l: append(l, val)}, true
			case BulkAppendKey:
				if val.kind != KindList {
					return node, true
				}
				l := make([]Value, len(node.l), len(node.l)+len(val.l))
				copy(l, node.l)
				return Value{kind: KindList, l: append(l, val.l...)}, true
			}
			return node, true
		}
		idx, ok := indexOf(key)
		if !ok {
			return Value{}, false
		}
		if val.kind == KindNull {
			if idx >= len(node.l) {
				return node, true
			}
			l := make([]Value, 0, len(node.l)-1)
			l = append(l, node.l[:idx]...)
			l = append(l, node.l[idx+1:]...)
			return Value{kind: KindList, l: l}, true
		}
		l := padList(node.l, idx+1)
		l[idx] = val
		return Value{kind: KindList, l: l}, true
	}
	return Value{}, false
}

// mapKey converts a path segment into a map key. Numbers are stringified.
func mapKey(seg Value) (string, bool) {
	switch seg.kind {
	case KindString:
		return seg.s, true
	case KindNumber:
		if i, ok := seg.AsInt(); ok {
			return strconv.FormatInt(i, 10), true
		}
		return seg.s, true
	}
	return "", false
}

// indexOf reports whether seg looks like a non-negative list index: an
// integral number or a string of decimal digits.
func indexOf(seg Value) (int, bool) {
	switch seg.kind {
	case KindNumber:
		i, ok := seg.AsInt()
		if !ok || i < 0 || i > maxIndex {
			return 0, false
		}
		return int(i), true
	case KindString:
		if seg.s == "" || len(seg.s) > 9 {
			return 0, false
		}
		for _, r := range seg.s {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		i, err := strconv.Atoi(seg.s)
		return i, err == nil && i <= maxIndex
	}
	return 0, false
}

// maxIndex caps list growth from a single operation.
const maxIndex = 1 << 20

// sentinelOf reports a negative integral numeric key. String keys never
// qualify: normalization has already rewritten their '-' to '_'.
func sentinelOf(key Value) (int, bool) {
	i, ok := key.AsInt()
	if !ok || i >= 0 {
		return 0, false
	}
	return int(i), true
}

func cloneMap(src map[string]Value, extra int) map[string]Value {
	m := make(map[string]Value, len(src)+extra)
	for k, v := range src {
		m[k] = v
	}
	return m
}

// padList copies src into a new slice of at least n elements, padding with
// null.
func padList(src []Value, n int) []Value {
	if n < len(src) {
		n = len(src)
	}
	l := make([]Value, n)
	copy(l, src)
	return l
}
