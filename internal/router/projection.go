package router

import (
	"strconv"

	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/protocol"
)

// Project derives the view an operation asks for from a document. Write
// operations see the whole document.
func Project(req Request, doc document.Value) document.Value {
	switch req.Op {
	case OpQueue:
		units, _ := doc.Get(protocol.FieldUnits)
		return FilterQueue(units, req.Slot)
	case OpLog:
		return fieldOr(doc, protocol.FieldLog, document.EmptyList())
	case OpInfo:
		return fieldOr(doc, protocol.FieldInfo, document.EmptyMap())
	case OpSlots:
		return Slots(doc)
	}
	return doc
}

func fieldOr(doc document.Value, name string, empty document.Value) document.Value {
	v, ok := doc.Get(name)
	if !ok || v.IsNull() {
		return empty
	}
	return v
}

// FilterQueue keeps the work units assigned to slot. A missing or non-list
// queue yields an empty list.
func FilterQueue(units document.Value, slot int) document.Value {
	out := []document.Value{}
	for _, u := range units.Items() {
		if s, ok := u.Get(protocol.FieldSlot); ok && slotEquals(s, slot) {
			out = append(out, u)
		}
	}
	return document.NewList(out...)
}

func slotEquals(v document.Value, slot int) bool {
	if n, ok := v.AsInt(); ok {
		return n == int64(slot)
	}
	if s, ok := v.AsString(); ok {
		return s == strconv.Itoa(slot)
	}
	return false
}

// Slots flattens the slots of every resource group into one list. Groups
// may be a list or a map keyed by group id; map groups are walked in key
// order.
func Slots(doc document.Value) document.Value {
	groups, _ := doc.Get(protocol.FieldGroups)

	var members []document.Value
	switch groups.Kind() {
	case document.KindList:
		members = groups.Items()
	case document.KindMap:
		for _, k := range groups.Keys() {
			g, _ := groups.Get(k)
			members = append(members, g)
		}
	}

	out := []document.Value{}
	for _, g := range members {
		slots, _ := g.Get(protocol.FieldSlots)
		out = append(out, slots.Items()...)
	}
	return document.NewList(out...)
}
