package router

import (
	"fmt"

	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/protocol"
)

// Op is an abstract operation against one daemon.
type Op string

const (
	OpPause      Op = "pause"
	OpResume     Op = "resume"
	OpPushConfig Op = "push-config"
	OpSnapshot   Op = "snapshot"
	OpQueue      Op = "queue"
	OpLog        Op = "log"
	OpInfo       Op = "info"
	OpSlots      Op = "slots"
)

// Ops lists every operation in display order.
var Ops = []Op{OpPause, OpResume, OpPushConfig, OpSnapshot, OpQueue, OpLog, OpInfo, OpSlots}

// ParseOp maps a name to an Op.
func ParseOp(s string) (Op, error) {
	for _, op := range Ops {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// IsWrite reports whether op changes daemon state.
func (o Op) IsWrite() bool {
	switch o {
	case OpPause, OpResume, OpPushConfig:
		return true
	}
	return false
}

// Request is one operation plus its arguments.
type Request struct {
	Op     Op
	Slot   int            // OpQueue
	Config document.Value // OpPushConfig
}

// command returns the socket frame for a write.
func (req Request) command() (protocol.Command, bool) {
	switch req.Op {
	case OpPause:
		return protocol.Pause(), true
	case OpResume:
		return protocol.Resume(), true
	case OpPushConfig:
		return protocol.PushConfig(req.Config), true
	}
	return protocol.Command{}, false
}

// fallbackWrite returns the endpoint and body used when the socket is
// unreachable.
func (req Request) fallbackWrite() (string, any) {
	switch req.Op {
	case OpPause:
		return protocol.EndpointState, protocol.StateRequest{State: protocol.StatePause}
	case OpResume:
		return protocol.EndpointState, protocol.StateRequest{State: protocol.StateFold}
	}
	return protocol.EndpointConfig, req.Config
}

// fallbackRead returns the endpoint and expected body kind for a read.
func (req Request) fallbackRead() (string, document.Kind) {
	switch req.Op {
	case OpQueue:
		return protocol.EndpointQueue, document.KindList
	case OpLog:
		return protocol.EndpointLog, document.KindList
	case OpSlots:
		return protocol.EndpointSlots, document.KindList
	case OpInfo:
		return protocol.EndpointInfo, document.KindMap
	}
	return protocol.EndpointState, document.KindMap
}
