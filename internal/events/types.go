// Package events provides the pub/sub bus connecting the registry and
// router to observers such as the HTTP shell's live feed.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the category of event.
type EventType string

// Event types for connection and document activity.
const (
	EventConnectionOpened EventType = "connection.opened"
	EventConnectionClosed EventType = "connection.closed"

	EventDocumentReplaced EventType = "document.replaced"
	EventDocumentPatched  EventType = "document.patched"

	EventCommandSent EventType = "command.sent"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // Component that emitted: "registry", "router"
	Target    string    `json:"target"` // Client id of the connection key
	Data      any       `json:"data,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// ConnectionData is the payload for EventConnectionOpened/EventConnectionClosed.
type ConnectionData struct {
	ConnectionID string `json:"connection_id"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Reason       string `json:"reason,omitempty"`
}

// DocumentData is the payload for EventDocumentReplaced/EventDocumentPatched.
// Frame is the inbound frame as received.
type DocumentData struct {
	ConnectionID string          `json:"connection_id"`
	Frame        json.RawMessage `json:"frame"`
}

// CommandData is the payload for EventCommandSent.
type CommandData struct {
	Command string `json:"cmd"`
	Op      string `json:"op"`
}
