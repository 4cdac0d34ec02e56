// Package protocol defines the wire vocabulary spoken with compute-client
// daemons: outbound command frames and the names of the state document
// fields and HTTP endpoints the broker relies on.
package protocol

import (
	"encoding/json"
	"time"

	"grimm.is/foldwatch/internal/clock"
)

// CommandName identifies an outbound command frame.
type CommandName string

const (
	CmdState  CommandName = "state"  // Set the run state
	CmdConfig CommandName = "config" // Replace daemon configuration
	CmdLog    CommandName = "log"    // Toggle log streaming
)

// Run state values carried by CmdState. Resuming is "fold", the daemon's
// own word for active computation.
const (
	StatePause = "pause"
	StateFold  = "fold"
)

// reserved fields are owned by the envelope.
const (
	fieldCmd  = "cmd"
	fieldTime = "time"
)

// Command is one outbound frame: {"cmd": Name, "time": ..., Fields...}.
type Command struct {
	Name   CommandName
	Fields map[string]any
}

// Encode renders the frame stamped with now. Fields named cmd or time are
// ignored.
func (c Command) Encode(now time.Time) ([]byte, error) {
	m := make(map[string]any, len(c.Fields)+2)
	for k, v := range c.Fields {
		if k == fieldCmd || k == fieldTime {
			continue
		}
		m[k] = v
	}
	m[fieldCmd] = string(c.Name)
	m[fieldTime] = clock.ISO8601(now)
	return json.Marshal(m)
}

// SetState builds the run state command.
func SetState(state string) Command {
	return Command{Name: CmdState, Fields: map[string]any{"state": state}}
}

// Pause stops computation on the daemon.
func Pause() Command { return SetState(StatePause) }

// Resume returns the daemon to active computation.
func Resume() Command { return SetState(StateFold) }

// PushConfig replaces daemon configuration with cfg.
func PushConfig(cfg any) Command {
	return Command{Name: CmdConfig, Fields: map[string]any{"config": cfg}}
}

// EnableLog asks the daemon to stream its log into the state document.
func EnableLog() Command {
	return Command{Name: CmdLog, Fields: map[string]any{"enable": true}}
}
