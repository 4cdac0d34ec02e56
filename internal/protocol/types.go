package protocol

// Top-level fields of the synchronized state document, after key
// normalization.
const (
	FieldInfo   = "info"
	FieldLog    = "log"
	FieldUnits  = "units"  // active work queue
	FieldGroups = "groups" // resource groups
	FieldSlots  = "slots"  // per-group slot list
	FieldSlot   = "slot"   // slot id on a work unit
	FieldConfig = "config"
)

// Logical HTTP endpoint names used by the request/response fallback. Each is
// expanded into the candidate path conventions by the client package.
const (
	EndpointState  = "state"
	EndpointInfo   = "info"
	EndpointQueue  = "queue"
	EndpointLog    = "log"
	EndpointSlots  = "slots"
	EndpointConfig = "config"
)

// StateRequest is the fallback body for a run state change.
type StateRequest struct {
	State string `json:"state"`
}
