// Package agents provides the career-ladder data model: layers, agents and
// the population store that holds their layer/slot placement.
package agents

import "fmt"

// AgentID is a unique identifier for an agent. IDs are issued in increasing
// order and never reused within a world.
type AgentID uint64

// LayerID identifies a rung of the hierarchy. 1 is the base, higher is senior.
type LayerID int

// Status is an agent's lifecycle state. Transitions only go Active -> Retired.
type Status uint8

const (
	StatusActive Status = iota
	StatusRetired
)

// String returns the lowercase status name used by the API.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// MarshalText lets Status encode as a string in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StatusActive
	case "retired":
		*s = StatusRetired
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Layer is an immutable rung of the hierarchy.
type Layer struct {
	ID       LayerID `json:"id"`
	Name     string  `json:"name"`
	Capacity int     `json:"capacity"`
}

// Agent is one participant in the simulation.
type Agent struct {
	ID      AgentID `json:"id"`
	LayerID LayerID `json:"layer_id"`
	Slot    int     `json:"slot"`  // Seat within the layer, unique among active agents there
	Stage   int     `json:"stage"` // Turns survived
	Merit   float64 `json:"merit"` // 0.0 to 1.0, fixed for life

	// Role flags, assigned once at world creation.
	IsUser bool `json:"is_user"`
	IsPeer bool `json:"is_peer"`

	Status Status `json:"status"`
	IsNew  bool   `json:"is_new"` // Hired this turn; cleared at the start of the next
}

// Active reports whether the agent still takes part in the simulation.
func (a *Agent) Active() bool {
	return a.Status == StatusActive
}
