package engine

import (
	"fmt"

	"github.com/talgya/sediment/internal/agents"
)

// Phase tags a point in the turn sequence for presentation layers.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRetirement
	PhasePromotion
	PhaseHiring
	PhaseFinished // The user's career is over
)

// String returns the machine-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRetirement:
		return "retirement"
	case PhasePromotion:
		return "promotion"
	case PhaseHiring:
		return "hiring"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Label returns the human-readable status line for the phase.
func (p Phase) Label() string {
	switch p {
	case PhaseRetirement:
		return "Phase: Retirements"
	case PhasePromotion:
		return "Phase: Promotions"
	case PhaseHiring:
		return "Phase: New Hires"
	case PhaseFinished:
		return "Career Finished"
	default:
		return "Ready"
	}
}

// MarshalText lets Phase encode as its name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseIdle; q <= PhaseFinished; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// PhaseEvent is emitted when a phase completes. Agents holds the store
// contents at that point so a renderer can replay the turn step by step.
type PhaseEvent struct {
	Turn   int            `json:"turn"` // Turn in progress (1-based); 0 after a reset
	Phase  Phase          `json:"phase"`
	Label  string         `json:"label"`
	Agents []agents.Agent `json:"agents,omitempty"`
}

func newPhaseEvent(turn int, p Phase, ags []agents.Agent) PhaseEvent {
	return PhaseEvent{Turn: turn, Phase: p, Label: p.Label(), Agents: ags}
}
