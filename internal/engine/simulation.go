// Simulation ties together the population store and the turn phases.
package engine

import (
	"log/slog"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/entropy"
)

// Simulation holds one world's state. It is single-writer: only the Engine
// that owns it calls RunTurn.
type Simulation struct {
	Scenario Scenario
	Pop      *agents.Population
	Spawner  *agents.Spawner
	Turn     int  // Completed turns since world creation
	GameOver bool // Set by the most recent turn

	rng entropy.Source
	log *slog.Logger
}

// Stats are the aggregate figures reported after every turn.
type Stats struct {
	TotalActive  int                    `json:"total_active"`
	ActivePeers  int                    `json:"active_peers"`
	UserLayerID  agents.LayerID         `json:"user_layer_id"` // 0 once the user is inactive
	PeersByLayer map[agents.LayerID]int `json:"peers_by_layer"`
}

// TurnResult summarizes one completed turn.
type TurnResult struct {
	TurnNumber int          `json:"turn"`
	GameOver   bool         `json:"game_over"`
	Stats      Stats        `json:"stats"`
	Phases     []PhaseEvent `json:"-"`

	Retired      []agents.Agent `json:"retired"` // Agents whose careers ended this turn
	Promotions   int            `json:"promotions"`
	Passes       int            `json:"passes"`
	PassLimitHit bool           `json:"pass_limit_hit"`
	Hires        int            `json:"hires"`
}

// NewSimulation builds a freshly seeded world.
func NewSimulation(sc Scenario, cfg Config, rng entropy.Source, log *slog.Logger) *Simulation {
	if log == nil {
		log = slog.Default()
	}
	s := &Simulation{
		Scenario: sc,
		rng:      rng,
		log:      log,
	}
	s.seedWorld(cfg.Clamped())
	return s
}

// RunTurn executes Retirement, Promotion and Hiring in order and finalizes
// the turn. luck is consulted once, when the promotion phase starts. emit,
// if non-nil, receives each phase event as the phase completes.
func (s *Simulation) RunTurn(luck func() float64, emit func(PhaseEvent)) TurnResult {
	turn := s.Turn + 1
	var res TurnResult
	record := func(p Phase, withAgents bool) {
		var snap []agents.Agent
		if withAgents {
			snap = s.Pop.Snapshot()
		}
		ev := newPhaseEvent(turn, p, snap)
		res.Phases = append(res.Phases, ev)
		if emit != nil {
			emit(ev)
		}
	}

	retired, gameOver := s.processRetirement()
	for _, a := range retired {
		res.Retired = append(res.Retired, *a)
	}
	record(PhaseRetirement, true)

	if !gameOver {
		l := clampUnit(luck())
		res.Promotions, res.Passes, res.PassLimitHit = s.processPromotions(l)
		record(PhasePromotion, true)

		res.Hires = len(s.processHiring())
		record(PhaseHiring, true)
	}

	s.Turn = turn
	s.GameOver = gameOver
	res.TurnNumber = turn
	res.GameOver = gameOver
	res.Stats = s.Stats()

	if gameOver {
		record(PhaseFinished, false)
	} else {
		record(PhaseIdle, false)
	}

	s.log.Info("turn complete",
		"turn", turn,
		"game_over", gameOver,
		"active", res.Stats.TotalActive,
		"peers", res.Stats.ActivePeers,
		"user_layer", res.Stats.UserLayerID,
		"retired", len(res.Retired),
		"promotions", res.Promotions,
		"passes", res.Passes,
		"hires", res.Hires,
	)
	return res
}

// Stats computes the aggregate figures for the current store.
func (s *Simulation) Stats() Stats {
	st := Stats{
		TotalActive:  s.Pop.CountActive(),
		PeersByLayer: s.Pop.PeersByLayer(),
	}
	for _, n := range st.PeersByLayer {
		st.ActivePeers += n
	}
	if u := s.Pop.User(); u != nil && u.Active() {
		st.UserLayerID = u.LayerID
	}
	return st
}
