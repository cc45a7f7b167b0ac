// Promotion: scored tournament selection resolving vacancies top-down.
package engine

import (
	"sort"

	"github.com/talgya/sediment/internal/agents"
)

// Score blends merit with noise: luck 0 ranks by merit alone, luck 1 by
// noise alone.
func Score(merit, noise, luck float64) float64 {
	return merit*(1-luck) + noise*luck
}

type candidate struct {
	agent *agents.Agent
	score float64
}

// processPromotions sweeps the layers from the top down, repeating whole
// passes until one moves nobody or MaxPromotionPasses is reached. An agent
// is promoted at most once per turn.
func (s *Simulation) processPromotions(luck float64) (promotions, passes int, limitHit bool) {
	layers := s.Pop.Layers()
	promoted := make(map[agents.AgentID]bool)

	for passes < MaxPromotionPasses {
		passes++
		moved := 0
		for i := len(layers) - 1; i >= 1; i-- {
			moved += s.fillLayer(layers[i], layers[i-1].ID, luck, promoted)
		}
		s.log.Debug("promotion pass", "pass", passes, "moved", moved)

		if moved == 0 {
			return promotions, passes, false
		}
		promotions += moved
	}

	s.log.Warn("promotion pass limit reached without stabilizing",
		"passes", passes,
		"promotions", promotions,
		"turn", s.Turn+1,
	)
	return promotions, passes, true
}

// fillLayer promotes the best-scoring active agents of the layer below into
// the vacancies of l. Noise is drawn fresh for every candidate on every call.
func (s *Simulation) fillLayer(l agents.Layer, below agents.LayerID, luck float64, promoted map[agents.AgentID]bool) int {
	vacancies := s.Pop.Vacancies(l.ID)
	if vacancies == 0 {
		return 0
	}

	var cands []candidate
	for _, a := range s.Pop.Active(below) {
		if promoted[a.ID] {
			continue
		}
		noise := s.rng.Float64()
		cands = append(cands, candidate{agent: a, score: Score(a.Merit, noise, luck)})
	}
	if len(cands) == 0 {
		return 0
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
	if len(cands) > vacancies {
		cands = cands[:vacancies]
	}

	occupied := s.Pop.OccupiedSlots(l.ID)
	for _, c := range cands {
		c.agent.LayerID = l.ID
		c.agent.Slot = agents.FirstFreeSlot(occupied)
		promoted[c.agent.ID] = true
	}
	return len(cands)
}
