// Population dynamics: aging and retirement at the start of a turn, base
// layer hiring at the end.
package engine

import (
	"github.com/talgya/sediment/internal/agents"
)

// processRetirement clears last turn's new-hire flags, purges agents that
// retired last turn, ages every active agent and retires those past the
// final stage. gameOver is true when the user is retired or gone.
func (s *Simulation) processRetirement() (retired []*agents.Agent, gameOver bool) {
	for _, a := range s.Pop.All() {
		a.IsNew = false
	}

	purged := s.Pop.PurgeRetired()
	if len(purged) > 0 {
		s.log.Debug("retirees removed", "count", len(purged))
	}

	for _, a := range s.Pop.All() {
		if !a.Active() {
			continue
		}
		a.Stage++
		if a.Stage > s.Scenario.MaxStage {
			a.Status = agents.StatusRetired
			retired = append(retired, a)
		}
	}

	user := s.Pop.User()
	gameOver = user == nil || !user.Active()
	return retired, gameOver
}

// processHiring backfills the base layer to capacity with stage-0 hires,
// packing each into the lowest free slot.
func (s *Simulation) processHiring() []*agents.Agent {
	base := s.Pop.Base().ID
	vacancies := s.Pop.Vacancies(base)
	if vacancies == 0 {
		return nil
	}

	occupied := s.Pop.OccupiedSlots(base)
	hires := make([]*agents.Agent, 0, vacancies)
	for i := 0; i < vacancies; i++ {
		a := s.Spawner.SpawnHire(base, agents.FirstFreeSlot(occupied))
		s.Pop.Add(a)
		hires = append(hires, a)
	}
	return hires
}
