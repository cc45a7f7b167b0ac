// World initialization: stratified seeding of every layer to capacity.
package engine

import (
	"sort"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/entropy"
)

// seedWorld replaces the store with a fully populated world and resets the
// turn counter.
func (s *Simulation) seedWorld(cfg Config) {
	s.Pop = agents.NewPopulation(s.Scenario.Layers)
	s.Spawner = agents.NewSpawner(s.rng)
	s.Turn = 0
	s.GameOver = false

	// Senior layers first.
	layers := s.Pop.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		stages := s.seedStages(l)
		for slot, stage := range stages {
			s.Pop.Add(s.Spawner.SpawnSeed(l.ID, slot, stage))
		}
	}

	s.pickUser(cfg.UserMerit)

	s.log.Info("world seeded",
		"agents", s.Pop.Len(),
		"layers", len(layers),
		"peers", s.Stats().ActivePeers,
	)
}

// seedStages expands a layer's stage distribution, pads it to capacity with
// random stages and shuffles it so index = slot.
func (s *Simulation) seedStages(l agents.Layer) []int {
	dist := s.Scenario.Distribution[l.ID]
	keys := make([]int, 0, len(dist))
	for stage := range dist {
		keys = append(keys, stage)
	}
	sort.Ints(keys)

	stages := make([]int, 0, l.Capacity)
	for _, stage := range keys {
		for c := 0; c < dist[stage] && len(stages) < l.Capacity; c++ {
			stages = append(stages, stage)
		}
	}
	for len(stages) < l.Capacity {
		stages = append(stages, s.rng.Intn(s.Scenario.MaxStage+1))
	}

	entropy.Shuffle(s.rng, len(stages), func(i, j int) {
		stages[i], stages[j] = stages[j], stages[i]
	})
	return stages
}

// pickUser flags one stage-0 base-layer agent as the user and the rest of
// that cohort as peers. If the base layer has no stage-0 agents the user is
// drawn from the whole base layer.
func (s *Simulation) pickUser(merit float64) {
	base := s.Pop.Base().ID
	pool := s.Pop.Active(base)
	var cohort []*agents.Agent
	for _, a := range pool {
		if a.Stage == 0 {
			cohort = append(cohort, a)
		}
	}
	if len(cohort) > 0 {
		pool = cohort
	}
	if len(pool) == 0 {
		return
	}

	user := pool[s.rng.Intn(len(pool))]
	s.Pop.MarkUser(user)
	user.Merit = merit
	user.Stage = 0

	for _, a := range s.Pop.Active(base) {
		if !a.IsUser && a.Stage == 0 {
			a.IsPeer = true
		}
	}
}
