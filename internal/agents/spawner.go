// Agent spawning: creates seeded agents at world initialization and new
// hires during the hiring phase.
package agents

import (
	"github.com/talgya/sediment/internal/entropy"
)

// Spawner creates agents for the simulation and owns ID assignment.
type Spawner struct {
	rng    entropy.Source
	nextID AgentID
}

// NewSpawner creates an agent spawner drawing merit from rng.
func NewSpawner(rng entropy.Source) *Spawner {
	return &Spawner{
		rng:    rng,
		nextID: 1,
	}
}

// NextID returns the ID the next spawned agent will receive.
func (s *Spawner) NextID() AgentID {
	return s.nextID
}

// SpawnSeed creates an agent for the initial world at the given placement.
func (s *Spawner) SpawnSeed(layer LayerID, slot, stage int) *Agent {
	return s.spawnOne(layer, slot, stage, false)
}

// SpawnHire creates a fresh entrant for the base layer.
func (s *Spawner) SpawnHire(layer LayerID, slot int) *Agent {
	return s.spawnOne(layer, slot, 0, true)
}

func (s *Spawner) spawnOne(layer LayerID, slot, stage int, isNew bool) *Agent {
	id := s.nextID
	s.nextID++

	return &Agent{
		ID:      id,
		LayerID: layer,
		Slot:    slot,
		Stage:   stage,
		Merit:   s.rng.Float64(),
		Status:  StatusActive,
		IsNew:   isNew,
	}
}
