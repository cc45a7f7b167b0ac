package engine

import (
	"github.com/talgya/sediment/internal/agents"
)

const (
	// MaxCareerStage is the last stage an agent may hold; it retires when its
	// stage goes past this.
	MaxCareerStage = 4

	// MaxPromotionPasses bounds the repeat-until-stable promotion loop.
	MaxPromotionPasses = 20
)

// Scenario is the fixed shape of one world: its layers, the stage mix each
// layer is seeded with, and the career length.
type Scenario struct {
	Layers []agents.Layer

	// Distribution maps layer -> career stage -> seeded agent count. Layers
	// are padded to capacity with uniformly random stages.
	Distribution map[agents.LayerID]map[int]int

	MaxStage int
}

// DefaultScenario returns the five-level 1:5 hierarchy.
func DefaultScenario() Scenario {
	return Scenario{
		Layers: []agents.Layer{
			{ID: 1, Name: "Individual Contributor", Capacity: 1875},
			{ID: 2, Name: "Manager", Capacity: 375},
			{ID: 3, Name: "Senior Manager", Capacity: 75},
			{ID: 4, Name: "Exec Level", Capacity: 15},
			{ID: 5, Name: "Chief Exec Level", Capacity: 3},
		},
		Distribution: map[agents.LayerID]map[int]int{
			5: {4: 3},
			4: {4: 12, 3: 3},
			3: {4: 54, 3: 15, 2: 6},
			2: {1: 45, 2: 87, 3: 87, 4: 156},
			1: {0: 450, 1: 414, 2: 375, 3: 336, 4: 300},
		},
		MaxStage: MaxCareerStage,
	}
}
