package agents

import (
	"fmt"
	"sort"
)

// Population is the authoritative store of agents and their layer/slot
// placement. It is owned by a single engine and is not safe for concurrent use.
type Population struct {
	layers []Layer // ascending by ID
	agents []*Agent
	index  map[AgentID]*Agent
	userID AgentID // 0 = no user
}

// NewPopulation creates an empty store over the given layers.
func NewPopulation(layers []Layer) *Population {
	ls := append([]Layer(nil), layers...)
	sort.Slice(ls, func(i, j int) bool { return ls[i].ID < ls[j].ID })
	return &Population{
		layers: ls,
		index:  make(map[AgentID]*Agent),
	}
}

// Layers returns the layers in ascending ID order.
func (p *Population) Layers() []Layer {
	return append([]Layer(nil), p.layers...)
}

// Layer looks up a layer by ID.
func (p *Population) Layer(id LayerID) (Layer, bool) {
	for _, l := range p.layers {
		if l.ID == id {
			return l, true
		}
	}
	return Layer{}, false
}

// Base returns the lowest layer.
func (p *Population) Base() Layer {
	return p.layers[0]
}

// Top returns the highest layer.
func (p *Population) Top() Layer {
	return p.layers[len(p.layers)-1]
}

// Add registers an agent in the store.
func (p *Population) Add(a *Agent) {
	p.agents = append(p.agents, a)
	p.index[a.ID] = a
	if a.IsUser {
		p.userID = a.ID
	}
}

// Get returns the agent with the given ID, or nil.
func (p *Population) Get(id AgentID) *Agent {
	return p.index[id]
}

// All returns every stored agent, retired ones included, in insertion order.
// The slice is owned by the store.
func (p *Population) All() []*Agent {
	return p.agents
}

// Len returns the number of stored agents, retired ones included.
func (p *Population) Len() int {
	return len(p.agents)
}

// MarkUser flags a as the distinguished user agent.
func (p *Population) MarkUser(a *Agent) {
	if prev := p.User(); prev != nil {
		prev.IsUser = false
	}
	a.IsUser = true
	p.userID = a.ID
}

// User returns the user agent, or nil once it has been purged.
func (p *Population) User() *Agent {
	if p.userID == 0 {
		return nil
	}
	return p.index[p.userID]
}

// Active returns the active agents in a layer, in store order.
func (p *Population) Active(layer LayerID) []*Agent {
	var out []*Agent
	for _, a := range p.agents {
		if a.LayerID == layer && a.Active() {
			out = append(out, a)
		}
	}
	return out
}

// ActiveCount returns how many active agents a layer holds.
func (p *Population) ActiveCount(layer LayerID) int {
	n := 0
	for _, a := range p.agents {
		if a.LayerID == layer && a.Active() {
			n++
		}
	}
	return n
}

// Vacancies returns capacity minus active count for a layer (never negative).
func (p *Population) Vacancies(layer LayerID) int {
	l, ok := p.Layer(layer)
	if !ok {
		return 0
	}
	v := l.Capacity - p.ActiveCount(layer)
	if v < 0 {
		return 0
	}
	return v
}

// OccupiedSlots returns the set of slots held by active agents in a layer.
func (p *Population) OccupiedSlots(layer LayerID) map[int]bool {
	occ := make(map[int]bool)
	for _, a := range p.agents {
		if a.LayerID == layer && a.Active() {
			occ[a.Slot] = true
		}
	}
	return occ
}

// FirstFreeSlot returns the lowest non-negative slot not in occupied and
// claims it.
func FirstFreeSlot(occupied map[int]bool) int {
	slot := 0
	for occupied[slot] {
		slot++
	}
	occupied[slot] = true
	return slot
}

// PurgeRetired removes retired agents from the store and returns them.
func (p *Population) PurgeRetired() []*Agent {
	var removed []*Agent
	kept := p.agents[:0]
	for _, a := range p.agents {
		if a.Active() {
			kept = append(kept, a)
			continue
		}
		removed = append(removed, a)
		delete(p.index, a.ID)
	}
	// Drop references beyond the new length.
	for i := len(kept); i < len(p.agents); i++ {
		p.agents[i] = nil
	}
	p.agents = kept
	return removed
}

// CountActive returns the number of active agents across all layers.
func (p *Population) CountActive() int {
	n := 0
	for _, a := range p.agents {
		if a.Active() {
			n++
		}
	}
	return n
}

// PeersByLayer returns active peer counts per layer. Every layer has an entry.
func (p *Population) PeersByLayer() map[LayerID]int {
	counts := make(map[LayerID]int, len(p.layers))
	for _, l := range p.layers {
		counts[l.ID] = 0
	}
	for _, a := range p.agents {
		if a.IsPeer && a.Active() {
			counts[a.LayerID]++
		}
	}
	return counts
}

// Snapshot returns a copy of every stored agent.
func (p *Population) Snapshot() []Agent {
	out := make([]Agent, len(p.agents))
	for i, a := range p.agents {
		out[i] = *a
	}
	return out
}

// CheckInvariants reports the first violated store invariant: layer capacity,
// slot uniqueness among active agents of a layer, or more than one user.
func (p *Population) CheckInvariants() error {
	counts := make(map[LayerID]int)
	slots := make(map[LayerID]map[int]AgentID)
	users := 0

	for _, a := range p.agents {
		if a.IsUser {
			users++
		}
		if !a.Active() {
			continue
		}
		if _, ok := p.Layer(a.LayerID); !ok {
			return fmt.Errorf("agent %d in unknown layer %d", a.ID, a.LayerID)
		}
		if a.Slot < 0 {
			return fmt.Errorf("agent %d has negative slot %d", a.ID, a.Slot)
		}
		counts[a.LayerID]++
		if slots[a.LayerID] == nil {
			slots[a.LayerID] = make(map[int]AgentID)
		}
		if other, taken := slots[a.LayerID][a.Slot]; taken {
			return fmt.Errorf("layer %d slot %d held by agents %d and %d", a.LayerID, a.Slot, other, a.ID)
		}
		slots[a.LayerID][a.Slot] = a.ID
	}

	for _, l := range p.layers {
		if counts[l.ID] > l.Capacity {
			return fmt.Errorf("layer %d holds %d active agents, capacity %d", l.ID, counts[l.ID], l.Capacity)
		}
	}
	if users > 1 {
		return fmt.Errorf("%d agents flagged as user", users)
	}
	return nil
}
