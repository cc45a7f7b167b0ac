package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/entropy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBareSim returns a simulation with empty layers for hand-built worlds.
func newBareSim(layers []agents.Layer, seed int64) *Simulation {
	rng := entropy.NewSeeded(seed)
	return &Simulation{
		Scenario: Scenario{Layers: layers, MaxStage: MaxCareerStage},
		Pop:      agents.NewPopulation(layers),
		Spawner:  agents.NewSpawner(rng),
		rng:      rng,
		log:      quietLogger(),
	}
}

func fixedLuck(v float64) func() float64 {
	return func() float64 { return v }
}

func phasesOf(res TurnResult) []Phase {
	out := make([]Phase, len(res.Phases))
	for i, ev := range res.Phases {
		out[i] = ev.Phase
	}
	return out
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.8, Score(0.8, 0.1, 0))
	assert.Equal(t, 0.1, Score(0.8, 0.1, 1))
	assert.InDelta(t, 0.45, Score(0.8, 0.1, 0.5), 1e-12)
}

func TestConfigValidateAndClamp(t *testing.T) {
	assert.NoError(t, Config{Luck: 0, UserMerit: 1}.Validate())
	assert.ErrorIs(t, Config{Luck: 1.5}.Validate(), ErrOutOfRange)
	assert.ErrorIs(t, Config{UserMerit: -0.1}.Validate(), ErrOutOfRange)

	c := Config{Luck: 2, UserMerit: -1}.Clamped()
	assert.Equal(t, Config{Luck: 1, UserMerit: 0}, c)
}

func TestSeedWorldFillsEveryLayer(t *testing.T) {
	cfg := Config{Luck: 0.2, UserMerit: 0.9}
	sim := NewSimulation(DefaultScenario(), cfg, entropy.NewSeeded(42), quietLogger())

	require.NoError(t, sim.Pop.CheckInvariants())
	for _, l := range sim.Pop.Layers() {
		assert.Equal(t, l.Capacity, sim.Pop.ActiveCount(l.ID), "layer %d", l.ID)
	}

	user := sim.Pop.User()
	require.NotNil(t, user)
	assert.Equal(t, agents.LayerID(1), user.LayerID)
	assert.Equal(t, 0, user.Stage)
	assert.Equal(t, 0.9, user.Merit)
	assert.False(t, user.IsPeer)

	// 450 stage-0 seeds in the base layer: one user, the rest peers.
	st := sim.Stats()
	assert.Equal(t, 449, st.ActivePeers)
	assert.Equal(t, 449, st.PeersByLayer[1])
	assert.Equal(t, agents.LayerID(1), st.UserLayerID)
	assert.Equal(t, 0, sim.Turn)

	for _, a := range sim.Pop.All() {
		if a.IsPeer {
			assert.Equal(t, agents.LayerID(1), a.LayerID)
			assert.Equal(t, 0, a.Stage)
		}
		assert.False(t, a.IsNew)
	}
}

func TestSeedWorldPadsShortDistribution(t *testing.T) {
	sc := Scenario{
		Layers:       []agents.Layer{{ID: 1, Capacity: 20}, {ID: 2, Capacity: 4}},
		Distribution: map[agents.LayerID]map[int]int{1: {0: 3}},
		MaxStage:     MaxCareerStage,
	}
	sim := NewSimulation(sc, DefaultConfig(), entropy.NewSeeded(1), quietLogger())

	require.NoError(t, sim.Pop.CheckInvariants())
	assert.Equal(t, 20, sim.Pop.ActiveCount(1))
	assert.Equal(t, 4, sim.Pop.ActiveCount(2))
	for _, a := range sim.Pop.All() {
		assert.GreaterOrEqual(t, a.Stage, 0)
		assert.LessOrEqual(t, a.Stage, MaxCareerStage)
	}
}

func TestInvariantsHoldAcrossTurns(t *testing.T) {
	sim := NewSimulation(DefaultScenario(), Config{Luck: 0.3, UserMerit: 0.5}, entropy.NewSeeded(9), quietLogger())
	base := sim.Pop.Base()

	for turn := 1; turn <= 12; turn++ {
		before := make(map[agents.AgentID]int)
		for _, a := range sim.Pop.All() {
			if a.Active() {
				before[a.ID] = a.Stage
			}
		}

		res := sim.RunTurn(fixedLuck(0.3), nil)
		require.NoError(t, sim.Pop.CheckInvariants(), "turn %d", turn)
		assert.Equal(t, turn, res.TurnNumber)
		assert.False(t, res.PassLimitHit)

		for _, a := range sim.Pop.All() {
			if stage, ok := before[a.ID]; ok {
				assert.Equal(t, stage+1, a.Stage, "agent %d ages by exactly one", a.ID)
			}
		}
		if !res.GameOver {
			assert.Equal(t, base.Capacity, sim.Pop.ActiveCount(base.ID))
			assert.Equal(t, sim.Pop.CountActive(), res.Stats.TotalActive)
		}
	}
}

func TestScenarioABackfillsBaseLayer(t *testing.T) {
	sc := Scenario{
		Layers:       []agents.Layer{{ID: 1, Name: "Base", Capacity: 10}},
		Distribution: map[agents.LayerID]map[int]int{1: {0: 8, 4: 2}},
		MaxStage:     MaxCareerStage,
	}
	sim := NewSimulation(sc, Config{Luck: 0, UserMerit: 0.5}, entropy.NewSeeded(5), quietLogger())

	res := sim.RunTurn(fixedLuck(0), nil)

	require.False(t, res.GameOver)
	assert.Len(t, res.Retired, 2)
	assert.Equal(t, 2, res.Hires)
	assert.Equal(t, 10, sim.Pop.ActiveCount(1))

	var hires []*agents.Agent
	for _, a := range sim.Pop.All() {
		if a.IsNew {
			hires = append(hires, a)
		}
	}
	require.Len(t, hires, 2)
	for _, h := range hires {
		assert.Equal(t, 0, h.Stage)
		assert.False(t, h.IsUser)
		assert.False(t, h.IsPeer)
	}
	// The retirees' seats were recycled.
	assert.ElementsMatch(t, []int{res.Retired[0].Slot, res.Retired[1].Slot}, []int{hires[0].Slot, hires[1].Slot})
}

func TestRetireesVisibleForOneTurn(t *testing.T) {
	sc := Scenario{
		Layers:       []agents.Layer{{ID: 1, Capacity: 10}},
		Distribution: map[agents.LayerID]map[int]int{1: {0: 8, 4: 2}},
		MaxStage:     MaxCareerStage,
	}
	sim := NewSimulation(sc, DefaultConfig(), entropy.NewSeeded(5), quietLogger())

	res := sim.RunTurn(fixedLuck(0), nil)
	require.Len(t, res.Retired, 2)
	for _, r := range res.Retired {
		got := sim.Pop.Get(r.ID)
		require.NotNil(t, got)
		assert.Equal(t, agents.StatusRetired, got.Status)
	}
	assert.Equal(t, 12, sim.Pop.Len())

	sim.RunTurn(fixedLuck(0), nil)
	for _, r := range res.Retired {
		assert.Nil(t, sim.Pop.Get(r.ID))
	}
	for _, a := range sim.Pop.All() {
		if a.IsNew {
			assert.Equal(t, 0, a.Stage, "only this turn's hires keep the new flag")
		}
	}
}

func TestScenarioBTopMeritUserReachesApex(t *testing.T) {
	sim := NewSimulation(DefaultScenario(), Config{Luck: 0, UserMerit: 1}, entropy.NewSeeded(123), quietLogger())
	userID := sim.Pop.User().ID

	for turn := 1; turn <= 4; turn++ {
		res := sim.RunTurn(fixedLuck(0), nil)
		require.False(t, res.GameOver, "turn %d", turn)
		assert.Equal(t, agents.LayerID(turn+1), res.Stats.UserLayerID, "turn %d", turn)
	}

	res := sim.RunTurn(fixedLuck(0), nil)
	assert.True(t, res.GameOver)
	assert.Equal(t, agents.LayerID(0), res.Stats.UserLayerID)

	user := sim.Pop.Get(userID)
	require.NotNil(t, user)
	assert.Equal(t, agents.LayerID(5), user.LayerID)
	assert.Equal(t, agents.StatusRetired, user.Status)
}

func TestGameOverTurnSkipsPromotionAndHiring(t *testing.T) {
	sim := NewSimulation(DefaultScenario(), Config{Luck: 0.5, UserMerit: 0.5}, entropy.NewSeeded(77), quietLogger())
	for i := 0; i < 4; i++ {
		require.False(t, sim.RunTurn(fixedLuck(0.5), nil).GameOver)
	}
	nextID := sim.Spawner.NextID()

	luckRead := false
	res := sim.RunTurn(func() float64 { luckRead = true; return 0.5 }, nil)

	assert.True(t, res.GameOver)
	assert.False(t, luckRead)
	assert.Equal(t, []Phase{PhaseRetirement, PhaseFinished}, phasesOf(res))
	assert.Zero(t, res.Promotions)
	assert.Zero(t, res.Hires)
	assert.Equal(t, nextID, sim.Spawner.NextID(), "no hires on a game-over turn")
	assert.Greater(t, sim.Pop.Vacancies(1), 0)
	assert.Equal(t, 5, sim.Turn)

	// The user is purged next turn; the game stays over.
	res = sim.RunTurn(fixedLuck(0.5), nil)
	assert.True(t, res.GameOver)
	assert.Nil(t, sim.Pop.User())
}

func TestPhaseSequenceOfNormalTurn(t *testing.T) {
	sim := NewSimulation(DefaultScenario(), DefaultConfig(), entropy.NewSeeded(3), quietLogger())

	var emitted []Phase
	res := sim.RunTurn(fixedLuck(0), func(ev PhaseEvent) {
		emitted = append(emitted, ev.Phase)
		assert.Equal(t, 1, ev.Turn)
		assert.Equal(t, ev.Phase.Label(), ev.Label)
	})

	want := []Phase{PhaseRetirement, PhasePromotion, PhaseHiring, PhaseIdle}
	assert.Equal(t, want, emitted)
	assert.Equal(t, want, phasesOf(res))
	assert.NotEmpty(t, res.Phases[0].Agents)
	assert.Empty(t, res.Phases[3].Agents)
}

func TestLuckZeroPromotesTopMerit(t *testing.T) {
	layers := []agents.Layer{{ID: 1, Capacity: 10}, {ID: 2, Capacity: 3}}
	sim := newBareSim(layers, 1)
	merits := []float64{0.15, 0.92, 0.33, 0.71, 0.05, 0.88, 0.42, 0.61, 0.27, 0.99}
	for slot, m := range merits {
		a := sim.Spawner.SpawnSeed(1, slot, 1)
		a.Merit = m
		sim.Pop.Add(a)
	}

	promotions, passes, limit := sim.processPromotions(0)

	assert.Equal(t, 3, promotions)
	assert.Equal(t, 2, passes)
	assert.False(t, limit)

	var got []float64
	var slots []int
	for _, a := range sim.Pop.Active(2) {
		got = append(got, a.Merit)
		slots = append(slots, a.Slot)
	}
	assert.ElementsMatch(t, []float64{0.99, 0.92, 0.88}, got)
	assert.ElementsMatch(t, []int{0, 1, 2}, slots)
	require.NoError(t, sim.Pop.CheckInvariants())
}

func TestPromotionPacksFirstFreeSlot(t *testing.T) {
	layers := []agents.Layer{{ID: 1, Capacity: 5}, {ID: 2, Capacity: 4}}
	sim := newBareSim(layers, 1)
	sim.Pop.Add(&agents.Agent{ID: 100, LayerID: 2, Slot: 0, Merit: 0.5})
	sim.Pop.Add(&agents.Agent{ID: 101, LayerID: 2, Slot: 2, Merit: 0.5})
	for slot := 0; slot < 5; slot++ {
		sim.Pop.Add(sim.Spawner.SpawnSeed(1, slot, 1))
	}

	promotions, _, _ := sim.processPromotions(0.5)
	assert.Equal(t, 2, promotions)

	var slots []int
	for _, a := range sim.Pop.Active(2) {
		slots = append(slots, a.Slot)
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, slots)
}

func TestNoAgentPromotedTwicePerTurn(t *testing.T) {
	layers := []agents.Layer{{ID: 1, Capacity: 10}, {ID: 2, Capacity: 2}, {ID: 3, Capacity: 2}}
	sim := newBareSim(layers, 1)
	for slot := 0; slot < 10; slot++ {
		sim.Pop.Add(sim.Spawner.SpawnSeed(1, slot, 0))
	}

	promotions, passes, limit := sim.processPromotions(0)

	assert.Equal(t, 2, promotions)
	assert.Equal(t, 2, passes)
	assert.False(t, limit)
	assert.Equal(t, 2, sim.Pop.ActiveCount(2))
	assert.Zero(t, sim.Pop.ActiveCount(3))
}

func TestCascadeResolvesWithinOnePass(t *testing.T) {
	layers := []agents.Layer{{ID: 1, Capacity: 25}, {ID: 2, Capacity: 5}, {ID: 3, Capacity: 1}}
	sim := newBareSim(layers, 2)
	for slot := 0; slot < 25; slot++ {
		sim.Pop.Add(sim.Spawner.SpawnSeed(1, slot, 0))
	}
	for slot := 0; slot < 5; slot++ {
		sim.Pop.Add(sim.Spawner.SpawnSeed(2, slot, 1))
	}

	// Apex is empty: it pulls from layer 2, which then refills from layer 1.
	promotions, passes, _ := sim.processPromotions(0)
	assert.Equal(t, 2, promotions)
	assert.Equal(t, 2, passes)
	assert.Equal(t, 1, sim.Pop.ActiveCount(3))
	assert.Equal(t, 5, sim.Pop.ActiveCount(2))
	assert.Equal(t, 24, sim.Pop.ActiveCount(1))
}

func TestLuckOneSelectsUniformly(t *testing.T) {
	const (
		candidates = 10
		vacancies  = 2
		trials     = 20000
	)
	layers := []agents.Layer{{ID: 1, Capacity: candidates}, {ID: 2, Capacity: vacancies}}
	wins := make(map[agents.AgentID]int)

	sim := newBareSim(layers, 11)
	for slot := 0; slot < candidates; slot++ {
		a := sim.Spawner.SpawnSeed(1, slot, 1)
		a.Merit = 0.5
		sim.Pop.Add(a)
	}

	for i := 0; i < trials; i++ {
		sim.fillLayer(layers[1], 1, 1, make(map[agents.AgentID]bool))
		for _, a := range sim.Pop.Active(2) {
			wins[a.ID]++
			a.LayerID = 1 // send back down for the next trial
		}
	}

	want := float64(vacancies) / float64(candidates)
	for id, n := range wins {
		assert.InDelta(t, want, float64(n)/trials, 0.02, "agent %d", id)
	}
	assert.Len(t, wins, candidates)
}

func TestEngineAdvanceAndSnapshot(t *testing.T) {
	e := NewEngine(DefaultScenario(), Config{Luck: 0.1, UserMerit: 0.7}, entropy.NewSeeded(4), WithLogger(quietLogger()))

	res, ran := e.AdvanceTurn()
	require.True(t, ran)
	assert.Equal(t, 1, res.TurnNumber)
	assert.False(t, e.Busy())

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Turn)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, "Ready", snap.Label)
	assert.Len(t, snap.Layers, 5)
	assert.Equal(t, res.Stats.TotalActive, snap.Stats.TotalActive)
	assert.NoError(t, e.CheckInvariants())
}

func TestEngineIgnoresAdvanceWhileBusy(t *testing.T) {
	e := NewEngine(DefaultScenario(), DefaultConfig(), entropy.NewSeeded(4), WithLogger(quietLogger()))
	e.busy.Store(true)

	_, ran := e.AdvanceTurn()
	assert.False(t, ran)
	assert.ErrorIs(t, e.Reset(), ErrBusy)
	assert.Equal(t, 0, e.Snapshot().Turn)

	e.busy.Store(false)
	_, ran = e.AdvanceTurn()
	assert.True(t, ran)
}

func TestEngineResetTwice(t *testing.T) {
	e := NewEngine(DefaultScenario(), DefaultConfig(), entropy.NewSeeded(8), WithLogger(quietLogger()))
	_, _ = e.AdvanceTurn()
	_, _ = e.AdvanceTurn()

	e.SetConfig(Config{Luck: 0.4, UserMerit: 0.95})
	for i := 0; i < 2; i++ {
		require.NoError(t, e.Reset())
		snap := e.Snapshot()
		assert.Equal(t, 0, snap.Turn)
		assert.False(t, snap.GameOver)
		assert.Equal(t, PhaseIdle, snap.Phase)
		assert.NoError(t, e.CheckInvariants())

		users := 0
		for _, a := range snap.Agents {
			if a.IsUser {
				users++
				assert.Equal(t, 0.95, a.Merit)
				assert.Equal(t, 0, a.Stage)
			}
		}
		assert.Equal(t, 1, users)
	}
}

func TestEngineSetConfigClamps(t *testing.T) {
	e := NewEngine(DefaultScenario(), DefaultConfig(), entropy.NewSeeded(1), WithLogger(quietLogger()))
	e.SetConfig(Config{Luck: 3, UserMerit: -2})
	assert.Equal(t, Config{Luck: 1, UserMerit: 0}, e.Config())
}

func TestEngineSubscribersReceivePhases(t *testing.T) {
	e := NewEngine(DefaultScenario(), DefaultConfig(), entropy.NewSeeded(2), WithLogger(quietLogger()))
	id, ch := e.Subscribe()

	_, ran := e.AdvanceTurn()
	require.True(t, ran)

	var got []Phase
	for i := 0; i < 4; i++ {
		got = append(got, (<-ch).Phase)
	}
	assert.Equal(t, []Phase{PhaseRetirement, PhasePromotion, PhaseHiring, PhaseIdle}, got)

	require.NoError(t, e.Reset())
	ev := <-ch
	assert.Equal(t, PhaseIdle, ev.Phase)
	assert.Equal(t, 0, ev.Turn)

	e.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestOutcomeIndependentOfSubscribers(t *testing.T) {
	run := func(listen bool) TurnResult {
		e := NewEngine(DefaultScenario(), Config{Luck: 0.5, UserMerit: 0.5}, entropy.NewSeeded(99), WithLogger(quietLogger()))
		if listen {
			e.Subscribe()
		}
		var res TurnResult
		for i := 0; i < 3; i++ {
			res, _ = e.AdvanceTurn()
		}
		return res
	}

	a, b := run(false), run(true)
	assert.Equal(t, a.Stats, b.Stats)
	assert.Equal(t, a.Promotions, b.Promotions)
	assert.Equal(t, a.Retired, b.Retired)
}
