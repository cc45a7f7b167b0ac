// Package engine runs the career-ladder simulation: one world of agents moving
// through a fixed hierarchy, advanced one turn at a time on request.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/entropy"
)

// ErrBusy is returned by Reset while a turn is in flight.
var ErrBusy = errors.New("turn in progress")

// subscriberBuffer is the per-subscriber event backlog; slower readers miss events.
const subscriberBuffer = 64

// Engine drives a Simulation on behalf of external drivers. At most one turn
// runs at a time; the busy flag is held from the start of a turn until it is
// finalized, including game-over turns.
type Engine struct {
	busy atomic.Bool

	mu       sync.RWMutex // guards sim and phase
	sim      *Simulation
	phase    Phase
	scenario Scenario
	rng      entropy.Source
	log      *slog.Logger

	cfgMu sync.RWMutex
	cfg   Config

	subMu   sync.Mutex
	subs    map[int]chan PhaseEvent
	nextSub int
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its simulations.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an engine and seeds its first world.
func NewEngine(sc Scenario, cfg Config, rng entropy.Source, opts ...Option) *Engine {
	e := &Engine{
		scenario: sc,
		rng:      rng,
		log:      slog.Default(),
		cfg:      cfg.Clamped(),
		subs:     make(map[int]chan PhaseEvent),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sim = NewSimulation(sc, e.cfg, rng, e.log)
	return e
}

// AdvanceTurn runs one full turn. If a turn is already in flight it does
// nothing and returns ran=false.
func (e *Engine) AdvanceTurn() (res TurnResult, ran bool) {
	if !e.busy.CompareAndSwap(false, true) {
		e.log.Debug("advance ignored, turn in progress")
		return TurnResult{}, false
	}
	defer e.busy.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	res = e.sim.RunTurn(e.luck, func(ev PhaseEvent) {
		e.phase = ev.Phase
		e.publish(ev)
	})
	return res, true
}

// Reset discards the current world and seeds a new one with the current
// configuration. It fails with ErrBusy while a turn is in flight.
func (e *Engine) Reset() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.busy.Store(false)

	cfg := e.Config()

	e.mu.Lock()
	e.sim = NewSimulation(e.scenario, cfg, e.rng, e.log)
	e.phase = PhaseIdle
	e.mu.Unlock()

	e.log.Info("world reset", "luck", cfg.Luck, "user_merit", cfg.UserMerit)
	e.publish(newPhaseEvent(0, PhaseIdle, nil))
	return nil
}

// Busy reports whether a turn or reset is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// SetConfig replaces the configuration, clamping both values into [0, 1].
// Luck applies from the next promotion phase, UserMerit from the next reset.
func (e *Engine) SetConfig(cfg Config) {
	e.cfgMu.Lock()
	e.cfg = cfg.Clamped()
	e.cfgMu.Unlock()
}

func (e *Engine) luck() float64 {
	return e.Config().Luck
}

// Snapshot is a read-only copy of engine state for renderers and APIs.
type Snapshot struct {
	Turn     int            `json:"turn"`
	Busy     bool           `json:"busy"`
	GameOver bool           `json:"game_over"`
	Phase    Phase          `json:"phase"`
	Label    string         `json:"label"`
	Config   Config         `json:"config"`
	Stats    Stats          `json:"stats"`
	Layers   []agents.Layer `json:"layers"`
	Agents   []agents.Agent `json:"agents"`
}

// Snapshot copies the current world. It waits for an in-flight turn.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Turn:     e.sim.Turn,
		Busy:     e.Busy(),
		GameOver: e.sim.GameOver,
		Phase:    e.phase,
		Label:    e.phase.Label(),
		Config:   e.Config(),
		Stats:    e.sim.Stats(),
		Layers:   e.sim.Pop.Layers(),
		Agents:   e.sim.Pop.Snapshot(),
	}
}

// CheckInvariants validates the current store.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sim.Pop.CheckInvariants()
}

// Subscribe registers a phase event listener.
func (e *Engine) Subscribe() (int, <-chan PhaseEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.nextSub++
	ch := make(chan PhaseEvent, subscriberBuffer)
	e.subs[e.nextSub] = ch
	return e.nextSub, ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Engine) Unsubscribe(id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) publish(ev PhaseEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Debug("subscriber lagging, event dropped", "sub_id", id, "phase", ev.Phase)
		}
	}
}
