// Package tui is the terminal front end for the career ladder. It drives the
// engine one turn per keypress and replays each turn's phases with a pause
// between them, so the viewer can follow retirements, promotions and hires.
// The pause is presentation only: the turn has already finished when the
// first phase is drawn.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/engine"
)

const (
	step      = 0.1
	stepScale = 10 // 1/step
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	phaseStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	overStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	layerBoxBase = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// phaseTickMsg advances the replay. seq ties it to the turn that scheduled it.
type phaseTickMsg struct{ seq int }

// Model is the bubbletea model.
type Model struct {
	eng   *engine.Engine
	delay time.Duration
	keys  keyMap
	help  help.Model

	layers   []agents.Layer
	agents   []agents.Agent // Store contents as of the phase being shown
	turn     int
	phase    engine.Phase
	label    string
	gameOver bool

	queue []engine.PhaseEvent
	seq   int
	last  *engine.TurnResult

	status string
	width  int
}

// New creates a model over eng that pauses delay between phases.
func New(eng *engine.Engine, delay time.Duration) Model {
	m := Model{
		eng:   eng,
		delay: delay,
		keys:  defaultKeys(),
		help:  help.New(),
	}
	m.loadSnapshot()
	return m
}

func (m *Model) loadSnapshot() {
	snap := m.eng.Snapshot()
	m.layers = snap.Layers
	m.agents = snap.Agents
	m.turn = snap.Turn
	m.phase = snap.Phase
	m.label = snap.Label
	m.gameOver = snap.GameOver
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Replaying reports whether phases of the last turn are still being shown.
func (m Model) Replaying() bool {
	return len(m.queue) > 0
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case phaseTickMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m.showNext()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Next):
			return m.advance()
		case key.Matches(msg, m.keys.Reset):
			return m.reset()
		case key.Matches(msg, m.keys.LuckUp):
			m.adjust(step, 0)
		case key.Matches(msg, m.keys.LuckDown):
			m.adjust(-step, 0)
		case key.Matches(msg, m.keys.MeritUp):
			m.adjust(0, step)
		case key.Matches(msg, m.keys.MeritDown):
			m.adjust(0, -step)
		}
	}
	return m, nil
}

func (m Model) advance() (tea.Model, tea.Cmd) {
	if m.Replaying() {
		m.status = "Turn still playing"
		return m, nil
	}
	if m.gameOver {
		m.status = "Career finished. Press r to start over"
		return m, nil
	}

	res, ran := m.eng.AdvanceTurn()
	if !ran {
		m.status = "Turn in progress"
		return m, nil
	}
	m.status = ""
	m.last = &res
	m.queue = append([]engine.PhaseEvent(nil), res.Phases...)
	m.seq++
	return m.showNext()
}

// showNext draws the next queued phase and schedules the one after it.
func (m Model) showNext() (tea.Model, tea.Cmd) {
	if len(m.queue) == 0 {
		return m, nil
	}
	ev := m.queue[0]
	m.queue = m.queue[1:]

	m.turn = ev.Turn
	m.phase = ev.Phase
	m.label = ev.Label
	if ev.Agents != nil {
		m.agents = ev.Agents
	}
	if ev.Phase == engine.PhaseFinished {
		m.gameOver = true
	}

	if len(m.queue) == 0 {
		return m, nil
	}
	seq := m.seq
	return m, tea.Tick(m.delay, func(time.Time) tea.Msg { return phaseTickMsg{seq: seq} })
}

func (m Model) reset() (tea.Model, tea.Cmd) {
	if err := m.eng.Reset(); err != nil {
		m.status = fmt.Sprintf("Reset failed: %v", err)
		return m, nil
	}
	m.queue = nil
	m.last = nil
	m.seq++
	m.loadSnapshot()
	m.status = "New career started"
	return m, nil
}

func (m *Model) adjust(dLuck, dMerit float64) {
	cfg := m.eng.Config()
	cfg.Luck = roundStep(cfg.Luck + dLuck)
	cfg.UserMerit = roundStep(cfg.UserMerit + dMerit)
	m.eng.SetConfig(cfg)
	cfg = m.eng.Config()
	if dMerit != 0 {
		m.status = fmt.Sprintf("Your merit will be %.1f after reset", cfg.UserMerit)
	} else {
		m.status = fmt.Sprintf("Luck set to %.1f", cfg.Luck)
	}
}

func roundStep(v float64) float64 {
	return math.Round(v*stepScale) / stepScale
}

type layerView struct {
	layer    agents.Layer
	active   int
	peers    int
	retiring int
	hires    int
	user     bool
}

func (m Model) layerViews() []layerView {
	byID := make(map[agents.LayerID]*layerView, len(m.layers))
	views := make([]layerView, len(m.layers))
	for i, l := range m.layers {
		views[i].layer = l
		byID[l.ID] = &views[i]
	}
	for _, a := range m.agents {
		v := byID[a.LayerID]
		if v == nil {
			continue
		}
		if !a.Active() {
			v.retiring++
			continue
		}
		v.active++
		if a.IsPeer {
			v.peers++
		}
		if a.IsNew {
			v.hires++
		}
		if a.IsUser {
			v.user = true
		}
	}
	return views
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	cfg := m.eng.Config()
	b.WriteString(titleStyle.Render("Career Ladder"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("   Turn %d   Luck %.1f   Your merit %.1f", m.turn, cfg.Luck, cfg.UserMerit)))
	b.WriteString("\n")
	b.WriteString(phaseStyle.Render(m.label))
	b.WriteString("\n\n")

	views := m.layerViews()
	rows := make([]string, 0, len(views))
	for i := len(views) - 1; i >= 0; i-- {
		rows = append(rows, m.renderLayer(views[i]))
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, rows...))
	b.WriteString("\n")

	if m.last != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Last turn: %s retired, %s promoted in %d passes, %s hired",
			humanize.Comma(int64(len(m.last.Retired))),
			humanize.Comma(int64(m.last.Promotions)),
			m.last.Passes,
			humanize.Comma(int64(m.last.Hires)))))
		b.WriteString("\n")
	}
	if m.gameOver {
		b.WriteString(overStyle.Render("Your career is over."))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderLayer(v layerView) string {
	line := fmt.Sprintf("%-24s %6s / %-6s  Peers: %s",
		v.layer.Name,
		humanize.Comma(int64(v.active)),
		humanize.Comma(int64(v.layer.Capacity)),
		humanize.Comma(int64(v.peers)))
	if v.retiring > 0 {
		line += dimStyle.Render(fmt.Sprintf("  retiring %s", humanize.Comma(int64(v.retiring))))
	}
	if v.hires > 0 {
		line += dimStyle.Render(fmt.Sprintf("  new %s", humanize.Comma(int64(v.hires))))
	}
	if v.user {
		line += "  " + userStyle.Render("◆ you")
	}

	style := layerBoxBase
	if m.width > 0 {
		style = style.Width(m.width - 4)
	}
	return style.Render(line)
}
