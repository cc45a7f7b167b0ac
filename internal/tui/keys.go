package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Next      key.Binding
	Reset     key.Binding
	LuckUp    key.Binding
	LuckDown  key.Binding
	MeritUp   key.Binding
	MeritDown key.Binding
	Quit      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Next:      key.NewBinding(key.WithKeys("n", " "), key.WithHelp("n", "next turn")),
		Reset:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		LuckUp:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+/-", "luck")),
		LuckDown:  key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "luck down")),
		MeritUp:   key.NewBinding(key.WithKeys("M"), key.WithHelp("m/M", "your merit (next reset)")),
		MeritDown: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "merit down")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap. Paired bindings share one entry.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Reset, k.LuckUp, k.MeritUp, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Reset, k.Quit},
		{k.LuckUp, k.LuckDown, k.MeritUp, k.MeritDown},
	}
}
