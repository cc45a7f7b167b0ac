// Command careertui plays the career ladder in the terminal.
package main

import (
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/talgya/sediment/internal/config"
	"github.com/talgya/sediment/internal/engine"
	"github.com/talgya/sediment/internal/entropy"
	"github.com/talgya/sediment/internal/tui"
)

func main() {
	cfgPath := os.Getenv("SEDIMENT_CONFIG")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// The terminal belongs to the UI; logs go to a file when asked for.
	logOut := os.Getenv("SEDIMENT_LOG_FILE")
	var logger *slog.Logger
	if logOut != "" {
		f, err := os.OpenFile(logOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	slog.SetDefault(logger)

	rng := entropy.New(cfg.Seed, cfg.RandomOrg)
	eng := engine.NewEngine(engine.DefaultScenario(), cfg.Engine(), rng, engine.WithLogger(logger))

	p := tea.NewProgram(tui.New(eng, cfg.PhaseDelay), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
