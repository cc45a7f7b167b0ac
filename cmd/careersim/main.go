// Command careersim serves the career-ladder simulation over HTTP.
// Turns advance only when an admin POSTs /api/v1/turn.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/talgya/sediment/internal/api"
	"github.com/talgya/sediment/internal/config"
	"github.com/talgya/sediment/internal/engine"
	"github.com/talgya/sediment/internal/entropy"
	"github.com/talgya/sediment/internal/persistence"
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

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Sediment: career ladder simulation",
		"luck", cfg.Luck,
		"user_merit", cfg.UserMerit,
		"seed", cfg.Seed,
		"random_org", cfg.RandomOrg != "",
	)

	var db *persistence.DB
	if cfg.DBPath != "" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			os.MkdirAll(dir, 0755)
		}
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.DBPath)
	} else {
		slog.Warn("no db_path configured, run history disabled")
	}

	rng := entropy.New(cfg.Seed, cfg.RandomOrg)
	eng := engine.NewEngine(engine.DefaultScenario(), cfg.Engine(), rng, engine.WithLogger(logger))

	snap := eng.Snapshot()
	slog.Info("world ready",
		"agents", humanize.Comma(int64(snap.Stats.TotalActive)),
		"peers", humanize.Comma(int64(snap.Stats.ActivePeers)),
		"layers", len(snap.Layers),
	)

	if cfg.AdminKey == "" {
		slog.Warn("SEDIMENT_ADMIN_KEY not set, turn, reset and config POST endpoints will be disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := &api.Server{
		Eng:         eng,
		DB:          db,
		Port:        cfg.Port,
		AdminKey:    cfg.AdminKey,
		AdvanceRate: cfg.AdvanceRate,
		Seed:        cfg.Seed,
	}
	if err := apiServer.BeginRun(); err != nil {
		slog.Error("failed to record run", "error", err)
	}
	apiServer.Start(ctx)

	fmt.Printf("\nThe ladder is staffed: %s agents across %d layers.\n",
		humanize.Comma(int64(snap.Stats.TotalActive)), len(snap.Layers))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)
	fmt.Println("Waiting for turns... (Ctrl+C to stop)")

	<-ctx.Done()
	slog.Info("shutting down", "turn", eng.Snapshot().Turn)
}
