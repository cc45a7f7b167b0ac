// Package persistence provides SQLite-based run history storage. The engine
// itself is in-memory; this records what each run did, turn by turn.
package persistence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/engine"
)

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Run is one world from reset to the next reset.
type Run struct {
	ID        string    `db:"id" json:"id"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	Luck      float64   `db:"luck" json:"luck"`
	UserMerit float64   `db:"user_merit" json:"user_merit"`
	Seed      int64     `db:"seed" json:"seed"`
}

// TurnRecord is the persisted summary of one turn.
type TurnRecord struct {
	RunID       string `db:"run_id" json:"-"`
	Turn        int    `db:"turn" json:"turn"`
	TotalActive int    `db:"total_active" json:"total_active"`
	ActivePeers int    `db:"active_peers" json:"active_peers"`
	UserLayer   int    `db:"user_layer" json:"user_layer"`
	GameOver    bool   `db:"game_over" json:"game_over"`
	Passes      int    `db:"passes" json:"passes"`
	Promotions  int    `db:"promotions" json:"promotions"`
	Hires       int    `db:"hires" json:"hires"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		luck REAL NOT NULL,
		user_merit REAL NOT NULL,
		seed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		run_id TEXT NOT NULL REFERENCES runs(id),
		turn INTEGER NOT NULL,
		total_active INTEGER NOT NULL,
		active_peers INTEGER NOT NULL,
		user_layer INTEGER NOT NULL,
		game_over INTEGER NOT NULL,
		passes INTEGER NOT NULL,
		promotions INTEGER NOT NULL,
		hires INTEGER NOT NULL,
		PRIMARY KEY (run_id, turn)
	);

	CREATE TABLE IF NOT EXISTS retirements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		turn INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		layer_id INTEGER NOT NULL,
		merit REAL NOT NULL,
		is_user INTEGER NOT NULL,
		is_peer INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retirements_run ON retirements(run_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// StartRun records a new run and returns its ID.
func (db *DB) StartRun(cfg engine.Config, seed int64) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Luck:      cfg.Luck,
		UserMerit: cfg.UserMerit,
		Seed:      seed,
	}
	_, err := db.conn.NamedExec(`INSERT INTO runs (id, started_at, luck, user_merit, seed)
		VALUES (:id, :started_at, :luck, :user_merit, :seed)`, run)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	if err := db.SaveMeta("current_run", run.ID); err != nil {
		return Run{}, fmt.Errorf("save meta: %w", err)
	}
	slog.Info("run started", "run_id", run.ID, "luck", cfg.Luck, "user_merit", cfg.UserMerit)
	return run, nil
}

// RecordTurn stores a turn summary and its retirees in one transaction.
func (db *DB) RecordTurn(runID string, res engine.TurnResult) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec := TurnRecord{
		RunID:       runID,
		Turn:        res.TurnNumber,
		TotalActive: res.Stats.TotalActive,
		ActivePeers: res.Stats.ActivePeers,
		UserLayer:   int(res.Stats.UserLayerID),
		GameOver:    res.GameOver,
		Passes:      res.Passes,
		Promotions:  res.Promotions,
		Hires:       res.Hires,
	}
	if _, err := tx.NamedExec(`INSERT INTO turns
		(run_id, turn, total_active, active_peers, user_layer, game_over, passes, promotions, hires)
		VALUES (:run_id, :turn, :total_active, :active_peers, :user_layer, :game_over, :passes, :promotions, :hires)`,
		rec); err != nil {
		return fmt.Errorf("insert turn %d: %w", res.TurnNumber, err)
	}

	if len(res.Retired) > 0 {
		stmt, err := tx.Preparex(`INSERT INTO retirements
			(run_id, turn, agent_id, layer_id, merit, is_user, is_peer)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range res.Retired {
			if _, err := stmt.Exec(runID, res.TurnNumber, a.ID, a.LayerID, a.Merit, a.IsUser, a.IsPeer); err != nil {
				return fmt.Errorf("insert retirement %d: %w", a.ID, err)
			}
		}
	}

	return tx.Commit()
}

// TurnHistory returns the turns recorded for a run in order.
func (db *DB) TurnHistory(runID string) ([]TurnRecord, error) {
	var turns []TurnRecord
	err := db.conn.Select(&turns, `SELECT run_id, turn, total_active, active_peers, user_layer,
		game_over, passes, promotions, hires FROM turns WHERE run_id = ? ORDER BY turn`, runID)
	return turns, err
}

// RetirementOutcomes counts a run's retirees by the layer they retired from.
// Every layer in layers gets an entry.
func (db *DB) RetirementOutcomes(runID string, layers []agents.Layer) (map[agents.LayerID]int, error) {
	var rows []struct {
		LayerID agents.LayerID `db:"layer_id"`
		Count   int            `db:"n"`
	}
	err := db.conn.Select(&rows,
		"SELECT layer_id, COUNT(*) AS n FROM retirements WHERE run_id = ? GROUP BY layer_id", runID)
	if err != nil {
		return nil, err
	}

	out := make(map[agents.LayerID]int, len(layers))
	for _, l := range layers {
		out[l.ID] = 0
	}
	for _, r := range rows {
		out[r.LayerID] = r.Count
	}
	return out, nil
}

// GetRun loads a run by ID.
func (db *DB) GetRun(id string) (Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT id, started_at, luck, user_merit, seed FROM runs WHERE id = ?", id)
	return run, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
