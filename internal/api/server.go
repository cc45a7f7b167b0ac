// Package api provides the HTTP API for observing and driving the career ladder.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/sediment/internal/agents"
	"github.com/talgya/sediment/internal/engine"
	"github.com/talgya/sediment/internal/persistence"
)

const maxSSEConns = 8

// Server serves the engine over HTTP.
type Server struct {
	Eng         *engine.Engine
	DB          *persistence.DB // Nil disables run history
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	AdvanceRate int    // Turn requests per minute per IP. 0 = unlimited.
	Seed        int64  // Recorded with each run

	// Active SSE connection count (atomic).
	sseConns int32

	runMu sync.RWMutex
	runID string

	hub *Hub
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start(ctx context.Context) {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "history", s.DB != nil)

	handler := s.Handler(ctx)
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Handler builds the route table and starts the WebSocket hub, which runs
// until ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.hub = NewHub(slog.Default())
	subID, events := s.Eng.Subscribe()
	go func() {
		s.hub.Run(ctx, events)
		s.Eng.Unsubscribe(subID)
	}()

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/layers", s.handleLayers)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/ws", s.hub.ServeWS)

	// Config is GET for everyone, POST for admins.
	mux.HandleFunc("/api/v1/config", s.adminOnly(s.handleConfig))

	// Admin endpoints.
	turn := s.postOnly(s.adminOnly(s.handleTurn))
	if s.AdvanceRate > 0 {
		turn = RateLimitMiddleware(NewRateLimiter(s.AdvanceRate, time.Minute), turn)
	}
	mux.HandleFunc("/api/v1/turn", turn)
	mux.HandleFunc("/api/v1/reset", s.postOnly(s.adminOnly(s.handleReset)))

	return corsMiddleware(mux)
}

// RunID returns the persisted run currently being recorded, if any.
func (s *Server) RunID() string {
	s.runMu.RLock()
	defer s.runMu.RUnlock()
	return s.runID
}

// BeginRun records a new run for the engine's current world. A nil DB is a no-op.
func (s *Server) BeginRun() error {
	if s.DB == nil {
		return nil
	}
	run, err := s.DB.StartRun(s.Eng.Config(), s.Seed)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	s.runMu.Lock()
	s.runID = run.ID
	s.runMu.Unlock()
	return nil
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no SEDIMENT_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Eng.Snapshot()
	writeJSON(w, map[string]any{
		"name":      "Sediment",
		"turn":      snap.Turn,
		"busy":      snap.Busy,
		"game_over": snap.GameOver,
		"phase":     snap.Phase,
		"label":     snap.Label,
		"config":    snap.Config,
		"stats":     snap.Stats,
		"run_id":    s.RunID(),
	})
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	type layerSummary struct {
		ID       agents.LayerID `json:"id"`
		Name     string         `json:"name"`
		Capacity int            `json:"capacity"`
		Active   int            `json:"active"`
		Peers    int            `json:"peers"`
		HasUser  bool           `json:"has_user"`
	}

	snap := s.Eng.Snapshot()
	active := make(map[agents.LayerID]int, len(snap.Layers))
	for _, a := range snap.Agents {
		if a.Active() {
			active[a.LayerID]++
		}
	}

	result := make([]layerSummary, 0, len(snap.Layers))
	for _, l := range snap.Layers {
		result = append(result, layerSummary{
			ID:       l.ID,
			Name:     l.Name,
			Capacity: l.Capacity,
			Active:   active[l.ID],
			Peers:    snap.Stats.PeersByLayer[l.ID],
			HasUser:  snap.Stats.UserLayerID == l.ID,
		})
	}
	writeJSON(w, result)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	var layer agents.LayerID
	if l := r.URL.Query().Get("layer"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, "invalid layer", http.StatusBadRequest)
			return
		}
		layer = agents.LayerID(n)
	}

	var status *agents.Status
	switch st := r.URL.Query().Get("status"); st {
	case "":
	case agents.StatusActive.String():
		v := agents.StatusActive
		status = &v
	case agents.StatusRetired.String():
		v := agents.StatusRetired
		status = &v
	default:
		http.Error(w, "status must be active or retired", http.StatusBadRequest)
		return
	}

	snap := s.Eng.Snapshot()
	result := make([]agents.Agent, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		if layer != 0 && a.LayerID != layer {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		result = append(result, a)
	}
	writeJSON(w, result)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Luck      *float64 `json:"luck"`
			UserMerit *float64 `json:"user_merit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		cfg := s.Eng.Config()
		if req.Luck != nil {
			cfg.Luck = *req.Luck
		}
		if req.UserMerit != nil {
			cfg.UserMerit = *req.UserMerit
		}
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Eng.SetConfig(cfg)
		slog.Info("config changed", "luck", cfg.Luck, "user_merit", cfg.UserMerit)
	}

	writeJSON(w, s.Eng.Config())
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	res, ran := s.Eng.AdvanceTurn()
	if !ran {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]bool{"ran": false})
		return
	}

	if s.DB != nil {
		if runID := s.RunID(); runID != "" {
			if err := s.DB.RecordTurn(runID, res); err != nil {
				slog.Error("turn record failed", "turn", res.TurnNumber, "error", err)
			}
		}
	}
	if err := s.Eng.CheckInvariants(); err != nil {
		slog.Error("population invariant violated", "turn", res.TurnNumber, "error", err)
	}

	writeJSON(w, map[string]any{
		"ran":    true,
		"result": res,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Eng.Reset(); err != nil {
		if errors.Is(err, engine.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.BeginRun(); err != nil {
		slog.Error("run start failed", "error", err)
	}

	snap := s.Eng.Snapshot()
	writeJSON(w, map[string]any{
		"turn":   snap.Turn,
		"stats":  snap.Stats,
		"config": snap.Config,
		"run_id": s.RunID(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runID := s.RunID()

	turns, err := s.DB.TurnHistory(runID)
	if err != nil {
		slog.Error("turn history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []persistence.TurnRecord{}
	}
	outcomes, err := s.DB.RetirementOutcomes(runID, s.Eng.Snapshot().Layers)
	if err != nil {
		slog.Error("retirement outcome query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"run_id":      runID,
		"turns":       turns,
		"retirements": outcomes,
	})
}

// handleStream provides an SSE endpoint for phase events.
// Limits concurrent connections.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Connection limit.
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := s.Eng.Subscribe()
	defer s.Eng.Unsubscribe(subID)

	// Catch-up: where the world stands right now, without the agent list.
	snap := s.Eng.Snapshot()
	writeSSEEvent(w, engine.PhaseEvent{Turn: snap.Turn, Phase: snap.Phase, Label: snap.Label})
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	// Stream loop with heartbeat.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSEEvent writes a single phase event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e engine.PhaseEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Phase, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
