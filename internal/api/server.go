// Package api provides the HTTP API renderers and observers use to read the network.
// GET endpoints are public and read-only.
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/talgya/citynet/internal/engine"
	"github.com/talgya/citynet/internal/persistence"
)

const maxStreamConns = 8

// Server serves simulation state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	DB          *persistence.DB // Optional; snapshot endpoint is disabled without it
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins []string
	StreamRate  float64 // Frames per second per stream client

	streamConns int32
	srv         *http.Server
	limiters    []*RateLimiter
	stop        chan struct{}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	streamLimiter := NewRateLimiter(1, 5)
	adminLimiter := NewRateLimiter(2, 10)
	s.limiters = []*RateLimiter{streamLimiter, adminLimiter}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/frame", s.handleFrame)
	mux.HandleFunc("GET /api/v1/cities", s.handleCities)
	mux.HandleFunc("GET /api/v1/city/{id}", s.handleCityDetail)
	mux.HandleFunc("GET /api/v1/roads", s.handleRoads)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stream", streamLimiter.Middleware(s.handleStream))

	mux.HandleFunc("POST /api/v1/speed", adminLimiter.Middleware(s.adminOnly(s.handleSpeed)))
	mux.HandleFunc("POST /api/v1/snapshot", adminLimiter.Middleware(s.adminOnly(s.handleSnapshot)))

	c := cors.New(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "cors_origins", s.CORSOrigins)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	s.stop = make(chan struct{})
	go s.cleanupLimiters(s.stop)
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	close(s.stop)
	return s.srv.Shutdown(ctx)
}

func (s *Server) cleanupLimiters(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, rl := range s.limiters {
				rl.Cleanup(time.Hour)
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.Status()
	resp := map[string]any{
		"status":   st,
		"sim_time": engine.SimTime(st.Clock),
	}
	if s.Eng != nil {
		resp["speed"] = s.Eng.Speed()
		resp["frames"] = s.Eng.Frames()
		resp["running"] = s.Eng.Running()
	}
	writeJSON(w, resp)
}

// handleFrame returns everything a renderer needs for one frame.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot())
}

// handleCities lists cities. ?collapsing=true|false filters by state.
func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	cities := s.Sim.Snapshot().Cities

	if v := r.URL.Query().Get("collapsing"); v != "" {
		want, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "collapsing must be true or false")
			return
		}
		filtered := cities[:0]
		for _, c := range cities {
			if c.Collapsing == want {
				filtered = append(filtered, c)
			}
		}
		cities = filtered
	}

	writeJSON(w, cities)
}

func (s *Server) handleCityDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid city id")
		return
	}

	snap := s.Sim.Snapshot()
	var city *engine.CityView
	for i := range snap.Cities {
		if snap.Cities[i].ID == id {
			city = &snap.Cities[i]
			break
		}
	}
	if city == nil {
		writeError(w, http.StatusNotFound, "city not found")
		return
	}

	neighbours := []uint64{}
	roads := []engine.RoadView{}
	for _, rd := range snap.Roads {
		switch id {
		case rd.StartID:
			neighbours = append(neighbours, rd.EndID)
		case rd.EndID:
			neighbours = append(neighbours, rd.StartID)
		default:
			continue
		}
		roads = append(roads, rd)
	}

	writeJSON(w, map[string]any{
		"city":       city,
		"neighbours": neighbours,
		"roads":      roads,
	})
}

func (s *Server) handleRoads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot().Roads)
}

// handleEvents returns recent events. ?limit=N (default 100), ?kind=founded|evolved|...
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	kind := engine.EventKind(r.URL.Query().Get("kind"))
	writeJSON(w, s.Sim.RecentEvents(limit, kind))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not attached")
		return
	}
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
		writeError(w, http.StatusBadRequest, `body must be {"speed": <number>}`)
		return
	}
	if err := s.Eng.SetSpeed(*req.Speed); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true, "speed": *req.Speed})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	if err := s.DB.SaveWorldState(s.Sim); err != nil {
		slog.Error("manual snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	st := s.Sim.Status()
	writeJSON(w, map[string]any{"success": true, "tick": st.Tick, "cities": st.Cities, "roads": st.Roads})
}

// adminOnly requires "Authorization: Bearer <AdminKey>".
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.AdminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handleStream pushes a snapshot to a websocket client StreamRate times a second.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if atomic.AddInt32(&s.streamConns, 1) > maxStreamConns {
		atomic.AddInt32(&s.streamConns, -1)
		writeError(w, http.StatusServiceUnavailable, "too many stream clients")
		return
	}
	defer atomic.AddInt32(&s.streamConns, -1)

	upgrader := websocket.Upgrader{CheckOrigin: s.allowOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client messages so close frames are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	rate := s.StreamRate
	if rate <= 0 {
		rate = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	slog.Debug("stream client connected", "remote", r.RemoteAddr)
	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.Sim.Snapshot()); err != nil {
			slog.Debug("stream write failed", "error", err)
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.CORSOrigins) == 0 {
		return true
	}
	for _, o := range s.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
