// Simulation ties together cities and roads and advances them each frame.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/citynet/internal/entropy"
	"github.com/talgya/citynet/internal/settlement"
	"github.com/talgya/citynet/internal/world"
)

// Options configures a new Simulation.
type Options struct {
	Bounds  world.Bounds
	Rules   settlement.Rules
	Rand    entropy.Source // Required for deterministic runs; defaults to a clock-seeded source
	Terrain *world.Terrain // Optional habitability mask
	Strict  bool           // Panic on contract violations instead of clamping
	RunID   string         // Defaults to a fresh UUID
}

// Simulation holds the authoritative city and road collections.
// AdvanceByTime is the only writer; readers go through Snapshot and Status.
type Simulation struct {
	mu sync.RWMutex

	RunID  string
	Bounds world.Bounds
	Rules  settlement.Rules

	Cities []*settlement.City
	Roads  []*settlement.Road

	SpawnCountdown float64 // ms until the next spawn attempt
	Clock          float64 // Total simulated ms
	Tick           uint64  // Number of non-empty advances

	Events []Event // Recent events, oldest first
	Stats  Stats

	rng        entropy.Source
	terrain    *world.Terrain
	strict     bool
	nextCityID settlement.CityID
	nextRoadID settlement.RoadID
}

// Stats tracks cumulative lifecycle counters.
type Stats struct {
	Founded       int `json:"founded"`
	Evolutions    int `json:"evolutions"`
	Collapses     int `json:"collapses"`
	Removed       int `json:"removed"`
	RoadsBuilt    int `json:"roads_built"`
	RoadsPruned   int `json:"roads_pruned"`
	SpawnAttempts int `json:"spawn_attempts"`
	SpawnRejected int `json:"spawn_rejected"`
}

// NewSimulation creates an empty simulation over the given spawn region.
func NewSimulation(opts Options) (*Simulation, error) {
	bounds, err := world.NewBounds(opts.Bounds.Width, opts.Bounds.Height)
	if err != nil {
		return nil, err
	}

	rng := opts.Rand
	if rng == nil {
		rng = entropy.NewSeeded(0)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	s := &Simulation{
		RunID:      runID,
		Bounds:     bounds,
		Rules:      opts.Rules.WithDefaults(),
		rng:        rng,
		terrain:    opts.Terrain,
		strict:     opts.Strict,
		nextCityID: 1,
		nextRoadID: 1,
	}
	s.SpawnCountdown = s.Rules.InitialSpawnIn
	return s, nil
}

// AdvanceByTime runs one tick: clocks, spawning, evolution, collapse, cleanup.
// Each phase sees the complete result of the one before it.
// A zero elapsed time leaves the simulation untouched.
func (s *Simulation) AdvanceByTime(elapsed float64) {
	elapsed = s.checkElapsed(elapsed)
	if elapsed == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Tick++
	s.Clock += elapsed

	// Cities founded this tick start aging on the next one.
	for _, c := range s.Cities {
		c.AdvanceByTime(elapsed)
	}

	s.spawnCities(s.countSpawnAttempts(elapsed))
	s.evolveCities()
	s.collapseCities()
	s.cleanDeadCities()

	if s.strict {
		if err := s.verify(); err != nil {
			panic(err)
		}
	}
}

func (s *Simulation) checkElapsed(elapsed float64) float64 {
	if elapsed >= 0 && !math.IsInf(elapsed, 1) {
		return elapsed
	}
	if s.strict {
		panic(fmt.Sprintf("engine: invalid elapsed time %v", elapsed))
	}
	slog.Warn("clamping invalid elapsed time", "elapsed", elapsed)
	return 0
}

// countSpawnAttempts drains the countdown, one attempt per interval crossed.
func (s *Simulation) countSpawnAttempts(elapsed float64) int {
	s.SpawnCountdown -= elapsed
	attempts := 0
	for s.SpawnCountdown < 0 {
		s.SpawnCountdown += s.Rules.SpawnInterval
		attempts++
	}
	return attempts
}

// neighbours maps each city to the cities one road away.
func (s *Simulation) neighbours() map[*settlement.City][]*settlement.City {
	adj := make(map[*settlement.City][]*settlement.City, len(s.Cities))
	for _, r := range s.Roads {
		adj[r.Start] = append(adj[r.Start], r.End)
		adj[r.End] = append(adj[r.End], r.Start)
	}
	return adj
}

// NeighboursOf returns the cities directly connected to c by a road.
func (s *Simulation) NeighboursOf(c *settlement.City) []*settlement.City {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*settlement.City
	for _, r := range s.Roads {
		if other := r.Other(c); other != nil {
			out = append(out, other)
		}
	}
	return out
}

// verify checks that every road joins two distinct live cities.
func (s *Simulation) verify() error {
	live := make(map[*settlement.City]bool, len(s.Cities))
	for _, c := range s.Cities {
		if live[c] {
			return fmt.Errorf("%w: city %d", ErrDuplicateCity, c.ID)
		}
		live[c] = true
	}
	for _, r := range s.Roads {
		if r.Start == r.End || !live[r.Start] || !live[r.End] {
			return fmt.Errorf("%w: road %d", ErrDanglingRoad, r.ID)
		}
	}
	return nil
}
