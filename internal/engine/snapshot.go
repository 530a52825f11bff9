// Read-only views of simulation state for renderers, the API, and persistence.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/citynet/internal/settlement"
	"github.com/talgya/citynet/internal/world"
)

// CityView is a copy of one city's state.
type CityView struct {
	ID           uint64  `json:"id" db:"id"`
	X            float64 `json:"x" db:"x"`
	Y            float64 `json:"y" db:"y"`
	LogicalSize  int     `json:"logical_size" db:"logical_size"`
	AnimatedSize float64 `json:"animated_size" db:"animated_size"`
	Age          float64 `json:"age" db:"age"`
	SinceEvolved float64 `json:"since_evolved" db:"since_evolved"`
	Collapsing   bool    `json:"collapsing" db:"collapsing"`
}

// RoadView is a copy of one road's state. Age is measured at the snapshot's clock.
type RoadView struct {
	ID      uint64  `json:"id" db:"id"`
	StartID uint64  `json:"start_id" db:"start_id"`
	EndID   uint64  `json:"end_id" db:"end_id"`
	BuiltAt float64 `json:"built_at" db:"built_at"`
	Age     float64 `json:"age" db:"-"`
	Mutual  bool    `json:"mutual" db:"-"`
}

// Snapshot is a consistent copy of the whole simulation taken between ticks.
type Snapshot struct {
	RunID          string           `json:"run_id"`
	Tick           uint64           `json:"tick"`
	Clock          float64          `json:"clock"`
	Bounds         world.Bounds     `json:"bounds"`
	Rules          settlement.Rules `json:"rules"`
	SpawnCountdown float64          `json:"spawn_countdown"`
	NextCityID     uint64           `json:"next_city_id"`
	NextRoadID     uint64           `json:"next_road_id"`
	Stats          Stats            `json:"stats"`
	Cities         []CityView       `json:"cities"`
	Roads          []RoadView       `json:"roads"`
}

// Snapshot copies the current state.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// SnapshotWithEvents copies the current state and the event log from the same tick.
func (s *Simulation) SnapshotWithEvents() (Snapshot, []Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), append([]Event(nil), s.Events...)
}

func (s *Simulation) snapshot() Snapshot {
	snap := Snapshot{
		RunID:          s.RunID,
		Tick:           s.Tick,
		Clock:          s.Clock,
		Bounds:         s.Bounds,
		Rules:          s.Rules,
		SpawnCountdown: s.SpawnCountdown,
		NextCityID:     s.nextCityID,
		NextRoadID:     s.nextRoadID,
		Stats:          s.Stats,
		Cities:         make([]CityView, 0, len(s.Cities)),
		Roads:          make([]RoadView, 0, len(s.Roads)),
	}
	for _, c := range s.Cities {
		snap.Cities = append(snap.Cities, CityView{
			ID:           c.ID,
			X:            c.Location.X,
			Y:            c.Location.Y,
			LogicalSize:  c.LogicalSize,
			AnimatedSize: c.AnimatedSize,
			Age:          c.Age,
			SinceEvolved: c.SinceEvolved,
			Collapsing:   c.Collapsing,
		})
	}
	for _, r := range s.Roads {
		snap.Roads = append(snap.Roads, RoadView{
			ID:      r.ID,
			StartID: r.Start.ID,
			EndID:   r.End.ID,
			BuiltAt: r.BuiltAt,
			Age:     r.Age(s.Clock),
			Mutual:  r.IsMutual(),
		})
	}
	return snap
}

// Restore rebuilds a simulation from a snapshot. Bounds, rules and run ID
// come from the snapshot; opts supplies the random source, terrain and strictness.
func Restore(snap Snapshot, opts Options) (*Simulation, error) {
	opts.Bounds = snap.Bounds
	opts.Rules = snap.Rules
	opts.RunID = snap.RunID
	s, err := NewSimulation(opts)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	s.Tick = snap.Tick
	s.Clock = snap.Clock
	s.SpawnCountdown = snap.SpawnCountdown
	s.Stats = snap.Stats

	byID := make(map[uint64]*settlement.City, len(snap.Cities))
	for _, cv := range snap.Cities {
		if _, dup := byID[cv.ID]; dup {
			return nil, fmt.Errorf("restore: %w: id %d", ErrDuplicateCity, cv.ID)
		}
		loc := world.Point{X: cv.X, Y: cv.Y}
		if !s.Bounds.Contains(loc) {
			return nil, fmt.Errorf("restore: %w: city %d at %s", ErrOutOfBounds, cv.ID, loc)
		}
		c := settlement.NewCity(cv.ID, loc, &s.Rules)
		c.LogicalSize = max(cv.LogicalSize, 1)
		c.AnimatedSize = cv.AnimatedSize
		c.Age = cv.Age
		c.SinceEvolved = cv.SinceEvolved
		c.Collapsing = cv.Collapsing
		byID[cv.ID] = c
		s.Cities = append(s.Cities, c)
		s.nextCityID = max(s.nextCityID, cv.ID+1)
	}

	for _, rv := range snap.Roads {
		start, end := byID[rv.StartID], byID[rv.EndID]
		if start == nil || end == nil || start == end {
			return nil, fmt.Errorf("restore: %w: road %d (%d-%d)", ErrDanglingRoad, rv.ID, rv.StartID, rv.EndID)
		}
		s.Roads = append(s.Roads, settlement.NewRoad(rv.ID, start, end, rv.BuiltAt))
		s.nextRoadID = max(s.nextRoadID, rv.ID+1)
	}

	s.nextCityID = max(s.nextCityID, snap.NextCityID)
	s.nextRoadID = max(s.nextRoadID, snap.NextRoadID)
	return s, nil
}

// Status summarizes the live network.
type Status struct {
	RunID      string      `json:"run_id"`
	Tick       uint64      `json:"tick"`
	Clock      float64     `json:"clock"`
	Cities     int         `json:"cities"`
	Collapsing int         `json:"collapsing"`
	Roads      int         `json:"roads"`
	MaxSize    int         `json:"max_size"`
	Sizes      map[int]int `json:"sizes"` // logical size → live (non-collapsing) cities
	Stats      Stats       `json:"stats"`
}

// Status computes a summary of the current state.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		RunID: s.RunID,
		Tick:  s.Tick,
		Clock: s.Clock,
		Roads: len(s.Roads),
		Sizes: make(map[int]int),
		Stats: s.Stats,
	}
	for _, c := range s.Cities {
		st.Cities++
		if c.Collapsing {
			st.Collapsing++
			continue
		}
		st.Sizes[c.LogicalSize]++
		st.MaxSize = max(st.MaxSize, c.LogicalSize)
	}
	return st
}

// LogReport writes a periodic summary line.
func (s *Simulation) LogReport() {
	st := s.Status()
	slog.Info("network report",
		"tick", humanize.Comma(int64(st.Tick)),
		"sim_time", SimTime(st.Clock),
		"cities", st.Cities,
		"collapsing", st.Collapsing,
		"roads", st.Roads,
		"max_size", st.MaxSize,
		"founded", humanize.Comma(int64(st.Stats.Founded)),
		"removed", humanize.Comma(int64(st.Stats.Removed)),
		"spawn_rejected", humanize.Comma(int64(st.Stats.SpawnRejected)),
	)
}
