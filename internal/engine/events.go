package engine

import (
	"errors"
	"log/slog"
)

// ErrDanglingRoad means a road references a city that is not live.
var ErrDanglingRoad = errors.New("road endpoint is not a live city")

// ErrOutOfBounds means a city lies outside the spawn region.
var ErrOutOfBounds = errors.New("city outside spawn region")

// ErrDuplicateCity means the same city appears twice in the collection.
var ErrDuplicateCity = errors.New("duplicate city")

// maxEvents bounds the in-memory event log.
const maxEvents = 1000

// EventKind classifies an Event.
type EventKind string

const (
	EventFounded    EventKind = "founded"
	EventEvolved    EventKind = "evolved"
	EventCollapsed  EventKind = "collapsed"
	EventRemoved    EventKind = "removed"
	EventRoadBuilt  EventKind = "road_built"
	EventRoadPruned EventKind = "road_pruned"
)

// Event is a notable change in the network.
type Event struct {
	Tick        uint64    `json:"tick" db:"tick"`
	Clock       float64   `json:"clock" db:"clock"`
	Kind        EventKind `json:"kind" db:"kind"`
	CityID      uint64    `json:"city_id" db:"city_id"`
	RoadID      uint64    `json:"road_id,omitempty" db:"road_id"`
	Size        int       `json:"size" db:"size"`
	Description string    `json:"description" db:"description"`
}

func (s *Simulation) record(kind EventKind, cityID, roadID uint64, size int, desc string) {
	s.Events = append(s.Events, Event{
		Tick:        s.Tick,
		Clock:       s.Clock,
		Kind:        kind,
		CityID:      cityID,
		RoadID:      roadID,
		Size:        size,
		Description: desc,
	})
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
	slog.Debug("event", "kind", kind, "description", desc)
}

// RecentEvents returns up to limit of the newest events, newest last.
// A non-empty kind filters by event kind.
func (s *Simulation) RecentEvents(limit int, kind EventKind) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.Events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if kind != "" && s.Events[i].Kind != kind {
			continue
		}
		out = append(out, s.Events[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
