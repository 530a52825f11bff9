// City lifecycle: founding, evolution, collapse, and removal.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/citynet/internal/settlement"
	"github.com/talgya/citynet/internal/world"
)

// spawnCities makes the given number of founding attempts. A candidate too
// close to an existing city, or on uninhabitable ground, is dropped.
func (s *Simulation) spawnCities(attempts int) {
	for ; attempts > 0; attempts-- {
		s.Stats.SpawnAttempts++

		candidate := s.Bounds.PointAt(s.rng.Float64(), s.rng.Float64())
		if !s.hasSpaceAt(candidate) || !s.terrain.Habitable(candidate) {
			s.Stats.SpawnRejected++
			continue
		}

		city := settlement.NewCity(s.nextCityID, candidate, &s.Rules)
		s.nextCityID++

		for _, other := range s.Cities {
			if other.Location.DistanceTo(candidate) < s.Rules.RoadDistance {
				road := settlement.NewRoad(s.nextRoadID, city, other, s.Clock)
				s.nextRoadID++
				s.Roads = append(s.Roads, road)
				s.Stats.RoadsBuilt++
				s.record(EventRoadBuilt, city.ID, road.ID, 1,
					fmt.Sprintf("road %d joins city %d to city %d", road.ID, city.ID, other.ID))
			}
		}

		s.Cities = append(s.Cities, city)
		s.Stats.Founded++
		s.record(EventFounded, city.ID, 0, 1, fmt.Sprintf("city %d founded at %s", city.ID, candidate))
	}
}

func (s *Simulation) hasSpaceAt(p world.Point) bool {
	for _, c := range s.Cities {
		if p.DistanceTo(c.Location) <= s.Rules.RequiredSpace {
			return false
		}
	}
	return true
}

// evolveCities grows every eligible city, judging all of them against sizes
// from before any growth this tick, then prunes roads that became outgrown.
func (s *Simulation) evolveCities() {
	adj := s.neighbours()

	var ready []*settlement.City
	for _, c := range s.Cities {
		if c.IsReadyToEvolve(adj[c], s.rng) {
			ready = append(ready, c)
		}
	}

	for _, c := range ready {
		c.Evolve()
		s.Stats.Evolutions++
		s.record(EventEvolved, c.ID, 0, c.LogicalSize,
			fmt.Sprintf("city %d grew to size %d", c.ID, c.LogicalSize))
	}

	kept := s.Roads[:0:0]
	for _, r := range s.Roads {
		if r.IsOutgrown() {
			s.Stats.RoadsPruned++
			s.record(EventRoadPruned, r.Start.ID, r.ID, r.SmallestEndpointSize(),
				fmt.Sprintf("road %d outgrown (%d vs %d)", r.ID, r.Start.LogicalSize, r.End.LogicalSize))
			continue
		}
		kept = append(kept, r)
	}
	s.Roads = kept
}

// collapseCities marks every city that has lost its support. Support is judged
// for all cities before any is marked.
func (s *Simulation) collapseCities() {
	adj := s.neighbours()

	var unsupported []*settlement.City
	for _, c := range s.Cities {
		if !c.IsSupported(adj[c]) {
			unsupported = append(unsupported, c)
		}
	}

	for _, c := range unsupported {
		if c.Collapsing {
			continue
		}
		c.Collapse()
		s.Stats.Collapses++
		s.record(EventCollapsed, c.ID, 0, c.LogicalSize,
			fmt.Sprintf("city %d (size %d) lost support", c.ID, c.LogicalSize))
	}
}

// cleanDeadCities removes fully collapsed cities together with their roads.
func (s *Simulation) cleanDeadCities() {
	dead := make(map[*settlement.City]bool)
	for _, c := range s.Cities {
		if c.ShouldBeRemoved() {
			dead[c] = true
		}
	}
	if len(dead) == 0 {
		return
	}

	cities := make([]*settlement.City, 0, len(s.Cities)-len(dead))
	for _, c := range s.Cities {
		if dead[c] {
			s.Stats.Removed++
			s.record(EventRemoved, c.ID, 0, c.LogicalSize, fmt.Sprintf("city %d vanished", c.ID))
			continue
		}
		cities = append(cities, c)
	}
	s.Cities = cities

	roads := make([]*settlement.Road, 0, len(s.Roads))
	for _, r := range s.Roads {
		if dead[r.Start] || dead[r.End] {
			continue
		}
		roads = append(roads, r)
	}
	s.Roads = roads

	slog.Debug("removed collapsed cities", "count", len(dead), "remaining", len(s.Cities))
}
