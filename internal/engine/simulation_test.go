package engine

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/talgya/citynet/internal/entropy"
	"github.com/talgya/citynet/internal/settlement"
	"github.com/talgya/citynet/internal/world"
)

func newTestSim(t *testing.T, rng entropy.Source) *Simulation {
	t.Helper()
	s, err := NewSimulation(Options{
		Bounds: world.Bounds{Width: 1000, Height: 1000},
		Rules:  settlement.DefaultRules(),
		Rand:   rng,
		RunID:  "test-run",
	})
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	return s
}

func addCity(s *Simulation, x, y float64, size int) *settlement.City {
	c := settlement.NewCity(s.nextCityID, world.Point{X: x, Y: y}, &s.Rules)
	s.nextCityID++
	c.LogicalSize = size
	c.AnimatedSize = float64(size)
	s.Cities = append(s.Cities, c)
	return c
}

func addRoad(s *Simulation, a, b *settlement.City) *settlement.Road {
	r := settlement.NewRoad(s.nextRoadID, a, b, s.Clock)
	s.nextRoadID++
	s.Roads = append(s.Roads, r)
	return r
}

func hasRoad(s *Simulation, r *settlement.Road) bool {
	for _, x := range s.Roads {
		if x == r {
			return true
		}
	}
	return false
}

func TestNewSimulationRejectsEmptyRegion(t *testing.T) {
	if _, err := NewSimulation(Options{Bounds: world.Bounds{Width: 0, Height: 10}}); err == nil {
		t.Fatal("expected error for zero-width region")
	}
}

func TestSpawnCountdownBoundary(t *testing.T) {
	rng := entropy.NewSequence(0.1, 0.1, 0.9, 0.9)
	s := newTestSim(t, rng)

	// The countdown reaches exactly zero, which is not yet past due.
	s.AdvanceByTime(1000)
	if s.Stats.SpawnAttempts != 0 || s.SpawnCountdown != 0 {
		t.Fatalf("after 1000ms: attempts %d countdown %g, want 0 and 0", s.Stats.SpawnAttempts, s.SpawnCountdown)
	}

	// A further 1000ms spans two whole intervals.
	s.AdvanceByTime(1000)
	if s.Stats.SpawnAttempts != 2 {
		t.Fatalf("attempts = %d, want 2", s.Stats.SpawnAttempts)
	}
	if s.SpawnCountdown != 0 {
		t.Errorf("countdown = %g, want 0", s.SpawnCountdown)
	}
	if len(s.Cities) != 2 {
		t.Fatalf("cities = %d, want 2", len(s.Cities))
	}
	if got := s.Cities[1].Location; got != (world.Point{X: 900, Y: 900}) {
		t.Errorf("second city at %v, want (900, 900)", got)
	}
	if len(s.Roads) != 0 {
		t.Errorf("roads = %d, want 0 for distant cities", len(s.Roads))
	}
}

func TestSpawnHandlesLongFrames(t *testing.T) {
	s := newTestSim(t, entropy.NewSeeded(1))
	s.AdvanceByTime(2600)
	if s.Stats.SpawnAttempts != 4 {
		t.Errorf("attempts = %d, want 4", s.Stats.SpawnAttempts)
	}
	if math.Abs(s.SpawnCountdown-400) > 1e-9 {
		t.Errorf("countdown = %g, want 400", s.SpawnCountdown)
	}
}

func TestSpawnRejectsCrowdedCandidate(t *testing.T) {
	rng := entropy.NewSequence(0.5, 0.5, 0.52, 0.5)
	s := newTestSim(t, rng)
	s.AdvanceByTime(1000)
	s.AdvanceByTime(1000)

	if len(s.Cities) != 1 {
		t.Fatalf("cities = %d, want 1", len(s.Cities))
	}
	if s.Stats.SpawnRejected != 1 {
		t.Errorf("rejected = %d, want 1", s.Stats.SpawnRejected)
	}
	if rng.Draws != 4 {
		t.Errorf("draws = %d, want 4 (no retry after rejection)", rng.Draws)
	}
}

func TestSpawnConnectsNearbyCities(t *testing.T) {
	rng := entropy.NewSequence(0.1, 0.1, 0.17, 0.1)
	s := newTestSim(t, rng)
	s.AdvanceByTime(1000)
	s.AdvanceByTime(1000)

	if len(s.Cities) != 2 || len(s.Roads) != 1 {
		t.Fatalf("cities/roads = %d/%d, want 2/1", len(s.Cities), len(s.Roads))
	}
	r := s.Roads[0]
	if !r.IsMember(s.Cities[0]) || !r.IsMember(s.Cities[1]) {
		t.Error("road does not join the two cities")
	}
	if r.BuiltAt != 2000 {
		t.Errorf("BuiltAt = %g, want 2000", r.BuiltAt)
	}
	// Newly founded cities have not aged yet.
	if s.Cities[1].Age != 0 {
		t.Errorf("new city age = %g, want 0", s.Cities[1].Age)
	}
}

func TestTerrainMaskDropsCandidates(t *testing.T) {
	rng := entropy.NewSequence(0.3, 0.3)
	s := newTestSim(t, rng)
	s.terrain = world.NewTerrain(5, 1.0) // Nothing reaches elevation 1.
	s.AdvanceByTime(1001)
	if len(s.Cities) != 0 || s.Stats.SpawnRejected != 1 {
		t.Fatalf("cities %d rejected %d, want 0 and 1", len(s.Cities), s.Stats.SpawnRejected)
	}
}

func TestEvolutionGatedByCooldown(t *testing.T) {
	rng := entropy.NewSequence(0)
	s := newTestSim(t, rng)
	c := addCity(s, 500, 500, 1)
	c.SinceEvolved = 500
	for i := 0; i < 5; i++ {
		addRoad(s, c, addCity(s, 420+float64(i)*40, 580, 1))
	}

	s.evolveCities()
	if c.LogicalSize != 1 {
		t.Fatalf("city evolved during cooldown")
	}
}

func TestEvolutionUsesPreEvolutionSizes(t *testing.T) {
	// Four size-1 cities, fully connected, all eligible. Every draw succeeds,
	// so every city evolves even though its neighbours grew first.
	rules := settlement.DefaultRules()
	rules.EvolveChance = 1
	s, err := NewSimulation(Options{Bounds: world.Bounds{Width: 100, Height: 100}, Rules: rules, Rand: entropy.NewSequence(0)})
	if err != nil {
		t.Fatal(err)
	}
	var cs []*settlement.City
	for i := 0; i < 4; i++ {
		c := addCity(s, float64(i*10), 0, 1)
		c.SinceEvolved = 1000
		cs = append(cs, c)
	}
	for i := range cs {
		for j := i + 1; j < len(cs); j++ {
			addRoad(s, cs[i], cs[j])
		}
	}

	s.evolveCities()
	for _, c := range cs {
		if c.LogicalSize != 2 {
			t.Errorf("city %d size %d, want 2", c.ID, c.LogicalSize)
		}
	}
	if len(s.Roads) != 6 {
		t.Errorf("roads = %d, want 6 (equal growth keeps roads)", len(s.Roads))
	}
}

func TestOutgrownRoadPruned(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.99))
	small := addCity(s, 100, 100, 1)
	big := addCity(s, 160, 100, 3)
	keep := addCity(s, 220, 100, 2)
	outgrown := addRoad(s, small, big)
	fine := addRoad(s, big, keep)

	s.evolveCities()
	if hasRoad(s, outgrown) {
		t.Error("outgrown road survived the evolution phase")
	}
	if !hasRoad(s, fine) {
		t.Error("road between sizes 3 and 2 should remain")
	}
	if s.Stats.RoadsPruned != 1 {
		t.Errorf("RoadsPruned = %d, want 1", s.Stats.RoadsPruned)
	}
}

func TestStrandedCityCollapsesAndIsRemoved(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.99))
	s.SpawnCountdown = 1e12
	small := addCity(s, 100, 100, 1)
	big := addCity(s, 160, 100, 3)
	big.AnimatedSize = 0.001
	addRoad(s, small, big)

	s.AdvanceByTime(5)

	if len(s.Roads) != 0 {
		t.Fatalf("roads = %d, want outgrown road pruned", len(s.Roads))
	}
	if !big.Collapsing {
		t.Fatal("size-3 city without a size-2 neighbour should collapse")
	}
	if small.Collapsing {
		t.Fatal("size-1 city is always supported")
	}

	s.AdvanceByTime(1000)
	if len(s.Cities) != 1 || s.Cities[0] != small {
		t.Fatalf("collapsed city not removed: %d cities", len(s.Cities))
	}
}

func TestCollapseCascades(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.99))
	s.SpawnCountdown = 1e12
	a := addCity(s, 100, 100, 1)
	b := addCity(s, 160, 100, 2)
	c := addCity(s, 220, 100, 3)
	addRoad(s, b, c)
	addRoad(s, a, c) // outgrown, pruned first tick

	// Tick 1: b has no size-1 neighbour. c is still judged against a live b.
	s.AdvanceByTime(10)
	if !b.Collapsing {
		t.Fatal("b should collapse without a size-1 neighbour")
	}
	if c.Collapsing {
		t.Fatal("c was judged before b collapsed and should still stand")
	}

	// Tick 2: c's only support is now collapsing.
	s.AdvanceByTime(10)
	if !c.Collapsing {
		t.Fatal("c should collapse once its support is collapsing")
	}
	if s.Stats.Collapses != 2 {
		t.Errorf("Collapses = %d, want 2", s.Stats.Collapses)
	}

	// Both decay away; their shared road goes with them.
	s.AdvanceByTime(40000)
	if len(s.Cities) != 1 || len(s.Roads) != 0 {
		t.Fatalf("cities/roads = %d/%d, want 1/0", len(s.Cities), len(s.Roads))
	}
}

func TestCollapseNeverReverts(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.99))
	s.SpawnCountdown = 1e12
	lone := addCity(s, 100, 100, 2)
	lone.AnimatedSize = 100
	s.AdvanceByTime(10)
	if !lone.Collapsing {
		t.Fatal("unsupported city should collapse")
	}

	addRoad(s, lone, addCity(s, 150, 100, 1))
	s.AdvanceByTime(10)
	if !lone.Collapsing {
		t.Fatal("collapse reverted after support returned")
	}
	if s.Stats.Collapses != 1 {
		t.Errorf("Collapses = %d, want 1", s.Stats.Collapses)
	}
}

func TestZeroElapsedIsNoOp(t *testing.T) {
	s := newTestSim(t, entropy.NewSeeded(3))
	for i := 0; i < 200; i++ {
		s.AdvanceByTime(50)
	}
	before := s.Snapshot()
	events := len(s.Events)
	for i := 0; i < 10; i++ {
		s.AdvanceByTime(0)
	}
	if after := s.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatal("AdvanceByTime(0) changed state")
	}
	if len(s.Events) != events {
		t.Fatal("AdvanceByTime(0) recorded events")
	}
}

func TestNegativeElapsed(t *testing.T) {
	s := newTestSim(t, entropy.NewSeeded(3))
	s.AdvanceByTime(-50)
	if s.Clock != 0 || s.SpawnCountdown != 1000 {
		t.Fatalf("negative elapsed changed state: clock %g countdown %g", s.Clock, s.SpawnCountdown)
	}
	s.AdvanceByTime(math.NaN())
	if s.Clock != 0 {
		t.Fatalf("NaN elapsed changed clock to %g", s.Clock)
	}

	s.strict = true
	defer func() {
		if recover() == nil {
			t.Fatal("strict simulation should panic on negative elapsed")
		}
	}()
	s.AdvanceByTime(-1)
}

func TestStrictDetectsDanglingRoad(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.99))
	a := addCity(s, 100, 100, 1)
	ghost := settlement.NewCity(99, world.Point{}, nil)
	addRoad(s, a, ghost)
	if err := s.verify(); !errors.Is(err, ErrDanglingRoad) {
		t.Fatalf("verify = %v, want ErrDanglingRoad", err)
	}
}

// TestRunInvariants drives a dense seeded run and checks the network's
// invariants after every tick.
func TestRunInvariants(t *testing.T) {
	rules := settlement.DefaultRules()
	rules.EvolveChance = 0.3
	s, err := NewSimulation(Options{
		Bounds: world.Bounds{Width: 400, Height: 400},
		Rules:  rules,
		Rand:   entropy.NewSeeded(42),
		Strict: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	type seen struct {
		size       int
		collapsing bool
		loc        world.Point
	}
	prev := map[uint64]seen{}
	maxSize := 0

	for tick := 0; tick < 4000; tick++ {
		s.AdvanceByTime(16 + float64(tick%7))

		live := map[*settlement.City]bool{}
		current := map[uint64]seen{}
		for _, c := range s.Cities {
			live[c] = true
			current[c.ID] = seen{c.LogicalSize, c.Collapsing, c.Location}
			maxSize = max(maxSize, c.LogicalSize)

			if p, ok := prev[c.ID]; ok {
				if d := c.LogicalSize - p.size; d < 0 || d > 1 {
					t.Fatalf("tick %d: city %d size %d -> %d", tick, c.ID, p.size, c.LogicalSize)
				}
				if p.collapsing && !c.Collapsing {
					t.Fatalf("tick %d: city %d un-collapsed", tick, c.ID)
				}
				if p.collapsing && c.LogicalSize != p.size {
					t.Fatalf("tick %d: collapsing city %d grew", tick, c.ID)
				}
			} else {
				for id, p := range prev {
					if p.loc.DistanceTo(c.Location) <= rules.RequiredSpace {
						t.Fatalf("tick %d: city %d founded within %g of city %d", tick, c.ID, rules.RequiredSpace, id)
					}
				}
			}
		}

		for id, p := range prev {
			if _, ok := current[id]; !ok && !p.collapsing {
				t.Fatalf("tick %d: city %d removed without collapsing", tick, id)
			}
		}

		for _, r := range s.Roads {
			if !live[r.Start] || !live[r.End] {
				t.Fatalf("tick %d: road %d has a dead endpoint", tick, r.ID)
			}
		}

		for _, c := range s.Cities {
			if c.Collapsing || c.LogicalSize == 1 {
				continue
			}
			if !c.IsSupported(s.NeighboursOf(c)) {
				t.Fatalf("tick %d: standing city %d (size %d) unsupported", tick, c.ID, c.LogicalSize)
			}
		}

		prev = current
	}

	if s.Stats.Founded == 0 {
		t.Fatal("no cities were founded")
	}
	if maxSize < 2 {
		t.Errorf("no city ever grew (max size %d)", maxSize)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := newTestSim(t, entropy.NewSeeded(11))
	for i := 0; i < 500; i++ {
		s.AdvanceByTime(20)
	}
	snap := s.Snapshot()
	if len(snap.Cities) == 0 {
		t.Fatal("expected cities in snapshot")
	}

	restored, err := Restore(snap, Options{Rand: entropy.NewSeeded(11)})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := restored.Snapshot(); !reflect.DeepEqual(snap, got) {
		t.Fatalf("restored snapshot differs\nwant %+v\ngot  %+v", snap, got)
	}

	// New IDs continue past the restored ones.
	c := addCity(restored, 0, 0, 1)
	for _, cv := range snap.Cities {
		if cv.ID == c.ID {
			t.Fatalf("restored simulation reused city id %d", c.ID)
		}
	}
}

func TestRestoreRejectsDanglingRoad(t *testing.T) {
	snap := Snapshot{
		Bounds: world.Bounds{Width: 10, Height: 10},
		Cities: []CityView{{ID: 1, LogicalSize: 1}},
		Roads:  []RoadView{{ID: 1, StartID: 1, EndID: 2}},
	}
	if _, err := Restore(snap, Options{}); !errors.Is(err, ErrDanglingRoad) {
		t.Fatalf("Restore = %v, want ErrDanglingRoad", err)
	}

	snap.Cities = append(snap.Cities, CityView{ID: 1})
	snap.Roads = nil
	if _, err := Restore(snap, Options{}); !errors.Is(err, ErrDuplicateCity) {
		t.Fatalf("Restore = %v, want ErrDuplicateCity", err)
	}

	snap.Cities = []CityView{{ID: 1, X: 5, Y: 10, LogicalSize: 1}}
	if _, err := Restore(snap, Options{}); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Restore = %v, want ErrOutOfBounds", err)
	}
}

func TestSnapshotWithEventsMatchesTick(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.1, 0.1, 0.17, 0.1))
	s.AdvanceByTime(2000)

	snap, events := s.SnapshotWithEvents()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for _, e := range events {
		if e.Tick > snap.Tick {
			t.Errorf("event tick %d ahead of snapshot tick %d", e.Tick, snap.Tick)
		}
	}

	// The returned log is a copy.
	events[0].Description = "changed"
	if s.RecentEvents(0, "")[0].Description == "changed" {
		t.Error("SnapshotWithEvents shares the live event log")
	}
}

func TestStatusAndEvents(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0.1, 0.1, 0.17, 0.1))
	s.AdvanceByTime(2000)

	st := s.Status()
	if st.Cities != 2 || st.Roads != 1 || st.Sizes[1] != 2 || st.MaxSize != 1 {
		t.Fatalf("unexpected status %+v", st)
	}

	founded := s.RecentEvents(10, EventFounded)
	if len(founded) != 2 {
		t.Fatalf("founded events = %d, want 2", len(founded))
	}
	if founded[0].CityID >= founded[1].CityID {
		t.Error("events should be returned oldest first")
	}
	if all := s.RecentEvents(1, ""); len(all) != 1 || all[0].Kind != EventFounded {
		t.Errorf("RecentEvents(1) = %+v", all)
	}
}

func TestEventLogIsBounded(t *testing.T) {
	s := newTestSim(t, entropy.NewSequence(0))
	for i := 0; i < maxEvents+50; i++ {
		s.record(EventEvolved, uint64(i), 0, 2, "grew")
	}
	if len(s.Events) != maxEvents {
		t.Fatalf("events = %d, want %d", len(s.Events), maxEvents)
	}
	if s.Events[0].CityID != 50 {
		t.Errorf("oldest kept event city %d, want 50", s.Events[0].CityID)
	}
}
