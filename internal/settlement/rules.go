// Package settlement provides cities, the roads between them, and the rules
// governing how they grow and collapse.
package settlement

// Rules holds the tunable constants of the settlement model.
// Times are in milliseconds, distances in world units.
type Rules struct {
	RequiredSpace   float64 `json:"required_space" yaml:"required_space"`     // Minimum distance between a new city and any existing one
	RoadDistance    float64 `json:"road_distance" yaml:"road_distance"`       // A new city connects to every city closer than this
	SpawnInterval   float64 `json:"spawn_interval" yaml:"spawn_interval"`     // Time between spawn attempts
	InitialSpawnIn  float64 `json:"initial_spawn_in" yaml:"initial_spawn_in"` // Countdown before the first attempt
	EvolveCooldown  float64 `json:"evolve_cooldown" yaml:"evolve_cooldown"`   // Minimum time between evolutions of one city
	EvolveChance    float64 `json:"evolve_chance" yaml:"evolve_chance"`       // Probability per eligible check
	MinSupporters   int     `json:"min_supporters" yaml:"min_supporters"`     // Neighbours at least as large needed to evolve
	CollapseRate    float64 `json:"collapse_rate" yaml:"collapse_rate"`       // Animated size lost per ms while collapsing
	AnimationWindow float64 `json:"animation_window" yaml:"animation_window"` // Frame gaps above this snap animation to the logical size
}

// DefaultRules returns the standard model.
func DefaultRules() Rules {
	return Rules{
		RequiredSpace:   50,
		RoadDistance:    100,
		SpawnInterval:   500,
		InitialSpawnIn:  1000,
		EvolveCooldown:  1000,
		EvolveChance:    0.05,
		MinSupporters:   3,
		CollapseRate:    1.0 / 10000,
		AnimationWindow: 1000,
	}
}

// WithDefaults fills any zero field from DefaultRules.
// EvolveChance is left alone so a zero chance can freeze growth.
func (r Rules) WithDefaults() Rules {
	d := DefaultRules()
	if r.RequiredSpace <= 0 {
		r.RequiredSpace = d.RequiredSpace
	}
	if r.RoadDistance <= 0 {
		r.RoadDistance = d.RoadDistance
	}
	if r.SpawnInterval <= 0 {
		r.SpawnInterval = d.SpawnInterval
	}
	if r.InitialSpawnIn <= 0 {
		r.InitialSpawnIn = d.InitialSpawnIn
	}
	if r.EvolveCooldown <= 0 {
		r.EvolveCooldown = d.EvolveCooldown
	}
	if r.MinSupporters <= 0 {
		r.MinSupporters = d.MinSupporters
	}
	if r.CollapseRate <= 0 {
		r.CollapseRate = d.CollapseRate
	}
	if r.AnimationWindow <= 0 {
		r.AnimationWindow = d.AnimationWindow
	}
	return r
}
