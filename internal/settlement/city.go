package settlement

import (
	"github.com/talgya/citynet/internal/entropy"
	"github.com/talgya/citynet/internal/world"
)

// CityID is a unique, never reused identifier for a city within one run.
type CityID = uint64

// City is a settlement on the plane.
// Cities are compared by identity (pointer), never by field values.
type City struct {
	ID       CityID      `json:"id"`
	Location world.Point `json:"location"`

	// LogicalSize drives every rule. Starts at 1, only ever increases by 1.
	LogicalSize int `json:"logical_size"`

	// AnimatedSize trails LogicalSize for the renderer, or decays while collapsing.
	AnimatedSize float64 `json:"animated_size"`

	Age          float64 `json:"age"`           // ms since founding
	SinceEvolved float64 `json:"since_evolved"` // ms since founding or last evolution

	// Collapsing is a one-way latch.
	Collapsing bool `json:"collapsing"`

	rules *Rules
}

// NewCity founds a size-1 city. A nil rules pointer uses DefaultRules.
func NewCity(id CityID, loc world.Point, rules *Rules) *City {
	return &City{
		ID:          id,
		Location:    loc,
		LogicalSize: 1,
		rules:       rules,
	}
}

// SetRules attaches the rules a restored city should follow.
func (c *City) SetRules(rules *Rules) {
	c.rules = rules
}

func (c *City) model() *Rules {
	if c.rules == nil {
		d := DefaultRules()
		c.rules = &d
	}
	return c.rules
}

// AdvanceByTime moves the city's clocks forward and updates its animated size.
func (c *City) AdvanceByTime(elapsed float64) {
	r := c.model()
	c.Age += elapsed
	c.SinceEvolved += elapsed

	if c.Collapsing {
		// May go below zero; ShouldBeRemoved treats <= 0 as gone.
		c.AnimatedSize -= elapsed * r.CollapseRate
		return
	}

	if elapsed > r.AnimationWindow {
		c.AnimatedSize = float64(c.LogicalSize)
		return
	}
	c.AnimatedSize += (float64(c.LogicalSize) - c.AnimatedSize) * (elapsed / r.AnimationWindow)
}

// ShouldBeRemoved reports whether a collapsing city has withered away.
func (c *City) ShouldBeRemoved() bool {
	return c.Collapsing && c.AnimatedSize <= 0
}

// IsReadyToEvolve decides whether the city grows this tick. The random draw is
// only taken once every deterministic gate has passed.
func (c *City) IsReadyToEvolve(neighbours []*City, rng entropy.Source) bool {
	if c.Collapsing {
		return false
	}

	r := c.model()
	if c.SinceEvolved < r.EvolveCooldown {
		return false
	}

	if c.supporters(neighbours) < r.MinSupporters {
		return false
	}

	// The chance applies per check, so growth speed depends on tick frequency.
	return rng.Float64() < r.EvolveChance
}

// supporters counts neighbours at least as large as c.
func (c *City) supporters(neighbours []*City) int {
	n := 0
	for _, nb := range neighbours {
		if nb.LogicalSize >= c.LogicalSize {
			n++
		}
	}
	return n
}

// Evolve grows the city by one size step. The caller checks eligibility.
func (c *City) Evolve() {
	c.LogicalSize++
	c.SinceEvolved = 0
}

// IsSupported reports whether the city rests on the tier below it: size-1
// cities always do, larger ones need a live neighbour exactly one size smaller.
func (c *City) IsSupported(neighbours []*City) bool {
	if c.LogicalSize == 1 {
		return true
	}
	for _, nb := range neighbours {
		if !nb.Collapsing && nb.LogicalSize == c.LogicalSize-1 {
			return true
		}
	}
	return false
}

// Collapse marks the city for decay. Idempotent.
func (c *City) Collapse() {
	c.Collapsing = true
}
