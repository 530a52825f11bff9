// Terrain mask using layered simplex noise.
// Low ground below the threshold is uninhabitable; spawn candidates landing
// there are dropped the same way crowded candidates are.
package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Terrain samples a normalized elevation field over the plane.
type Terrain struct {
	noise     opensimplex.Noise
	Threshold float64 // Elevation below this is uninhabitable (0 = everywhere habitable)
	Scale     float64 // World units per noise unit
}

// NewTerrain creates a terrain mask. A threshold <= 0 disables the mask.
func NewTerrain(seed int64, threshold float64) *Terrain {
	return &Terrain{
		noise:     opensimplex.NewNormalized(seed),
		Threshold: threshold,
		Scale:     250,
	}
}

// Elevation returns the terrain height at p in [0, 1).
func (t *Terrain) Elevation(p Point) float64 {
	scale := t.Scale
	if scale <= 0 {
		scale = 1
	}
	return octaveNoise(t.noise, p.X/scale, p.Y/scale, 4, 1.0, 0.5)
}

// Habitable reports whether a city may be founded at p. A nil mask allows everything.
func (t *Terrain) Habitable(p Point) bool {
	if t == nil || t.Threshold <= 0 {
		return true
	}
	return t.Elevation(p) >= t.Threshold
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
