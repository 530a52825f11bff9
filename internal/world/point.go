// Package world provides the 2D plane cities are seeded on: points, the spawn
// region, and an optional terrain mask.
package world

import (
	"fmt"
	"math"
)

// Point is a position on the plane. Values are immutable once created.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}
