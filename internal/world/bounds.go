package world

import (
	"fmt"
	"math"
)

// Bounds is the spawn rectangle [0,Width) × [0,Height).
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewBounds creates spawn bounds. Non-positive and infinite sizes are rejected.
func NewBounds(width, height float64) (Bounds, error) {
	if !(width > 0) || !(height > 0) || math.IsInf(width, 1) || math.IsInf(height, 1) {
		return Bounds{}, fmt.Errorf("spawn region must be positive and finite, got %gx%g", width, height)
	}
	return Bounds{Width: width, Height: height}, nil
}

// PointAt scales two unit fractions in [0,1) into the rectangle.
func (b Bounds) PointAt(fx, fy float64) Point {
	return Point{X: b.Width * fx, Y: b.Height * fy}
}

// Contains reports whether p lies inside the half-open rectangle.
func (b Bounds) Contains(p Point) bool {
	return p.X >= 0 && p.X < b.Width && p.Y >= 0 && p.Y < b.Height
}

// String returns a summary of the bounds.
func (b Bounds) String() string {
	return fmt.Sprintf("Bounds(%gx%g)", b.Width, b.Height)
}
