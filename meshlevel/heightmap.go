package meshlevel

import "errors"

var (
	// ErrIncomplete is returned when querying a grid that has not been fully probed.
	ErrIncomplete = errors.New("height map is incomplete")

	// ErrOutside is returned when a point is outside the probed area and
	// cannot be clamped.
	ErrOutside = errors.New("point outside of height map")
)

// HeightMap gives the surface height at any X/Y position.
type HeightMap interface {
	HeightAt(x, y float64) (float64, error)

	// Spacing is the longest move that should be made before
	// consulting the map again.
	Spacing() float64
}
