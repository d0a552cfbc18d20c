package domain

import "math"

// GridSize is the side of a heat map cell in degrees.
const GridSize = 0.0005

// Coordinates are snapped to integer nanodegrees before rounding, so any
// decimal input with up to nine fractional digits lands exactly on the grid.
const (
	nanosPerDegree = 1_000_000_000
	cellNanos      = 500_000
	halfCellNanos  = cellNanos / 2
	// maxAxis keeps the nanodegree value inside int64 for any finite input.
	maxAxis = 1e6
)

// RoundToGrid maps a coordinate to the center of its grid cell.
func RoundToGrid(c Coordinate) Coordinate {
	return Coordinate{Lat: roundAxis(c.Lat), Lon: roundAxis(c.Lon)}
}

// roundAxis rounds half up (toward +Inf) in integer arithmetic, so -0.00025
// becomes 0 and 0.00025 becomes 0.0005. Values beyond ±maxAxis are clamped.
func roundAxis(v float64) float64 {
	v = max(-maxAxis, min(maxAxis, v))
	n := int64(math.Round(v * nanosPerDegree))
	steps := floorDiv(n+halfCellNanos, cellNanos)
	return float64(steps*cellNanos) / nanosPerDegree
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
