package geometry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBounds is returned for malformed bounding boxes
	ErrInvalidBounds = errors.New("invalid bounding box")

	// ErrInvalidZoom is returned for zoom levels outside the tile scheme
	ErrInvalidZoom = errors.New("invalid zoom level")
)

// Zoom and coordinate limits for the XYZ tile scheme
const (
	MinZoom = 0
	MaxZoom = 22

	MinLat = -85.051129 // Web Mercator limit
	MaxLat = 85.051129
	MinLon = -180.0
	MaxLon = 180.0
)

// BoundingBox represents a geographic bounding box
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Validate checks if the bounding box is well-formed. Boxes that cross the
// antimeridian (west >= east) are rejected rather than producing a degenerate
// tile range.
func (b BoundingBox) Validate() error {
	if b.South >= b.North {
		return fmt.Errorf("%w: south (%f) must be less than north (%f)", ErrInvalidBounds, b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("%w: west (%f) must be less than east (%f)", ErrInvalidBounds, b.West, b.East)
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("%w: latitude out of range [-90, 90]: south=%f, north=%f", ErrInvalidBounds, b.South, b.North)
	}
	if b.West < -180 || b.East > 180 {
		return fmt.Errorf("%w: longitude out of range [-180, 180]: west=%f, east=%f", ErrInvalidBounds, b.West, b.East)
	}
	return nil
}

// ValidateZoomRange checks a min/max zoom pair. An inverted range (min > max)
// is allowed and simply covers zero tiles.
func ValidateZoomRange(minZoom, maxZoom int) error {
	if minZoom < MinZoom || minZoom > MaxZoom {
		return fmt.Errorf("%w: min zoom %d out of range [%d, %d]", ErrInvalidZoom, minZoom, MinZoom, MaxZoom)
	}
	if maxZoom < MinZoom || maxZoom > MaxZoom {
		return fmt.Errorf("%w: max zoom %d out of range [%d, %d]", ErrInvalidZoom, maxZoom, MinZoom, MaxZoom)
	}
	return nil
}
