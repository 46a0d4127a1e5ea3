package tile

import (
	"fmt"

	"github.com/paulmach/orb"
)

// PositionType names the coordinate space of a shape.
type PositionType uint8

const (
	// Geographic positions are longitude/latitude in degrees.
	Geographic PositionType = iota
	// Model positions are in the renderer's model space.
	Model
	// Screen positions are in pixels.
	Screen
)

// String returns the position type name.
func (p PositionType) String() string {
	switch p {
	case Geographic:
		return "Geographic"
	case Model:
		return "Model"
	case Screen:
		return "Screen"
	default:
		return fmt.Sprintf("PositionType(%d)", p)
	}
}

// Bounds is the quadrilateral covered by a tile. Corners run counter
// clockwise from the minimum corner. Bounds are immutable once a tile is
// built.
type Bounds struct {
	Type    PositionType
	Corners [4]orb.Point
}

// BoundsFromBound returns the axis-aligned quadrilateral of b.
func BoundsFromBound(t PositionType, b orb.Bound) Bounds {
	return Bounds{
		Type: t,
		Corners: [4]orb.Point{
			b.Min,
			{b.Max.X(), b.Min.Y()},
			b.Max,
			{b.Min.X(), b.Max.Y()},
		},
	}
}

// IsZero reports whether no corner has been set.
func (b Bounds) IsZero() bool {
	return b.Corners == [4]orb.Point{}
}

// Bound returns the axis-aligned envelope of the corners.
func (b Bounds) Bound() orb.Bound {
	return orb.MultiPoint(b.Corners[:]).Bound()
}

// BoundingBox returns the envelope tagged with the position type.
func (b Bounds) BoundingBox() BoundingBox {
	return BoundingBox{Type: b.Type, Bound: b.Bound()}
}

// BoundingBox is an axis-aligned box in one coordinate space.
type BoundingBox struct {
	Type  PositionType
	Bound orb.Bound
}

// NewBoundingBox returns the box spanning min and max.
func NewBoundingBox(t PositionType, minX, minY, maxX, maxY float64) BoundingBox {
	return BoundingBox{
		Type:  t,
		Bound: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
	}
}

// Overlaps reports whether b and o intersect. Touching edges count.
// Boxes of different position types cannot be compared.
func (b BoundingBox) Overlaps(o BoundingBox) (bool, error) {
	if b.Type != o.Type {
		return false, fmt.Errorf("%w: %v and %v", ErrPositionTypeMismatch, b.Type, o.Type)
	}
	return b.Bound.Intersects(o.Bound), nil
}

// Width returns the extent along x.
func (b BoundingBox) Width() float64 {
	return b.Bound.Max.X() - b.Bound.Min.X()
}

// Height returns the extent along y.
func (b BoundingBox) Height() float64 {
	return b.Bound.Max.Y() - b.Bound.Min.Y()
}
