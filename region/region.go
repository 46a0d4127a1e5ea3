// Package region tracks changed rectangles of a source image.
//
// A Region is an axis-aligned rectangle in source-image coordinates. A
// Tracker collects regions from any number of goroutines without blocking
// and hands them back coalesced, so that a consumer re-uploads each changed
// area once.
package region

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// ErrInvalidRegion is returned when a region has min >= max on either axis.
var ErrInvalidRegion = errors.New("region: invalid region")

// Region is a non-empty axis-aligned rectangle.
// The zero value is not a valid region; use New.
type Region struct {
	rect r2.Rect
}

// New returns the region [minX, maxX] x [minY, maxY].
// It fails with ErrInvalidRegion unless minX < maxX and minY < maxY.
func New(minX, minY, maxX, maxY float64) (Region, error) {
	if !(minX < maxX) || !(minY < maxY) {
		return Region{}, fmt.Errorf("%w: (%g,%g)-(%g,%g)", ErrInvalidRegion, minX, minY, maxX, maxY)
	}
	return Region{rect: r2.Rect{
		X: r1.Interval{Lo: minX, Hi: maxX},
		Y: r1.Interval{Lo: minY, Hi: maxY},
	}}, nil
}

// MustNew is like New but panics on an invalid region.
func MustNew(minX, minY, maxX, maxY float64) Region {
	r, err := New(minX, minY, maxX, maxY)
	if err != nil {
		panic(err)
	}
	return r
}

// MinX returns the left edge.
func (r Region) MinX() float64 { return r.rect.X.Lo }

// MinY returns the top edge.
func (r Region) MinY() float64 { return r.rect.Y.Lo }

// MaxX returns the right edge.
func (r Region) MaxX() float64 { return r.rect.X.Hi }

// MaxY returns the bottom edge.
func (r Region) MaxY() float64 { return r.rect.Y.Hi }

// Valid reports whether r satisfies min < max on both axes. Only the zero
// value, or a Region not built with New, fails.
func (r Region) Valid() bool {
	return r.rect.X.Lo < r.rect.X.Hi && r.rect.Y.Lo < r.rect.Y.Hi
}

// Rect returns the underlying rectangle.
func (r Region) Rect() r2.Rect { return r.rect }

// Area returns the area of the region.
func (r Region) Area() float64 { return r.rect.Area() }

// Overlaps reports whether r and o share any point, edges included.
func (r Region) Overlaps(o Region) bool {
	return r.rect.Intersects(o.rect)
}

// Union returns the bounding rectangle of r and o.
func (r Region) Union(o Region) Region {
	return Region{rect: r.rect.Union(o.rect)}
}

// Contains reports whether o lies entirely inside r.
func (r Region) Contains(o Region) bool {
	return r.rect.Contains(o.rect)
}

// String returns the region as "(minX,minY)-(maxX,maxY)".
func (r Region) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", r.MinX(), r.MinY(), r.MaxX(), r.MaxY())
}

// Coalesce merges overlapping regions into their bounding unions until no
// two of the returned regions overlap. Every input region is contained in
// exactly one output region. Output order is unspecified.
func Coalesce(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		merged := r
		for i := 0; i < len(out); {
			if !out[i].Overlaps(merged) {
				i++
				continue
			}
			// Growing merged may make it overlap entries already checked,
			// so absorb and rescan from the start.
			merged = merged.Union(out[i])
			out[i] = out[len(out)-1]
			out = out[:len(out)-1]
			i = 0
		}
		out = append(out, merged)
	}
	return out
}
