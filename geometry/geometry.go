// Package geometry defines the capabilities of drawable primitives and the
// Registry that indexes every live geometry by owning source and by
// data-model id.
//
// Geometries are described by small interfaces that concrete types compose
// as needed. A tile, for instance, is an ImageBacked, Divisible Tree.
package geometry

import (
	"image/color"
	"iter"
	"time"

	"github.com/gogpu/tilecache/imagery"
)

// NoDataModel is the data-model id of a geometry not backed by a data model.
const NoDataModel int64 = -1

// Geometry is anything the registry can index. Implementations must be
// comparable, typically pointers, and DataModelID must not change while the
// geometry is registered.
type Geometry interface {
	DataModelID() int64
}

// Renderable is a geometry the renderer draws.
type Renderable interface {
	Geometry
	Visible() bool
	RenderOrder() int
}

// Colorable is a geometry drawn in a single color.
type Colorable interface {
	Geometry
	Color() color.Color
}

// Constraints limit when a geometry is shown. Zero times are unbounded.
type Constraints struct {
	From  time.Time
	Until time.Time
}

// Active reports whether t falls within the constraints.
func (c Constraints) Active(t time.Time) bool {
	if !c.From.IsZero() && t.Before(c.From) {
		return false
	}
	if !c.Until.IsZero() && !t.Before(c.Until) {
		return false
	}
	return true
}

// Constrainable is a geometry shown only under Constraints.
type Constrainable interface {
	Geometry
	Constraints() Constraints
}

// Divisible is a geometry that may split into finer geometries.
type Divisible interface {
	Geometry
	IsDivisible() bool
}

// ImageBacked is a geometry drawn from fetched imagery.
type ImageBacked interface {
	Geometry
	Images() *imagery.Manager
}

// Tree is a geometry with lazily materialized descendants. Descendants
// yields the materialized ones depth-first and never forces new ones.
type Tree interface {
	Geometry
	Descendants() iter.Seq[Geometry]
}

// Basic is a plain colored geometry.
type Basic struct {
	ID      int64
	Order   int
	Hidden  bool
	Fill    color.Color
	Showing Constraints
}

// NewBasic returns a visible Basic geometry for the data model id.
func NewBasic(id int64, fill color.Color) *Basic {
	return &Basic{ID: id, Fill: fill}
}

// DataModelID implements Geometry.
func (b *Basic) DataModelID() int64 { return b.ID }

// Visible implements Renderable.
func (b *Basic) Visible() bool { return !b.Hidden }

// RenderOrder implements Renderable.
func (b *Basic) RenderOrder() int { return b.Order }

// Color implements Colorable.
func (b *Basic) Color() color.Color { return b.Fill }

// Constraints implements Constrainable.
func (b *Basic) Constraints() Constraints { return b.Showing }

var (
	_ Renderable    = (*Basic)(nil)
	_ Colorable     = (*Basic)(nil)
	_ Constrainable = (*Basic)(nil)
)
