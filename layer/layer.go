// Package layer owns a set of root tiles and keeps a geometry registry in
// step with the tiles currently materialized under them.
//
// A Layer is the registry source of its tiles. Divisions and clears flow
// into the registry as single combined deltas, and Select walks the tree
// splitting and joining tiles by their on-screen size.
package layer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/tilecache"
	"github.com/gogpu/tilecache/geometry"
	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/tile"
)

var (
	// ErrNoRoots is returned by New when the config has no root tiles.
	ErrNoRoots = errors.New("layer: no root tiles")

	// ErrRegistryAlreadySet is returned by SetRegistry when the layer is
	// already bound to a registry.
	ErrRegistryAlreadySet = errors.New("layer: registry already set")

	// ErrClosed is returned by operations on a closed layer.
	ErrClosed = errors.New("layer: closed")
)

// Config describes a layer.
type Config struct {
	ID          string
	DataModelID int64
	Roots       []*tile.Tile
}

// Layer owns root tiles and publishes them to a registry.
//
// Registry deltas are delivered while the layer's lock is held, so
// subscribers of the bound registry must not call back into the layer.
//
// Layer is safe for concurrent use.
type Layer struct {
	id          string
	dataModelID int64
	roots       []*tile.Tile

	// mu guards registry and orders registry deltas.
	mu       sync.Mutex
	registry *geometry.Registry

	unsubscribe []func()
	reselect    atomic.Bool
	closed      atomic.Bool
}

// New creates a layer over cfg.Roots.
func New(cfg Config) (*Layer, error) {
	if len(cfg.Roots) == 0 {
		return nil, ErrNoRoots
	}
	l := &Layer{
		id:          cfg.ID,
		dataModelID: cfg.DataModelID,
		roots:       make([]*tile.Tile, 0, len(cfg.Roots)),
	}
	for i, r := range cfg.Roots {
		if r == nil {
			return nil, fmt.Errorf("layer: root %d is nil", i)
		}
		l.roots = append(l.roots, r)
	}
	for _, r := range l.roots {
		r.AddChildrenListener(l)
		l.unsubscribe = append(l.unsubscribe, r.OnSplitJoinRequest(func(*tile.Tile) {
			l.reselect.Store(true)
		}))
	}
	return l, nil
}

// ID returns the layer id.
func (l *Layer) ID() string { return l.id }

// DataModelID returns the data model backing the layer.
func (l *Layer) DataModelID() int64 { return l.dataModelID }

// Roots returns the root tiles.
func (l *Layer) Roots() []*tile.Tile { return l.roots }

// Registry returns the bound registry, or nil.
func (l *Layer) Registry() *geometry.Registry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registry
}

// SetRegistry binds the layer to r and publishes every materialized tile
// to it. A layer is bound to at most one registry at a time.
func (l *Layer) SetRegistry(r *geometry.Registry) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if r == nil {
		l.ClearRegistry()
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.registry != nil {
		return ErrRegistryAlreadySet
	}
	l.registry = r
	r.AddGeometriesForSource(l, l.materialized())
	return nil
}

// ClearRegistry unbinds the layer and removes its tiles from the registry.
func (l *Layer) ClearRegistry() {
	l.mu.Lock()
	r := l.registry
	l.registry = nil
	if r != nil {
		r.RemoveGeometriesForSource(l)
	}
	l.mu.Unlock()
}

func (l *Layer) materialized() []geometry.Geometry {
	var out []geometry.Geometry
	for _, root := range l.roots {
		root.Walk(func(t *tile.Tile) bool {
			out = append(out, t)
			return true
		})
	}
	return out
}

// ChildrenChanged implements tile.ChildrenListener. Removed tiles take
// their materialized descendants with them.
func (l *Layer) ChildrenChanged(_ *tile.Tile, added, removed []*tile.Tile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.registry == nil {
		return
	}

	adds := make([]geometry.Geometry, 0, len(added))
	for _, t := range added {
		adds = append(adds, t)
	}
	var removes []geometry.Geometry
	for _, t := range removed {
		removes = append(removes, t)
		for d := range t.Descendants() {
			removes = append(removes, d)
		}
	}
	l.registry.ReceiveObjects(l, adds, removes)
}

// Select returns the tiles to draw for view at pixelsPerUnit screen pixels
// per unit of the view's coordinate space.
//
// Tiles outside view are skipped. A tile larger than its max threshold is
// divided, a divided tile smaller than its min threshold is joined, and a
// divided tile between the two keeps its children.
func (l *Layer) Select(view tile.BoundingBox, pixelsPerUnit float64) ([]*tile.Tile, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	l.reselect.Store(false)

	var out []*tile.Tile
	for _, root := range l.roots {
		var err error
		if out, err = selectTile(root, view, pixelsPerUnit, out); err != nil {
			return nil, err
		}
	}
	tilecache.Logger().Debug("layer: selected tiles", "layer", l.id, "tiles", len(out))
	return out, nil
}

func selectTile(t *tile.Tile, view tile.BoundingBox, ppu float64, out []*tile.Tile) ([]*tile.Tile, error) {
	ok, err := t.BoundingBox().Overlaps(view)
	if err != nil {
		return out, fmt.Errorf("layer: select: %w", err)
	}
	if !ok {
		return out, nil
	}

	px := t.BoundingBox().Width() * ppu
	switch {
	case t.HasChildren() && t.CanJoin(px):
		t.ClearChildren()
	case t.NeedsDivision(px) || t.HasChildren():
		if kids := t.Children(true); len(kids) > 0 {
			for _, c := range kids {
				if out, err = selectTile(c, view, ppu, out); err != nil {
					return out, err
				}
			}
			return out, nil
		}
	}
	return append(out, t), nil
}

// NeedsReselect reports whether a division override changed since the
// last Select.
func (l *Layer) NeedsReselect() bool {
	return l.reselect.Load()
}

// Request asks for the imagery of tiles within req.Budget and returns how
// many of them have imagery cached afterwards.
func (l *Layer) Request(ctx context.Context, tiles []*tile.Tile, req imagery.Request) int {
	ready := 0
	for _, t := range tiles {
		m := t.Images()
		if m == nil {
			continue
		}
		m.RequestImageData(ctx, req)
		if m.CachedImageData() != nil {
			ready++
		}
	}
	return ready
}

// Reproject drops every root's children and cancels their fetches.
func (l *Layer) Reproject() {
	for _, root := range l.roots {
		root.ClearChildren()
	}
	l.reselect.Store(true)
}

// Close cancels the layer's fetches, removes its tiles from the registry
// and detaches from every materialized tile. Close is safe to call multiple times.
func (l *Layer) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	for _, unsubscribe := range l.unsubscribe {
		unsubscribe()
	}
	for _, root := range l.roots {
		// Sub-tiles inherited the listener when they were created.
		root.Walk(func(t *tile.Tile) bool {
			t.RemoveChildrenListener(l)
			if m := t.Images(); m != nil {
				m.CancelRequest(false)
			}
			return true
		})
	}
	l.ClearRegistry()
}
