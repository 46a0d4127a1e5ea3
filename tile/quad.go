package tile

import (
	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/tilecache"
)

// QuadDivider splits XYZ map tiles into their four children.
//
// Tiles divided by a QuadDivider must carry a maptile.Tile image key.
// Children at MaxZoom get no divider and are leaves.
type QuadDivider struct {
	key     string
	maxZoom maptile.Zoom
	session *Session
}

// NewQuadDivider returns a divider that stops at maxZoom. The session may
// be nil, in which case no override applies.
func NewQuadDivider(key string, maxZoom maptile.Zoom, session *Session) *QuadDivider {
	return &QuadDivider{key: key, maxZoom: maxZoom, session: session}
}

// Key implements Divider.
func (d *QuadDivider) Key() string { return d.key }

// Session implements Divider.
func (d *QuadDivider) Session() *Session { return d.session }

// MaxZoom returns the deepest zoom the divider produces.
func (d *QuadDivider) MaxZoom() maptile.Zoom { return d.maxZoom }

// Divide implements Divider.
func (d *QuadDivider) Divide(t *Tile) []*Tile {
	mt, ok := t.ImageKey().(maptile.Tile)
	if !ok {
		tilecache.Logger().Warn("tile: quad divider needs a maptile key",
			"divider", d.key, "key", t.ImageKey())
		return nil
	}
	if mt.Z >= d.maxZoom {
		return nil
	}

	var next Divider = d
	if mt.Z+1 >= d.maxZoom {
		next = nil
	}

	children := mt.Children()
	out := make([]*Tile, 0, len(children))
	for _, c := range children {
		sub, err := t.CreateSubTile(BoundsFromBound(t.bounds.Type, c.Bound()), c, next, nil)
		if err != nil {
			tilecache.Logger().Warn("tile: sub-tile", "divider", d.key, "key", c, "error", err)
			continue
		}
		out = append(out, sub)
	}
	return out
}

// NewQuadRoot builds a root tile for the map tile key. Bounds, ImageKey and
// Divider of cfg are overwritten.
func NewQuadRoot(key maptile.Tile, d *QuadDivider, cfg Config) (*Tile, error) {
	cfg.Bounds = BoundsFromBound(Geographic, key.Bound())
	cfg.ImageKey = key
	cfg.Divider = nil
	if d != nil && key.Z < d.maxZoom {
		cfg.Divider = d
	}
	cfg.Parent = nil
	return New(cfg)
}
