// Package tile implements the lazily divided quad-tree of image-bearing
// tiles.
//
// A Tile covers an immutable quadrilateral and may own an imagery.Manager
// for its pixels. Children are produced on demand by a Divider and cached
// until ClearChildren. The per-tile child state moves through
//
//	UNDIVIDED -> EMPTY            (no divider, terminal)
//	UNDIVIDED -> DIVIDED -> UNDIVIDED (ClearChildren)
//
// Child lists are published with a compare-and-swap, so concurrent callers
// of Children agree on a single list and only the winner notifies
// listeners.
package tile

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/gogpu/tilecache"
	"github.com/gogpu/tilecache/geometry"
	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/internal/metrics"
)

// Pixel thresholds used when a Config leaves both at zero.
const (
	DefaultMinPixels = 128
	DefaultMaxPixels = 512
)

// Errors returned by tile construction and queries.
var (
	// ErrNilBounds is returned when a tile is built without bounds.
	ErrNilBounds = errors.New("tile: nil bounds")

	// ErrInvalidThresholds is returned for non-positive or inverted pixel
	// thresholds.
	ErrInvalidThresholds = errors.New("tile: invalid pixel thresholds")

	// ErrPositionTypeMismatch is returned when boxes of different position
	// types are compared.
	ErrPositionTypeMismatch = errors.New("tile: position type mismatch")

	// ErrCloneParented is returned when cloning a tile that has a parent.
	ErrCloneParented = errors.New("tile: cannot clone a tile with a parent")
)

// Divider produces the children of a tile.
//
// Divide must return tiles whose bounds together cover the parent's bounds
// and whose parent is t; CreateSubTile does both. Dividers sharing a Key
// share the hold generation and override stored in Session.
type Divider interface {
	Divide(t *Tile) []*Tile
	Key() string
	Session() *Session
}

// ChildrenListener is told when a tile's children are materialized or
// cleared.
type ChildrenListener interface {
	ChildrenChanged(parent *Tile, added, removed []*Tile)
}

// ChildrenListenerFunc adapts a function to ChildrenListener.
type ChildrenListenerFunc func(parent *Tile, added, removed []*Tile)

// ChildrenChanged calls f.
func (f ChildrenListenerFunc) ChildrenChanged(parent *Tile, added, removed []*Tile) {
	f(parent, added, removed)
}

// Config describes a tile. Bounds are required.
type Config struct {
	Bounds Bounds

	// ImageKey and Provider create the tile's image manager when Images is
	// nil. Without a provider the tile has no imagery.
	ImageKey any
	Provider imagery.Provider
	// Hub shares fetches between equal managers; nil uses
	// imagery.DefaultHub.
	Hub    *imagery.Hub
	Images *imagery.Manager

	// Divider splits the tile; nil makes it a leaf.
	Divider Divider

	// MinPixels and MaxPixels bound the on-screen size before the tile
	// joins or splits. Both zero selects the defaults.
	MinPixels float64
	MaxPixels float64

	// DataModelID is geometry.NoDataModel when the tile is not backed by a
	// data model. Zero is a valid id.
	DataModelID int64
	LayerID     string

	Parent *Tile
}

// Tile is one node of the quad-tree.
//
// Tile is safe for concurrent use.
type Tile struct {
	bounds Bounds
	box    BoundingBox

	imageKey any
	provider imagery.Provider
	hub      *imagery.Hub
	images   *imagery.Manager
	divider  Divider

	minPixels   float64
	maxPixels   float64
	generation  int
	dataModelID int64
	layerID     string

	parent    weak.Pointer[Tile]
	hasParent bool

	// children is nil while UNDIVIDED and &noChildren once EMPTY.
	children atomic.Pointer[[]*Tile]

	listenMu  sync.Mutex
	listeners []ChildrenListener
}

var noChildren []*Tile

// New builds a tile from cfg.
func New(cfg Config) (*Tile, error) {
	if cfg.Bounds.IsZero() {
		return nil, ErrNilBounds
	}
	if cfg.MinPixels == 0 && cfg.MaxPixels == 0 {
		cfg.MinPixels, cfg.MaxPixels = DefaultMinPixels, DefaultMaxPixels
	}
	if cfg.MinPixels <= 0 || cfg.MaxPixels <= cfg.MinPixels {
		return nil, fmt.Errorf("%w: min %g, max %g", ErrInvalidThresholds, cfg.MinPixels, cfg.MaxPixels)
	}

	t := &Tile{
		bounds:      cfg.Bounds,
		box:         cfg.Bounds.BoundingBox(),
		imageKey:    cfg.ImageKey,
		provider:    cfg.Provider,
		hub:         cfg.Hub,
		images:      cfg.Images,
		divider:     cfg.Divider,
		minPixels:   cfg.MinPixels,
		maxPixels:   cfg.MaxPixels,
		dataModelID: cfg.DataModelID,
		layerID:     cfg.LayerID,
	}
	if cfg.Parent != nil {
		t.parent = weak.Make(cfg.Parent)
		t.hasParent = true
		t.generation = cfg.Parent.generation + 1
	}

	switch {
	case t.images != nil:
		if t.provider == nil {
			t.provider = t.images.Provider()
		}
		if t.imageKey == nil {
			t.imageKey = t.images.Key()
		}
	case t.provider != nil:
		m, err := imagery.NewManager(t.imageKey, t.provider, t.hubOptions()...)
		if err != nil {
			return nil, fmt.Errorf("tile: image manager: %w", err)
		}
		t.images = m
	}
	return t, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg Config) *Tile {
	t, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tile) hubOptions() []imagery.ManagerOption {
	if t.hub == nil {
		return nil
	}
	return []imagery.ManagerOption{imagery.WithHub(t.hub)}
}

// Bounds returns the tile's quadrilateral.
func (t *Tile) Bounds() Bounds { return t.bounds }

// BoundingBox returns the envelope of the tile's bounds.
func (t *Tile) BoundingBox() BoundingBox { return t.box }

// ImageKey returns the key the tile's imagery is fetched by.
func (t *Tile) ImageKey() any { return t.imageKey }

// Images returns the tile's image manager, or nil.
func (t *Tile) Images() *imagery.Manager { return t.images }

// Provider returns the provider sub-tiles fetch from, or nil.
func (t *Tile) Provider() imagery.Provider { return t.provider }

// Divider returns the tile's divider, or nil.
func (t *Tile) Divider() Divider { return t.divider }

// Generation returns the depth below the root; roots are 0.
func (t *Tile) Generation() int { return t.generation }

// DataModelID implements geometry.Geometry.
func (t *Tile) DataModelID() int64 { return t.dataModelID }

// LayerID returns the id of the owning layer.
func (t *Tile) LayerID() string { return t.layerID }

// MinPixels returns the on-screen size below which the tile may join.
func (t *Tile) MinPixels() float64 { return t.minPixels }

// MaxPixels returns the on-screen size above which the tile splits.
func (t *Tile) MaxPixels() float64 { return t.maxPixels }

// Parent returns the parent tile. It is nil for roots and once the parent
// has been garbage collected.
func (t *Tile) Parent() *Tile {
	if !t.hasParent {
		return nil
	}
	return t.parent.Value()
}

// TopAncestor returns the root of the reachable ancestor chain.
func (t *Tile) TopAncestor() *Tile {
	cur := t
	for p := cur.Parent(); p != nil; p = cur.Parent() {
		cur = p
	}
	return cur
}

// IsDivisible reports whether the tile has a divider.
func (t *Tile) IsDivisible() bool { return t.divider != nil }

// Children returns the tile's children, dividing if needed.
//
// Materialized children are returned as is. A tile without a divider
// resolves to EMPTY and returns nil. With allowDivide false an undivided
// tile returns nil without caching anything. Otherwise the divider runs and
// its result is published; listeners are called on this goroutine in
// registration order. If another goroutine published first, its children
// are returned and the fetches of the discarded ones are cancelled.
//
// The returned slice must not be modified.
func (t *Tile) Children(allowDivide bool) []*Tile {
	if p := t.children.Load(); p != nil {
		return *p
	}
	if t.divider == nil {
		t.children.CompareAndSwap(nil, &noChildren)
		return nil
	}
	if !allowDivide {
		return nil
	}

	kids := slices.Clip(slices.DeleteFunc(t.divider.Divide(t), func(c *Tile) bool { return c == nil }))
	if kids == nil {
		kids = []*Tile{}
	}
	if !t.children.CompareAndSwap(nil, &kids) {
		cancelFetches(kids)
		if p := t.children.Load(); p != nil {
			return *p
		}
		return nil
	}

	metrics.Divisions.Inc()
	tilecache.Logger().Debug("tile: divided",
		"layer", t.layerID, "generation", t.generation, "children", len(kids))
	t.fireChildrenChanged(kids, nil)
	return kids
}

// HasChildren reports whether non-empty children are materialized.
func (t *Tile) HasChildren() bool {
	p := t.children.Load()
	return p != nil && len(*p) > 0
}

// MaterializedChildren returns the cached children without dividing.
func (t *Tile) MaterializedChildren() []*Tile {
	if p := t.children.Load(); p != nil {
		return *p
	}
	return nil
}

// ClearChildren drops the materialized children and cancels their image
// fetches. Grandchildren are not visited. EMPTY tiles are left alone.
func (t *Tile) ClearChildren() {
	for {
		p := t.children.Load()
		if p == nil || p == &noChildren {
			return
		}
		if t.children.CompareAndSwap(p, nil) {
			removed := *p
			cancelFetches(removed)
			if len(removed) > 0 {
				t.fireChildrenChanged(nil, removed)
			}
			return
		}
	}
}

func cancelFetches(tiles []*Tile) {
	for _, c := range tiles {
		if m := c.images; m != nil {
			m.CancelRequest(false)
		}
	}
}

// CreateSubTile builds a child of t covering bounds. The child inherits the
// thresholds, layer, data model, provider and hub of t. When images is nil
// and t has a provider, a manager for imageKey is created. Children and
// fetch state are never copied; children listeners are.
func (t *Tile) CreateSubTile(bounds Bounds, imageKey any, divider Divider, images *imagery.Manager) (*Tile, error) {
	sub, err := New(Config{
		Bounds:      bounds,
		ImageKey:    imageKey,
		Provider:    t.provider,
		Hub:         t.hub,
		Images:      images,
		Divider:     divider,
		MinPixels:   t.minPixels,
		MaxPixels:   t.maxPixels,
		DataModelID: t.dataModelID,
		LayerID:     t.layerID,
		Parent:      t,
	})
	if err != nil {
		return nil, err
	}
	sub.listeners = t.childrenListeners()
	return sub, nil
}

// Clone returns a copy of a root tile with its own image manager. The
// copy has no children. Tiles with a parent cannot be cloned.
func (t *Tile) Clone() (*Tile, error) {
	if t.hasParent {
		return nil, ErrCloneParented
	}
	var images *imagery.Manager
	if t.images != nil {
		m, err := imagery.NewManager(t.images.Key(), t.images.Provider(), imagery.WithHub(t.images.Hub()))
		if err != nil {
			return nil, fmt.Errorf("tile: clone: %w", err)
		}
		images = m
	}
	c, err := New(Config{
		Bounds:      t.bounds,
		ImageKey:    t.imageKey,
		Provider:    t.provider,
		Hub:         t.hub,
		Images:      images,
		Divider:     t.divider,
		MinPixels:   t.minPixels,
		MaxPixels:   t.maxPixels,
		DataModelID: t.dataModelID,
		LayerID:     t.layerID,
	})
	if err != nil {
		return nil, err
	}
	c.listeners = t.childrenListeners()
	return c, nil
}

// IsOrphan reports whether t, or any ancestor, is no longer listed among
// its parent's children. A collected parent counts as having dropped it.
func (t *Tile) IsOrphan() bool {
	for cur := t; cur.hasParent; {
		p := cur.parent.Value()
		if p == nil || !slices.Contains(p.MaterializedChildren(), cur) {
			return true
		}
		cur = p
	}
	return false
}

// Overlapping appends t and its materialized descendants whose bounds
// overlap box to acc, depth first. It never divides.
func (t *Tile) Overlapping(box BoundingBox, acc []*Tile) ([]*Tile, error) {
	ok, err := t.box.Overlaps(box)
	if err != nil || !ok {
		return acc, err
	}
	acc = append(acc, t)
	for _, c := range t.MaterializedChildren() {
		if acc, err = c.Overlapping(box, acc); err != nil {
			return acc, err
		}
	}
	return acc, nil
}

// Walk calls fn for t and its materialized descendants, depth first.
// Returning false from fn skips the children of that tile.
func (t *Tile) Walk(fn func(*Tile) bool) {
	if !fn(t) {
		return
	}
	for _, c := range t.MaterializedChildren() {
		c.Walk(fn)
	}
}

// Descendants implements geometry.Tree. It yields the materialized
// descendants of t, not t itself.
func (t *Tile) Descendants() iter.Seq[geometry.Geometry] {
	return func(yield func(geometry.Geometry) bool) {
		t.descend(yield)
	}
}

func (t *Tile) descend(yield func(geometry.Geometry) bool) bool {
	for _, c := range t.MaterializedChildren() {
		if !yield(c) || !c.descend(yield) {
			return false
		}
	}
	return true
}

// NeedsDivision reports whether a tile drawn onScreenPixels wide should
// split. While the divider's session override is on, the answer is fixed
// to whether the generation is below the hold generation.
func (t *Tile) NeedsDivision(onScreenPixels float64) bool {
	if t.divider == nil {
		return false
	}
	if hold, ok := t.held(); ok {
		return hold >= 0 && t.generation < hold
	}
	return onScreenPixels > t.maxPixels
}

// CanJoin reports whether a tile drawn onScreenPixels wide should drop its
// children. The session override applies as in NeedsDivision.
func (t *Tile) CanJoin(onScreenPixels float64) bool {
	if hold, ok := t.held(); ok {
		return hold < 0 || t.generation >= hold
	}
	return onScreenPixels < t.minPixels
}

func (t *Tile) held() (int, bool) {
	if t.divider == nil {
		return 0, false
	}
	s := t.divider.Session()
	if s == nil {
		return 0, false
	}
	key := t.divider.Key()
	if !s.Override(key) {
		return 0, false
	}
	return s.HoldGeneration(key), true
}

// OnSplitJoinRequest calls fn with t whenever the hold generation or
// override of t's divider changes. The returned function unregisters it.
func (t *Tile) OnSplitJoinRequest(fn func(*Tile)) (remove func()) {
	if t.divider == nil || t.divider.Session() == nil {
		return func() {}
	}
	return t.divider.Session().AddSplitJoinListener(t.divider.Key(), func(string) { fn(t) })
}

// AddChildrenListener registers l. Sub-tiles created afterwards inherit
// it.
func (t *Tile) AddChildrenListener(l ChildrenListener) {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	t.listeners = append(slices.Clip(t.listeners), l)
}

// RemoveChildrenListener unregisters l. Listeners are compared with ==, so
// a ChildrenListenerFunc cannot be removed.
func (t *Tile) RemoveChildrenListener(l ChildrenListener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	if i := slices.Index(t.listeners, l); i >= 0 {
		t.listeners = slices.Delete(slices.Clone(t.listeners), i, i+1)
	}
}

// ChildrenListeners returns the registered listeners in registration order.
func (t *Tile) ChildrenListeners() []ChildrenListener {
	return slices.Clone(t.childrenListeners())
}

func (t *Tile) childrenListeners() []ChildrenListener {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	return slices.Clip(t.listeners)
}

func (t *Tile) fireChildrenChanged(added, removed []*Tile) {
	for _, l := range t.childrenListeners() {
		l.ChildrenChanged(t, added, removed)
	}
}

var (
	_ geometry.ImageBacked = (*Tile)(nil)
	_ geometry.Divisible   = (*Tile)(nil)
	_ geometry.Tree        = (*Tile)(nil)
)
