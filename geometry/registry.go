package geometry

import (
	"slices"
	"sync"

	"github.com/gogpu/tilecache"
	"github.com/gogpu/tilecache/internal/metrics"
)

// Subscriber receives registry deltas. added and removed belong to source.
// Deliveries from one registry never overlap, so a subscriber is never
// invoked concurrently with itself. Subscribers must not modify the
// registry from GeometriesChanged.
type Subscriber interface {
	GeometriesChanged(source any, added, removed []Geometry)
}

// entry records what the registry knows about one geometry.
type entry struct {
	source any
	model  int64
}

// modelSlot holds the geometries of one data model. Most ids back a single
// geometry, held in one without allocating; many is used from the second
// geometry on.
type modelSlot struct {
	one  Geometry
	many []Geometry
}

// Registry indexes live geometries by owning source and by data-model id.
//
// A single RWMutex guards both indices, so bulk operations are atomic with
// respect to each other. Sources are arbitrary comparable values, usually
// the layer that owns the geometries.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Geometry]entry
	bySource map[any]map[Geometry]struct{}
	byModel  map[int64]modelSlot

	subMu       sync.Mutex
	subscribers []Subscriber

	// notifyMu serializes deliveries.
	notifyMu sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[Geometry]entry),
		bySource: make(map[any]map[Geometry]struct{}),
		byModel:  make(map[int64]modelSlot),
	}
}

// AddSubscriber registers s for deltas.
func (r *Registry) AddSubscriber(s Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(slices.Clip(r.subscribers), s)
}

// RemoveSubscriber unregisters s.
func (r *Registry) RemoveSubscriber(s Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if i := slices.Index(r.subscribers, s); i >= 0 {
		r.subscribers = slices.Delete(slices.Clone(r.subscribers), i, i+1)
	}
}

func (r *Registry) publish(source any, added, removed []Geometry) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	metrics.RegistryGeometries.Add(float64(len(added) - len(removed)))

	r.subMu.Lock()
	subs := r.subscribers
	r.subMu.Unlock()

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	for _, s := range subs {
		s.GeometriesChanged(source, added, removed)
	}
}

// AddGeometriesForSource registers geoms as owned by source. Geometries that
// are already registered keep their current owner and are skipped.
func (r *Registry) AddGeometriesForSource(source any, geoms []Geometry) {
	r.mu.Lock()
	added := r.addLocked(source, geoms)
	r.mu.Unlock()

	r.publish(source, added, nil)
}

// RemoveGeometriesForSource unregisters every geometry of source and
// returns them.
func (r *Registry) RemoveGeometriesForSource(source any) []Geometry {
	r.mu.Lock()
	var removed []Geometry
	for g := range r.bySource[source] {
		removed = append(removed, g)
	}
	r.removeLocked(removed)
	r.mu.Unlock()

	r.publish(source, nil, removed)
	return removed
}

// RemoveGeometries unregisters those of geoms that source owns and returns
// exactly the ones removed.
func (r *Registry) RemoveGeometries(source any, geoms []Geometry) []Geometry {
	r.mu.Lock()
	removed := r.ownedLocked(source, geoms)
	r.removeLocked(removed)
	r.mu.Unlock()

	r.publish(source, nil, removed)
	return removed
}

// RemoveGeometriesOfType unregisters the geometries of source that are of
// type T and returns them.
func RemoveGeometriesOfType[T Geometry](r *Registry, source any) []Geometry {
	r.mu.Lock()
	var removed []Geometry
	for g := range r.bySource[source] {
		if _, ok := g.(T); ok {
			removed = append(removed, g)
		}
	}
	r.removeLocked(removed)
	r.mu.Unlock()

	r.publish(source, nil, removed)
	return removed
}

// ReceiveObjects applies adds and removes for source as one update and
// publishes a single combined delta.
func (r *Registry) ReceiveObjects(source any, adds, removes []Geometry) {
	r.mu.Lock()
	removed := r.ownedLocked(source, removes)
	r.removeLocked(removed)
	added := r.addLocked(source, adds)
	r.mu.Unlock()

	r.publish(source, added, removed)
}

// RemoveGeometriesForDataModels unregisters every geometry backed by one of
// ids, appends them to out and returns it. The removal is atomic with
// respect to other registry updates. One delta is published per affected
// source.
func (r *Registry) RemoveGeometriesForDataModels(ids []int64, out []Geometry) []Geometry {
	r.mu.Lock()
	start := len(out)
	for i, id := range ids {
		if slices.Contains(ids[:i], id) {
			continue
		}
		slot, ok := r.byModel[id]
		if !ok {
			continue
		}
		if slot.one != nil {
			out = append(out, slot.one)
		}
		out = append(out, slot.many...)
	}
	removed := out[start:]

	perSource := make(map[any][]Geometry)
	var sources []any
	for _, g := range removed {
		src := r.entries[g].source
		if _, seen := perSource[src]; !seen {
			sources = append(sources, src)
		}
		perSource[src] = append(perSource[src], g)
	}
	r.removeLocked(removed)
	r.mu.Unlock()

	for _, src := range sources {
		r.publish(src, nil, perSource[src])
	}
	return out
}

// CancelAllImageRetrievals cancels the image fetches of every registered
// ImageBacked geometry and of the materialized descendants of every Tree.
func (r *Registry) CancelAllImageRetrievals() {
	geoms := r.Geometries()
	n := 0
	cancel := func(g Geometry) {
		if ib, ok := g.(ImageBacked); ok {
			if m := ib.Images(); m != nil {
				m.CancelRequest(false)
				n++
			}
		}
	}
	for _, g := range geoms {
		cancel(g)
		if tree, ok := g.(Tree); ok {
			for d := range tree.Descendants() {
				cancel(d)
			}
		}
	}
	tilecache.Logger().Debug("geometry: cancelled image retrievals", "managers", n)
}

// Geometries returns every registered geometry.
func (r *Registry) Geometries() []Geometry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Geometry, 0, len(r.entries))
	for g := range r.entries {
		out = append(out, g)
	}
	return out
}

// GeometriesForSource returns the geometries owned by source.
func (r *Registry) GeometriesForSource(source any) []Geometry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.bySource[source]
	out := make([]Geometry, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	return out
}

// GeometriesForDataModel returns the geometries backed by id.
func (r *Registry) GeometriesForDataModel(id int64) []Geometry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.byModel[id]
	if !ok {
		return nil
	}
	if slot.one != nil {
		return []Geometry{slot.one}
	}
	return slices.Clone(slot.many)
}

// SourceOf returns the owner of g.
func (r *Registry) SourceOf(g Geometry) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[g]
	return e.source, ok
}

// Contains reports whether g is registered.
func (r *Registry) Contains(g Geometry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[g]
	return ok
}

// Len returns the number of registered geometries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// addLocked registers the unregistered geometries of geoms.
// Caller must hold r.mu.
func (r *Registry) addLocked(source any, geoms []Geometry) []Geometry {
	var added []Geometry
	for _, g := range geoms {
		if g == nil {
			continue
		}
		if _, dup := r.entries[g]; dup {
			continue
		}
		model := g.DataModelID()
		r.entries[g] = entry{source: source, model: model}

		set := r.bySource[source]
		if set == nil {
			set = make(map[Geometry]struct{})
			r.bySource[source] = set
		}
		set[g] = struct{}{}

		if model != NoDataModel {
			r.indexModel(model, g)
		}
		added = append(added, g)
	}
	return added
}

// ownedLocked returns the members of geoms registered to source.
// Caller must hold r.mu.
func (r *Registry) ownedLocked(source any, geoms []Geometry) []Geometry {
	var owned []Geometry
	for _, g := range geoms {
		if g == nil {
			continue
		}
		if e, ok := r.entries[g]; ok && e.source == source && !slices.Contains(owned, g) {
			owned = append(owned, g)
		}
	}
	return owned
}

// removeLocked unregisters geoms, all of which must be registered.
// Caller must hold r.mu.
func (r *Registry) removeLocked(geoms []Geometry) {
	for _, g := range geoms {
		e, ok := r.entries[g]
		if !ok {
			continue
		}
		delete(r.entries, g)

		if set := r.bySource[e.source]; set != nil {
			delete(set, g)
			if len(set) == 0 {
				delete(r.bySource, e.source)
			}
		}
		if e.model != NoDataModel {
			r.unindexModel(e.model, g)
		}
	}
}

func (r *Registry) indexModel(id int64, g Geometry) {
	slot := r.byModel[id]
	switch {
	case slot.one == nil && slot.many == nil:
		slot.one = g
	case slot.many == nil:
		slot.many = []Geometry{slot.one, g}
		slot.one = nil
	default:
		slot.many = append(slot.many, g)
	}
	r.byModel[id] = slot
}

func (r *Registry) unindexModel(id int64, g Geometry) {
	slot, ok := r.byModel[id]
	if !ok {
		return
	}
	if slot.one == g {
		delete(r.byModel, id)
		return
	}
	i := slices.Index(slot.many, g)
	if i < 0 {
		return
	}
	slot.many = slices.Delete(slot.many, i, i+1)
	switch len(slot.many) {
	case 0:
		delete(r.byModel, id)
	case 1:
		r.byModel[id] = modelSlot{one: slot.many[0]}
	default:
		r.byModel[id] = slot
	}
}
