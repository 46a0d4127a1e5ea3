package layer

import (
	"context"
	"errors"
	stdimage "image"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/tilecache/geometry"
	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/tile"
)

type deltaCounter struct {
	mu      sync.Mutex
	added   int
	removed int
	events  int
}

func (c *deltaCounter) GeometriesChanged(_ any, added, removed []geometry.Geometry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events++
	c.added += len(added)
	c.removed += len(removed)
}

// solidProvider returns a small opaque image for every key.
type solidProvider struct{}

func (solidProvider) Name() string { return "solid" }

func (solidProvider) Fetch(context.Context, any) (*imagery.Data, error) {
	return &imagery.Data{Draw: stdimage.NewNRGBA(stdimage.Rect(0, 0, 2, 2))}, nil
}

// gatedProvider holds every fetch until gate is closed.
type gatedProvider struct {
	gate chan struct{}
}

func (*gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) Fetch(ctx context.Context, _ any) (*imagery.Data, error) {
	select {
	case <-p.gate:
	case <-ctx.Done():
	}
	return nil, ctx.Err()
}

func newWorldLayer(t *testing.T, maxZoom maptile.Zoom, session *tile.Session, p imagery.Provider) *Layer {
	t.Helper()
	d := tile.NewQuadDivider("world", maxZoom, session)
	root, err := tile.NewQuadRoot(maptile.New(0, 0, 0), d, tile.Config{
		Provider:    p,
		Hub:         imagery.NewHub(32),
		DataModelID: geometry.NoDataModel,
		LayerID:     "world",
	})
	if err != nil {
		t.Fatalf("NewQuadRoot: %v", err)
	}
	l, err := New(Config{ID: "world", DataModelID: geometry.NoDataModel, Roots: []*tile.Tile{root}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

var world = tile.NewBoundingBox(tile.Geographic, -180, -85, 180, 85)

// ===== Construction =====

func TestNew_Errors(t *testing.T) {
	if _, err := New(Config{ID: "empty"}); !errors.Is(err, ErrNoRoots) {
		t.Errorf("New without roots err = %v, want ErrNoRoots", err)
	}
	if _, err := New(Config{Roots: []*tile.Tile{nil}}); err == nil {
		t.Error("New with nil root returned nil error")
	}
}

// ===== Registry binding =====

func TestSetRegistry(t *testing.T) {
	l := newWorldLayer(t, 2, nil, nil)
	l.Roots()[0].Children(true)

	r := geometry.NewRegistry()
	if err := l.SetRegistry(r); err != nil {
		t.Fatalf("SetRegistry: %v", err)
	}
	if r.Len() != 5 {
		t.Errorf("registry holds %d geometries, want root and 4 children", r.Len())
	}
	if err := l.SetRegistry(geometry.NewRegistry()); !errors.Is(err, ErrRegistryAlreadySet) {
		t.Errorf("second SetRegistry err = %v, want ErrRegistryAlreadySet", err)
	}

	l.ClearRegistry()
	if r.Len() != 0 || l.Registry() != nil {
		t.Error("ClearRegistry left geometries behind")
	}
	if err := l.SetRegistry(r); err != nil {
		t.Errorf("SetRegistry after clear: %v", err)
	}
}

func TestChildrenFlowIntoRegistry(t *testing.T) {
	l := newWorldLayer(t, 3, nil, nil)
	r := geometry.NewRegistry()
	counter := &deltaCounter{}
	if err := l.SetRegistry(r); err != nil {
		t.Fatal(err)
	}
	r.AddSubscriber(counter)

	root := l.Roots()[0]
	kids := root.Children(true)
	kids[0].Children(true)

	if r.Len() != 9 {
		t.Fatalf("registry holds %d geometries, want 9", r.Len())
	}

	root.ClearChildren()

	if r.Len() != 1 || !r.Contains(root) {
		t.Errorf("after clear registry holds %d geometries, want only the root", r.Len())
	}
	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.events != 3 || counter.removed != 8 {
		t.Errorf("events = %d removed = %d, want 3 events removing 8", counter.events, counter.removed)
	}
}

// ===== Selection =====

func TestSelect_SplitAndJoin(t *testing.T) {
	l := newWorldLayer(t, 4, nil, nil)
	r := geometry.NewRegistry()
	if err := l.SetRegistry(r); err != nil {
		t.Fatal(err)
	}

	// Root is 360 units wide: 1000px splits it, children land at 500px.
	tiles, err := l.Select(world, 1000.0/360)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 4 {
		t.Fatalf("selected %d tiles, want 4", len(tiles))
	}

	// Children at 300px sit between the thresholds and stay.
	tiles, _ = l.Select(world, 600.0/360)
	if len(tiles) != 4 {
		t.Errorf("between thresholds selected %d tiles, want 4", len(tiles))
	}

	tiles, _ = l.Select(world, 100.0/360)
	if len(tiles) != 1 || tiles[0] != l.Roots()[0] {
		t.Errorf("zoomed out selected %d tiles, want the root", len(tiles))
	}
	if r.Len() != 1 {
		t.Errorf("registry holds %d geometries after join, want 1", r.Len())
	}
}

func TestSelect_ViewCulling(t *testing.T) {
	l := newWorldLayer(t, 4, nil, nil)
	east := tile.NewBoundingBox(tile.Geographic, 10, 10, 20, 20)

	tiles, err := l.Select(east, 1000.0/360)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 1 {
		t.Fatalf("selected %d tiles, want the north-east quadrant", len(tiles))
	}
	if key := tiles[0].ImageKey().(maptile.Tile); key != maptile.New(1, 0, 1) {
		t.Errorf("selected %v, want 1/1/0", key)
	}

	if _, err := l.Select(tile.NewBoundingBox(tile.Screen, 0, 0, 1, 1), 1); !errors.Is(err, tile.ErrPositionTypeMismatch) {
		t.Errorf("screen view err = %v, want ErrPositionTypeMismatch", err)
	}
}

func TestNeedsReselect(t *testing.T) {
	s := tile.NewSession()
	l := newWorldLayer(t, 4, s, nil)

	if _, err := l.Select(world, 1); err != nil {
		t.Fatal(err)
	}
	if l.NeedsReselect() {
		t.Fatal("NeedsReselect() = true right after Select")
	}

	s.SetHoldGeneration("world", 2)
	if !l.NeedsReselect() {
		t.Error("hold generation change did not request reselect")
	}

	s.SetOverride("world", true)
	tiles, _ := l.Select(world, 1)
	if len(tiles) != 16 {
		t.Errorf("held at generation 2 selected %d tiles, want 16", len(tiles))
	}
}

// ===== Imagery =====

func TestRequest(t *testing.T) {
	l := newWorldLayer(t, 2, nil, solidProvider{})
	tiles, err := l.Select(world, 1000.0/360)
	if err != nil {
		t.Fatal(err)
	}

	pool := imagery.NewWorkerPool(2)
	defer pool.Close()

	ready := l.Request(context.Background(), tiles, imagery.Request{
		Executor: pool,
		Budget:   imagery.NewTimeBudget(5 * time.Second),
	})
	if ready != len(tiles) {
		t.Errorf("ready = %d, want %d", ready, len(tiles))
	}
}

func TestReprojectAndClose(t *testing.T) {
	p := &gatedProvider{gate: make(chan struct{})}
	l := newWorldLayer(t, 2, nil, p)
	t.Cleanup(func() { close(p.gate) })
	r := geometry.NewRegistry()
	if err := l.SetRegistry(r); err != nil {
		t.Fatal(err)
	}

	tiles, _ := l.Select(world, 1000.0/360)
	l.Request(context.Background(), tiles, imagery.Request{})
	for _, tl := range tiles {
		if !tl.Images().InFlight() {
			t.Fatal("fetch not in flight")
		}
	}

	l.Reproject()
	for _, tl := range tiles {
		if tl.Images().InFlight() {
			t.Error("Reproject left a child fetch in flight")
		}
	}
	if !l.NeedsReselect() || r.Len() != 1 {
		t.Errorf("after Reproject: reselect %v, registry %d", l.NeedsReselect(), r.Len())
	}

	root := l.Roots()[0]
	root.Images().RequestImageData(context.Background(), imagery.Request{})
	l.Close()
	l.Close()

	if root.Images().InFlight() {
		t.Error("Close left the root fetch in flight")
	}
	if r.Len() != 0 {
		t.Errorf("registry holds %d geometries after Close", r.Len())
	}
	if _, err := l.Select(world, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Select after Close err = %v, want ErrClosed", err)
	}
	if err := l.SetRegistry(r); !errors.Is(err, ErrClosed) {
		t.Errorf("SetRegistry after Close err = %v, want ErrClosed", err)
	}
}

func TestClose_DetachesFromSubTiles(t *testing.T) {
	l := newWorldLayer(t, 3, nil, nil)
	if _, err := l.Select(world, 4000.0/360); err != nil {
		t.Fatal(err)
	}

	listening := func() (n int) {
		l.Roots()[0].Walk(func(tl *tile.Tile) bool {
			if slices.Contains(tl.ChildrenListeners(), tile.ChildrenListener(l)) {
				n++
			}
			return true
		})
		return n
	}
	before := listening()
	if before < 5 {
		t.Fatalf("layer listens on %d tiles before Close, want the root and its sub-tiles", before)
	}

	l.Close()
	if n := listening(); n != 0 {
		t.Errorf("layer still listens on %d tiles after Close", n)
	}
}
