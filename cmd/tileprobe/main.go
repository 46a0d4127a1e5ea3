// Command tileprobe builds a tile layer over a provider, selects the tiles
// covering a view, fetches their imagery and reports what it found.
//
// It is configured through TILEPROBE_* environment variables, read from a
// .env file when one exists:
//
//	TILEPROBE_PROVIDER=mbtiles TILEPROBE_MBTILES_PATH=world.mbtiles tileprobe
//
// The memory provider serves synthetic tiles and needs no setup.
package main

import (
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/tilecache"
	"github.com/gogpu/tilecache/geometry"
	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/layer"
	"github.com/gogpu/tilecache/provider"
	"github.com/gogpu/tilecache/tile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tileprobe:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level()}))
	tilecache.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
	}

	prov, closeProvider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	rep, err := probe(ctx, cfg, prov)
	if err != nil {
		return err
	}
	rep.print(os.Stdout)
	return nil
}

// newProvider builds the provider named by cfg.Provider and the function
// releasing it.
func newProvider(ctx context.Context, cfg *Config) (imagery.Provider, func(), error) {
	var (
		src     provider.Source
		release = func() {}
	)
	switch cfg.Provider {
	case "memory":
		return seedMemory(cfg), release, nil
	case "mbtiles":
		m, err := provider.OpenMBTiles(provider.MBTilesConfig{Path: cfg.MBTiles.Path})
		if err != nil {
			return nil, nil, err
		}
		if meta, err := m.Metadata(ctx); err == nil {
			tilecache.Logger().Info("tileprobe: mbtiles", "name", meta["name"], "format", meta["format"])
		}
		src, release = m, func() { _ = m.Close() }
	case "redis":
		r, err := provider.NewRedis(ctx, provider.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		src, release = r, func() { _ = r.Close() }
	case "http":
		h, err := provider.NewHTTP(provider.HTTPConfig{URLTemplate: cfg.HTTP.URL, UserAgent: cfg.HTTP.UserAgent})
		if err != nil {
			return nil, nil, err
		}
		src = h
	default:
		return nil, nil, fmt.Errorf("unknown provider %q (memory, mbtiles, redis, http)", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		c := provider.NewCached(src, provider.CacheConfig{MaxSize: cfg.CacheSize})
		inner := release
		src, release = c, func() { c.Close(); inner() }
	}
	return provider.FromSource(src, provider.WithSize(cfg.TileSize)), release, nil
}

// maxSeedZoom bounds the synthetic pyramid: zoom z holds 4^z tiles.
const maxSeedZoom = 6

// seedMemory fills a memory provider with one solid tile per map tile up
// to the max zoom, shaded by zoom level.
func seedMemory(cfg *Config) *provider.Memory {
	mem := provider.NewMemory("synthetic")
	top := min(cfg.MaxZoom, maxSeedZoom)
	if top < cfg.MaxZoom {
		tilecache.Logger().Warn("tileprobe: synthetic tiles stop early", "zoom", top)
	}
	for z := range top + 1 {
		data := &imagery.Data{Draw: solid(max(cfg.TileSize, 1), color.NRGBA{R: uint8(40 * z), G: 128, B: 200, A: 255})}
		n := uint32(1) << z
		for x := range n {
			for y := range n {
				_ = mem.Put(maptile.New(x, y, maptile.Zoom(z)), data)
			}
		}
	}
	return mem
}

func solid(size int, c color.NRGBA) *stdimage.NRGBA {
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

type report struct {
	provider   string
	selected   int
	ready      int
	registered int
	maxGen     int
	executed   uint64
	panicked   uint64
	hub        imagery.HubStats
	elapsed    time.Duration
}

func (r report) print(w io.Writer) {
	fmt.Fprintf(w, "provider:   %s\n", r.provider)
	fmt.Fprintf(w, "selected:   %d tiles (deepest generation %d)\n", r.selected, r.maxGen)
	fmt.Fprintf(w, "ready:      %d tiles with imagery\n", r.ready)
	fmt.Fprintf(w, "registered: %d geometries\n", r.registered)
	fmt.Fprintf(w, "fetches:    %d executed, %d panicked\n", r.executed, r.panicked)
	fmt.Fprintf(w, "hub:        %d/%d results, %.0f%% hit rate, %d evicted\n",
		r.hub.Len, r.hub.TotalCapacity, r.hub.HitRate*100, r.hub.Evictions)
	fmt.Fprintf(w, "elapsed:    %s\n", r.elapsed.Round(time.Millisecond))
}

// probe selects the tiles covering the configured view and fetches them.
func probe(ctx context.Context, cfg *Config, prov imagery.Provider) (report, error) {
	start := time.Now()
	rep := report{provider: prov.Name()}

	divider := tile.NewQuadDivider("tileprobe", maptile.Zoom(cfg.MaxZoom), tile.NewSession())
	hub := imagery.NewHub(imagery.DefaultHubSize)
	root, err := tile.NewQuadRoot(maptile.New(0, 0, 0), divider, tile.Config{
		Provider:    prov,
		Hub:         hub,
		DataModelID: geometry.NoDataModel,
		LayerID:     "probe",
	})
	if err != nil {
		return rep, err
	}
	l, err := layer.New(layer.Config{ID: "probe", DataModelID: geometry.NoDataModel, Roots: []*tile.Tile{root}})
	if err != nil {
		return rep, err
	}
	defer l.Close()

	reg := geometry.NewRegistry()
	if err := l.SetRegistry(reg); err != nil {
		return rep, err
	}

	view := tile.NewBoundingBox(tile.Geographic, cfg.View[0], cfg.View[1], cfg.View[2], cfg.View[3])
	tiles, err := l.Select(view, cfg.PixelsPerDegree)
	if err != nil {
		return rep, err
	}
	rep.selected = len(tiles)
	for _, t := range tiles {
		rep.maxGen = max(rep.maxGen, t.Generation())
	}

	pool := imagery.NewWorkerPool(cfg.Workers)
	rep.ready = l.Request(ctx, tiles, imagery.Request{
		Executor: pool,
		Budget:   imagery.NewTimeBudget(cfg.Budget),
	})
	pool.Close()

	rep.executed, rep.panicked = pool.Stats()
	rep.hub = hub.Stats()
	rep.registered = reg.Len()
	rep.elapsed = time.Since(start)
	return rep, nil
}
