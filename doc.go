// Package tilecache streams and caches imagery for a dividable tile surface.
//
// # Overview
//
// A map or globe renderer draws a quad-tree of tiles. Each tile owns an
// image manager that fetches its imagery asynchronously, and all drawable
// geometries are indexed in a registry so that a data source can be torn
// down in one pass.
//
// The module is organized into:
//   - region: dirty rectangles of a source image, coalesced on read
//   - imagery: per-tile image cache, fetch coordination and de-duplication
//   - tile: the quad-tree node, dividers and the division session
//   - geometry: capability interfaces and the geometry registry
//   - layer: roots of a tile surface bound to a registry
//   - provider: image providers (memory, MBTiles, Redis, HTTP) and decoding
//
// # Quick Start
//
//	pool := imagery.NewWorkerPool(0) // any imagery.Executor
//	defer pool.Close()
//
//	divider := tile.NewQuadDivider("osm", 18, tile.NewSession())
//	root, err := tile.NewQuadRoot(maptile.New(0, 0, 0), divider, tile.Config{
//	    Provider:    provider.FromSource(src),
//	    DataModelID: geometry.NoDataModel,
//	})
//	if err != nil {
//	    return err
//	}
//	for _, child := range root.Children(true) {
//	    child.Images().RequestImageData(ctx, imagery.Request{
//	        Executor: pool,
//	        Budget:   imagery.NewTimeBudget(5 * time.Millisecond),
//	    })
//	}
//
// # Logging
//
// tilecache is silent by default. Call SetLogger to enable output.
package tilecache

// Version is the current version of the library.
const Version = "0.1.0"
