// Package metrics holds the prometheus collectors for fetch, cache and tile
// events. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results.
const (
	ResultOK        = "ok"
	ResultEmpty     = "empty"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

var (
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_fetches_total",
		Help: "Provider fetches by provider and result",
	}, []string{"provider", "result"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilecache_fetch_duration_seconds",
		Help:    "Duration of provider fetches in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"provider"})

	// HubShared counts fetches satisfied by another manager's work.
	HubShared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_hub_shared_total",
		Help: "Fetches served from the hub instead of the provider",
	}, []string{"source"})

	HubEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_hub_evictions_total",
		Help: "Shared fetch results dropped from the hub to make room",
	})

	Preemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_fetch_preemptions_total",
		Help: "In-flight fetches cancelled by a higher priority request",
	})

	ImagesDisposed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_images_disposed_total",
		Help: "Decoded images released back to the buffer pool",
	})

	Divisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_tile_divisions_total",
		Help: "Tile divisions published",
	})

	ProviderCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_provider_cache_total",
		Help: "Encoded tile cache lookups by result",
	}, []string{"result"})

	RegistryGeometries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilecache_registry_geometries",
		Help: "Geometries currently registered",
	})
)
