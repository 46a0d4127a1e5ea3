package provider

import (
	"context"
	"errors"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/tilecache/internal/metrics"
)

// CacheConfig sizes a Cached source.
type CacheConfig struct {
	// MaxSize is the number of tiles kept; zero uses 1024.
	MaxSize int64
	// TTL is how long a tile stays fresh; zero uses ten minutes.
	TTL time.Duration
	// CacheMisses also remembers tiles the source does not have.
	CacheMisses bool
}

// Cached keeps the encoded tiles of another Source in memory.
type Cached struct {
	src    Source
	cache  *ccache.Cache[[]byte]
	ttl    time.Duration
	misses bool
}

// NewCached wraps src. Call Close to stop the cache's worker.
func NewCached(src Source, cfg CacheConfig) *Cached {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	prune := uint32(max(cfg.MaxSize/16, 1))
	return &Cached{
		src:    src,
		cache:  ccache.New(ccache.Configure[[]byte]().MaxSize(cfg.MaxSize).ItemsToPrune(prune)),
		ttl:    cfg.TTL,
		misses: cfg.CacheMisses,
	}
}

// Name implements Source. It is the wrapped source's name, since the
// cache returns the same tiles.
func (c *Cached) Name() string { return c.src.Name() }

// Get implements Source.
func (c *Cached) Get(ctx context.Context, t maptile.Tile) ([]byte, error) {
	key := tilePath(t)
	if item := c.cache.Get(key); item != nil && !item.Expired() {
		metrics.ProviderCache.WithLabelValues("hit").Inc()
		if item.Value() == nil {
			return nil, ErrNotFound
		}
		return item.Value(), nil
	}
	metrics.ProviderCache.WithLabelValues("miss").Inc()

	data, err := c.src.Get(ctx, t)
	switch {
	case errors.Is(err, ErrNotFound):
		if c.misses {
			c.cache.Set(key, nil, c.ttl)
		}
		return nil, err
	case err != nil:
		return nil, err
	}
	c.cache.Set(key, data, c.ttl)
	return data, nil
}

// Invalidate drops t so the next Get reads through.
func (c *Cached) Invalidate(t maptile.Tile) {
	c.cache.Delete(tilePath(t))
}

// Len returns the number of cached tiles.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

// Close stops the cache.
func (c *Cached) Close() {
	c.cache.Stop()
}
