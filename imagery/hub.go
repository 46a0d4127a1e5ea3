package imagery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/tilecache/internal/cache"
	"github.com/gogpu/tilecache/internal/metrics"
)

// DefaultHubSize is the number of results kept by DefaultHub.
const DefaultHubSize = 256

// HubKey identifies one logical image: a provider name and an image key.
// Two keys are equal exactly when their managers compare equal, because
// both use == on the image key.
type HubKey struct {
	Provider string
	Key      any
}

// String formats k for logs and shard hashing. Distinct keys may format
// the same, so the string is never used for equality.
func (k HubKey) String() string {
	return fmt.Sprintf("%s|%T|%v", k.Provider, k.Key, k.Key)
}

func hashHubKey(k HubKey) uint64 {
	return cache.StringHasher(k.String())
}

// HubStats is a snapshot of the hub's result table counters.
type HubStats = cache.Stats

// Hub de-duplicates provider fetches across managers that compare equal.
//
// Concurrent fetches of one HubKey share a single provider call, and
// completed results are kept in a sharded LRU so that a later request from
// any equal manager is served without calling the provider again. Results
// are immutable Data values; each manager decodes its own copy.
//
// Hub is safe for concurrent use.
type Hub struct {
	group   singleflight.Group
	results *cache.ShardedCache[HubKey, *Data]
}

// flight is the value shared by one singleflight call. The group is keyed
// by HubKey.String, so a waiter checks key before trusting data.
type flight struct {
	key  HubKey
	data *Data
}

// NewHub creates a hub keeping about size results. Non-positive size uses
// DefaultHubSize.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultHubSize
	}
	perShard := max(1, (size+cache.DefaultShardCount-1)/cache.DefaultShardCount)
	results := cache.NewSharded[HubKey, *Data](perShard, hashHubKey)
	results.OnEvict = func(HubKey, *Data) { metrics.HubEvictions.Inc() }
	return &Hub{results: results}
}

var (
	defaultHubOnce sync.Once
	defaultHub     *Hub
)

// DefaultHub returns the process-wide hub used by managers created without
// WithHub.
func DefaultHub() *Hub {
	defaultHubOnce.Do(func() { defaultHub = NewHub(DefaultHubSize) })
	return defaultHub
}

// Fetch returns the imagery for k from p, sharing the work with every
// other caller using an equal key.
//
// The provider call itself is not bound to ctx: cancelling ctx only stops
// this caller from waiting, and the result still lands in the hub for the
// others.
func (h *Hub) Fetch(ctx context.Context, k HubKey, p Provider) (*Data, error) {
	if d, ok := h.results.Get(k); ok {
		metrics.HubShared.WithLabelValues("result").Inc()
		return d, nil
	}

	ch := h.group.DoChan(k.String(), func() (any, error) {
		if d, ok := h.results.Get(k); ok {
			return flight{key: k, data: d}, nil
		}
		d, err := fetchFrom(context.WithoutCancel(ctx), p, k.Key)
		if err == nil && d != nil {
			h.results.Set(k, d)
		}
		return flight{key: k, data: d}, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		f, _ := r.Val.(flight)
		if f.key != k {
			// Joined the flight of a different key with the same string.
			return h.fetchAlone(ctx, k, p)
		}
		if r.Shared {
			metrics.HubShared.WithLabelValues("inflight").Inc()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return f.data, nil
	}
}

// fetchAlone fetches k outside the singleflight group.
func (h *Hub) fetchAlone(ctx context.Context, k HubKey, p Provider) (*Data, error) {
	d, err := fetchFrom(context.WithoutCancel(ctx), p, k.Key)
	if err == nil && d != nil {
		h.results.Set(k, d)
	}
	return d, err
}

// Forget drops the stored result for k. The next fetch calls the provider.
func (h *Hub) Forget(k HubKey) {
	h.results.Delete(k)
	h.group.Forget(k.String())
}

// Purge drops every stored result.
func (h *Hub) Purge() {
	h.results.Clear()
}

// Len returns the number of stored results.
func (h *Hub) Len() int {
	return h.results.Len()
}

// Stats returns the result table's lookup and eviction counters.
func (h *Hub) Stats() HubStats {
	return h.results.Stats()
}
