// Package cache provides the sharded LRU that backs the fetch hub's shared
// result table.
//
// Results are keyed by image identity, so keys are strings and hashing uses
// FNV-1a. Sixteen shards keep lock contention low when many fetch workers
// complete at once.
//
//	c := cache.NewSharded[string, *imagery.Data](64, cache.StringHasher)
//	c.Set(id, data)
//	data, ok := c.Get(id)
//
// ShardedCache is safe for concurrent use and must not be copied.
package cache
