package imagery

import "sync/atomic"

// Cache holds the current ImageSet of a manager.
//
// Replacement is a single atomic swap. Whoever swaps a set out owns it and
// must dispose it; Replace and Clear do that after the swap, so a set is
// never released while it is still the visible value.
//
// The zero value is an empty cache.
type Cache struct {
	current atomic.Pointer[ImageSet]
}

// Load returns the current set, or nil.
func (c *Cache) Load() *ImageSet {
	return c.current.Load()
}

// Swap installs set and returns the previous value without disposing it.
func (c *Cache) Swap(set *ImageSet) *ImageSet {
	return c.current.Swap(set)
}

// Replace installs set and disposes the previous value.
func (c *Cache) Replace(set *ImageSet) {
	if old := c.current.Swap(set); old != set {
		old.Dispose()
	}
}

// Clear empties the cache and disposes the previous value.
func (c *Cache) Clear() {
	c.Replace(nil)
}
