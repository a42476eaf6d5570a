// Package rvcache records the last resource version observed for each watched
// collection so that a new relay connection can resume where the previous one
// stopped.
package rvcache

import (
	"strconv"
	"sync"

	"github.com/dgnsrekt/watchrelay/internal/collection"
)

// Cache maps collections to their last observed resource version. Entries
// never move backwards.
type Cache struct {
	mu       sync.RWMutex
	versions map[collection.Ref]string
}

func New() *Cache {
	return &Cache{versions: make(map[collection.Ref]string)}
}

// Get returns the cached resource version for ref.
func (c *Cache) Get(ref collection.Ref) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rv, ok := c.versions[ref]
	return rv, ok
}

// Observe records rv for ref unless the cache already holds a newer version.
// It reports whether the entry changed.
func (c *Cache) Observe(ref collection.Ref, rv string) bool {
	if rv == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.versions[ref]
	if ok && !Newer(rv, cur) {
		return false
	}
	c.versions[ref] = rv
	return true
}

// Forget drops the entry for ref.
func (c *Cache) Forget(ref collection.Ref) {
	c.mu.Lock()
	delete(c.versions, ref)
	c.mu.Unlock()
}

// Snapshot returns the cached versions for refs, keyed by collection URL.
// Refs without an entry are omitted, meaning "start from latest".
func (c *Cache) Snapshot(refs []collection.Ref) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		if rv, ok := c.versions[ref]; ok {
			out[ref.URL()] = rv
		}
	}
	return out
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.versions)
}

// Newer reports whether candidate should replace current. Kubernetes resource
// versions are opaque, but every in-tree storage backend issues decimal
// integers; those are compared numerically. Anything else is treated as the
// more recent observation.
func Newer(candidate, current string) bool {
	a, errA := strconv.ParseUint(candidate, 10, 64)
	b, errB := strconv.ParseUint(current, 10, 64)
	if errA != nil || errB != nil {
		return candidate != current
	}
	return a > b
}
