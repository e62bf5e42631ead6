package btree

import (
	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

// nodeCache holds decoded committed nodes. Cached nodes are immutable and
// shared between transactions. Every node costs one unit, so the cache
// keeps up to its capacity in nodes. A zero capacity disables caching.
type nodeCache struct {
	cache *ristretto.Cache
}

func newNodeCache(capacity int) (*nodeCache, error) {
	if capacity <= 0 {
		return &nodeCache{}, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		// Ten counters per cached node for admission.
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create node cache")
	}
	return &nodeCache{cache: cache}, nil
}

func cacheKey(id BlockID) uint64 {
	return uint64(id)
}

func (c *nodeCache) get(id BlockID) (*BPlusNode, bool) {
	if c.cache == nil {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(id))
	if !ok {
		return nil, false
	}
	return v.(*BPlusNode), true
}

// put offers a node to the cache. The cache may decline it.
func (c *nodeCache) put(n *BPlusNode) {
	if c.cache == nil {
		return
	}
	c.cache.Set(cacheKey(n.ID), n, 1)
}

func (c *nodeCache) remove(id BlockID) {
	if c.cache == nil {
		return
	}
	c.cache.Del(cacheKey(id))
}

func (c *nodeCache) clear() {
	if c.cache == nil {
		return
	}
	c.cache.Clear()
}

// wait blocks until buffered puts have been applied.
func (c *nodeCache) wait() {
	if c.cache == nil {
		return
	}
	c.cache.Wait()
}

func (c *nodeCache) close() {
	if c.cache == nil {
		return
	}
	c.cache.Close()
}

// len returns the approximate number of cached nodes.
func (c *nodeCache) len() int {
	if c.cache == nil {
		return 0
	}
	m := c.cache.Metrics
	return int(m.KeysAdded() - m.KeysEvicted())
}

func (c *nodeCache) stats() (hits, misses uint64) {
	if c.cache == nil {
		return 0, 0
	}
	return c.cache.Metrics.Hits(), c.cache.Metrics.Misses()
}
