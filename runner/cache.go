// ABOUTME: LRUCache is the default ResultCache, backed by groupcache's bounded in-memory LRU --
// ABOUTME: bounded by entry count, evicting least-recently-used entries first.
package runner

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/2389-research/graphrun/core"
)

// LRUCache bounds memory use for READ_THROUGH node results across a single
// process's runs. It is not persisted; a process restart cold-starts the cache.
type LRUCache struct {
	mu    sync.Mutex
	inner *lru.Cache
}

// NewLRUCache builds a cache holding up to maxEntries results. maxEntries <=
// 0 means unbounded; negative values are passed to groupcache/lru as 0, its
// own "no limit" value.
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &LRUCache{inner: lru.New(maxEntries)}
}

var _ ResultCache = (*LRUCache)(nil)

func (c *LRUCache) Get(_ context.Context, key string) (core.NodeResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.inner.Get(key)
	if !ok {
		return core.NodeResult{}, false, nil
	}
	result, ok := v.(core.NodeResult)
	if !ok {
		return core.NodeResult{}, false, nil
	}
	return result, true, nil
}

func (c *LRUCache) Put(_ context.Context, key string, result core.NodeResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, result)
	return nil
}
