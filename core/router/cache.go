package router

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const cacheShardCount = 16

// Cache memoizes successful route matches keyed by method+path. Entries are
// sharded by key hash to keep lock contention low; eviction picks the entry
// with the globally smallest access stamp, so the least recently accessed
// match is evicted regardless of which shard it lives in.
//
// Cached Params maps are shared between lookups and must be treated as
// read-only by callers.
type Cache struct {
	shards   [cacheShardCount]cacheShard
	capacity int

	size  atomic.Int64
	clock atomic.Uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[uint64]*cacheEntry
}

type cacheEntry struct {
	route  *Route
	params Params
	stamp  atomic.Uint64
}

// NewCache creates a cache bounded to capacity entries.
func NewCache(capacity int) *Cache {
	c := &Cache{capacity: capacity}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]*cacheEntry)
	}
	return c
}

func cacheKey(method, path string) uint64 {
	d := xxhash.New()
	d.WriteString(method)
	d.WriteString(" ")
	d.WriteString(path)
	return d.Sum64()
}

// Get returns a cached match and refreshes its access stamp.
func (c *Cache) Get(method, path string) (*Route, Params, bool) {
	key := cacheKey(method, path)
	shard := &c.shards[key%cacheShardCount]

	shard.mu.Lock()
	e := shard.entries[key]
	shard.mu.Unlock()

	if e == nil {
		c.misses.Add(1)
		return nil, nil, false
	}

	e.stamp.Store(c.clock.Add(1))
	c.hits.Add(1)
	return e.route, e.params, true
}

// Put stores a match, evicting the least recently accessed entry when full.
func (c *Cache) Put(method, path string, route *Route, params Params) {
	key := cacheKey(method, path)
	shard := &c.shards[key%cacheShardCount]

	e := &cacheEntry{route: route, params: params}
	e.stamp.Store(c.clock.Add(1))

	shard.mu.Lock()
	_, existed := shard.entries[key]
	shard.entries[key] = e
	shard.mu.Unlock()

	if existed {
		return
	}
	if c.size.Add(1) > int64(c.capacity) {
		c.evictOldest()
	}
}

// evictOldest removes the entry with the smallest access stamp across all
// shards. Registration-time invalidation is rare and lookups only take one
// shard lock, so the full scan here stays off the hot path.
func (c *Cache) evictOldest() {
	var (
		victimShard *cacheShard
		victimKey   uint64
		victimStamp uint64
		found       bool
	)

	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		for key, e := range shard.entries {
			stamp := e.stamp.Load()
			if !found || stamp < victimStamp {
				victimShard = shard
				victimKey = key
				victimStamp = stamp
				found = true
			}
		}
		shard.mu.Unlock()
	}

	if !found {
		return
	}

	victimShard.mu.Lock()
	if e, ok := victimShard.entries[victimKey]; ok && e.stamp.Load() == victimStamp {
		delete(victimShard.entries, victimKey)
		c.size.Add(-1)
		c.evictions.Add(1)
	}
	victimShard.mu.Unlock()
}

// Invalidate drops all cached matches.
func (c *Cache) Invalidate() {
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		dropped := len(shard.entries)
		shard.entries = make(map[uint64]*cacheEntry)
		shard.mu.Unlock()
		c.size.Add(-int64(dropped))
	}
}

// Stats returns hit, miss and eviction counters.
func (c *Cache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}
