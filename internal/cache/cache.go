// Package cache implements the fingerprint-keyed response cache: TTL
// expiry, byte/entry caps with LRU eviction, and single-flight producer
// coalescing. Entries live in striped maps, but the LRU list and byte
// total share one mutex that Get, Put, Invalidate and eviction all take
// briefly, so operations on unrelated keys can wait on each other there.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/airouter/airouter/internal/types"
	"golang.org/x/sync/singleflight"
)

const stripeCount = 32

// Config holds the cache's tunables.
type Config struct {
	TTL        time.Duration
	MaxBytes   int64
	MaxEntries int
}

// DefaultConfig mirrors the design defaults (cache_ttl_ms=900000).
func DefaultConfig() Config {
	return Config{TTL: 900 * time.Second, MaxBytes: 64 * 1024 * 1024, MaxEntries: 10000}
}

type item struct {
	key       string
	value     types.CacheValue
	expiresAt time.Time
	size      int64
	elem      *list.Element
}

type stripe struct {
	mu      sync.Mutex
	entries map[string]*item
}

// Cache is a fingerprint -> response cache with single-flight coalescing,
// TTL expiry, and size-capped LRU eviction.
type Cache struct {
	cfg      Config
	stripes  [stripeCount]*stripe
	group    singleflight.Group

	// lru and totalBytes are protected by lruMu, separate from the per-key
	// stripe locks. Every Get, Put, Invalidate and eviction takes lruMu, so
	// unrelated keys contend on it.
	lruMu      sync.Mutex
	lru        *list.List
	totalBytes int64
	inflight   map[string]bool
	inflightMu sync.Mutex
}

// New builds a Cache.
func New(cfg Config) *Cache {
	c := &Cache{cfg: cfg, lru: list.New(), inflight: make(map[string]bool)}
	for i := range c.stripes {
		c.stripes[i] = &stripe{entries: make(map[string]*item)}
	}
	return c
}

func (c *Cache) stripeFor(key string) *stripe {
	h := fnv32(key)
	return c.stripes[h%stripeCount]
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Get returns the cached value for key, or (zero, false) on a miss. An
// expired entry is treated as a miss and removed lazily.
func (c *Cache) Get(key string) (types.CacheValue, bool) {
	st := c.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	it, ok := st.entries[key]
	if !ok {
		return types.CacheValue{}, false
	}
	if time.Now().After(it.expiresAt) {
		delete(st.entries, key)
		c.removeFromLRU(it)
		return types.CacheValue{}, false
	}
	c.touchLRU(it)
	return it.value, true
}

// Put inserts value under key with the cache's configured TTL. Values
// representing an error are rejected by the caller before Put is invoked;
// Put itself has no notion of "error" since CacheValue only models
// successful results.
func (c *Cache) Put(key string, value types.CacheValue) {
	c.putWithTTL(key, value, c.cfg.TTL)
}

func (c *Cache) putWithTTL(key string, value types.CacheValue, ttl time.Duration) {
	size := approxSize(value)
	st := c.stripeFor(key)

	st.mu.Lock()
	it, exists := st.entries[key]
	if exists {
		c.removeFromLRU(it)
	}
	it = &item{key: key, value: value, expiresAt: time.Now().Add(ttl), size: size}
	st.entries[key] = it
	st.mu.Unlock()

	c.addToLRU(it)
	c.evictIfNeeded()
}

// Invalidate removes key unconditionally.
func (c *Cache) Invalidate(key string) {
	st := c.stripeFor(key)
	st.mu.Lock()
	it, ok := st.entries[key]
	if ok {
		delete(st.entries, key)
	}
	st.mu.Unlock()
	if ok {
		c.removeFromLRU(it)
	}
}

// Producer computes the value to cache for a miss. An error result is
// never cached.
type Producer func() (types.CacheValue, error)

// GetOrCompute implements single-flight: if a producer is already running
// for key, subsequent callers wait on and receive the identical result
// (same response bytes) rather than issuing parallel work. Cancellation
// of the leader's context propagates to all followers via the shared
// error return.
func (c *Cache) GetOrCompute(key string, produce Producer) (types.CacheValue, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.markInflight(key, true)
	defer c.markInflight(key, false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		val, err := produce()
		if err != nil {
			return types.CacheValue{}, err
		}
		c.Put(key, val)
		return val, nil
	})
	if err != nil {
		return types.CacheValue{}, err
	}
	return v.(types.CacheValue), nil
}

func (c *Cache) markInflight(key string, inflight bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if inflight {
		c.inflight[key] = true
	} else {
		delete(c.inflight, key)
	}
}

func (c *Cache) isInflight(key string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return c.inflight[key]
}

// Len returns the current number of live entries (observability only; may
// include not-yet-lazily-expired entries).
func (c *Cache) Len() int {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	return c.lru.Len()
}

// --- LRU bookkeeping (separate lock domain from the key stripes) ---

func (c *Cache) addToLRU(it *item) {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	it.elem = c.lru.PushFront(it)
	c.totalBytes += it.size
}

func (c *Cache) touchLRU(it *item) {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	if it.elem != nil {
		c.lru.MoveToFront(it.elem)
	}
}

func (c *Cache) removeFromLRU(it *item) {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	if it.elem != nil {
		c.lru.Remove(it.elem)
		it.elem = nil
		c.totalBytes -= it.size
	}
}

// evictIfNeeded evicts least-recently-used entries until the cache is back
// under its byte and entry caps. In-flight keys are never evicted.
func (c *Cache) evictIfNeeded() {
	for {
		c.lruMu.Lock()
		overEntries := c.cfg.MaxEntries > 0 && c.lru.Len() > c.cfg.MaxEntries
		overBytes := c.cfg.MaxBytes > 0 && c.totalBytes > c.cfg.MaxBytes
		if !overEntries && !overBytes {
			c.lruMu.Unlock()
			return
		}
		victim := c.evictionCandidateLocked()
		c.lruMu.Unlock()
		if victim == nil {
			return
		}
		c.evictKey(victim.key)
	}
}

// evictionCandidateLocked walks from the back of the LRU list looking for
// the first key that is not currently in-flight. Caller must hold lruMu.
func (c *Cache) evictionCandidateLocked() *item {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		it := e.Value.(*item)
		if !c.isInflight(it.key) {
			return it
		}
	}
	return nil
}

func (c *Cache) evictKey(key string) {
	st := c.stripeFor(key)
	st.mu.Lock()
	it, ok := st.entries[key]
	if ok {
		delete(st.entries, key)
	}
	st.mu.Unlock()
	if ok {
		c.removeFromLRU(it)
	}
}

func approxSize(v types.CacheValue) int64 {
	return int64(len(v.Response.Content)) + int64(len(v.EndpointUsed)) + 64
}
