package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"newsdigest/internal/ports"
)

// CacheConfig bounds the cache by entry count and total vector bytes.
// Eviction is least-recently-used; there is no time-based expiry, since
// the byte bound is what keeps memory predictable under unbounded input.
type CacheConfig struct {
	MaxEntries int
	MaxBytes   int
}

// Cache wraps an Embedder with an LRU keyed by a content hash of the
// normalized input text. Near-identical titles recur across sources, so
// hits skip inference entirely.
type Cache struct {
	mu    sync.Mutex
	inner ports.Embedder
	cfg   CacheConfig

	ll       *list.List
	items    map[string]*list.Element
	curBytes int

	hits   int
	misses int
}

type cacheEntry struct {
	key string
	vec []float32
}

var _ ports.Embedder = (*Cache)(nil)

// NewCache wraps inner with a bounded LRU.
func NewCache(inner ports.Embedder, cfg CacheConfig) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	return &Cache{
		inner: inner,
		cfg:   cfg,
		ll:    list.New(),
		items: map[string]*list.Element{},
	}
}

// Dimension returns the wrapped embedder's dimension.
func (c *Cache) Dimension() int {
	return c.inner.Dimension()
}

// Embed returns the cached vector for the normalized text or computes
// and stores it. An inference failure is returned as-is and caches
// nothing.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		vec := el.Value.(*cacheEntry).vec
		c.mu.Unlock()
		return vec, nil
	}
	c.misses++
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		el := c.ll.PushFront(&cacheEntry{key: key, vec: vec})
		c.items[key] = el
		c.curBytes += vectorBytes(vec)
		c.evict()
	}
	return vec, nil
}

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats reports hit/miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evict drops least-recently-used entries while over either bound;
// callers hold c.mu.
func (c *Cache) evict() {
	for c.ll.Len() > c.cfg.MaxEntries || c.curBytes > c.cfg.MaxBytes {
		back := c.ll.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*cacheEntry)
		c.ll.Remove(back)
		delete(c.items, entry.key)
		c.curBytes -= vectorBytes(entry.vec)
	}
}

func vectorBytes(vec []float32) int {
	return len(vec) * 4
}

// cacheKey hashes the normalized text so the map never retains inputs.
func cacheKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
