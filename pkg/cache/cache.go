package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures cache behavior. Scores are recomputable at any time,
// so a short TTL with no persistence is enough.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

type entry struct {
	value     interface{}
	expiresAt time.Time
	// lastUsed is unix nanos, touched atomically so cache hits can
	// update it under the read lock
	lastUsed int64
}

// Cache is an in-process TTL cache with singleflight loading: concurrent
// requests for the same key share one loader call.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	opts  Options
	sf    singleflight.Group
}

func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	return &Cache{
		items: make(map[string]*entry),
		opts:  opts,
	}
}

// Loader computes the value for a key on cache miss
type Loader func(ctx context.Context) (interface{}, error)

// Get returns the cached value for key, loading and storing it on miss
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, error) {
	now := time.Now()
	c.mu.RLock()
	if e, ok := c.items[key]; ok && now.Before(e.expiresAt) {
		atomic.StoreInt64(&e.lastUsed, now.UnixNano())
		c.mu.RUnlock()
		return e.value, nil
	}
	c.mu.RUnlock()

	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check under singleflight: another caller may have stored it
		c.mu.RLock()
		if e, ok := c.items[key]; ok && time.Now().Before(e.expiresAt) {
			c.mu.RUnlock()
			return e.value, nil
		}
		c.mu.RUnlock()

		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Clear drops every cached entry
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.mu.Unlock()
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) store(key string, value interface{}) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.MaxEntries > 0 && len(c.items) >= c.opts.MaxEntries {
		c.evictOldestLocked()
	}

	c.items[key] = &entry{
		value:     value,
		expiresAt: now.Add(c.opts.TTL),
		lastUsed:  now.UnixNano(),
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest int64
	for k, e := range c.items {
		used := atomic.LoadInt64(&e.lastUsed)
		if oldestKey == "" || used < oldest {
			oldestKey = k
			oldest = used
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
