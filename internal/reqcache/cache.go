package reqcache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used by Load when Config.DefaultTTL is not set.
const DefaultTTL = 5 * time.Second

// Config controls the default TTL, the optional sweep and the clock.
//
// CleanupInterval <= 0 disables the sweep; expired entries are then only
// skipped on read and overwritten on the next successful fetch.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Clock           func() time.Time
}

// Entry is a cached value. Entries are replaced on refresh, never mutated.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats is a snapshot of the cache table.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Cache is safe for concurrent use. Call Close to stop the sweep goroutine.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]

	// pending holds in-flight fetches; a key leaves it as soon as its fetch settles.
	pending singleflight.Group

	defaultTTL time.Duration
	now        func() time.Time

	cleanupEvery time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// New returns a ready cache and starts the sweep if one is configured.
func New[T any](cfg Config) *Cache[T] {
	c := &Cache[T]{
		entries:      make(map[string]Entry[T]),
		defaultTTL:   cfg.DefaultTTL,
		now:          cfg.Clock,
		cleanupEvery: cfg.CleanupInterval,
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if c.cleanupEvery > 0 {
		c.wg.Add(1)
		go c.expiryLoop(ctx)
	}
	return c
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (c *Cache[T]) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// Deduplicate runs fetch unless a fetch for key is already in flight, in
// which case it waits for that one instead. Every caller attached to the
// same flight gets the same value or the same error.
func (c *Cache[T]) Deduplicate(key string, fetch func() (T, error)) (T, error) {
	v, err, _ := c.pending.Do(key, func() (any, error) {
		return fetch()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	// A nil interface value does not assert; return the zero value instead.
	t, _ := v.(T)
	return t, nil
}

// WithCache returns the cached value for key while it is fresh. Otherwise it
// fetches through Deduplicate and stores the result for ttl. Failures are
// never stored. A negative ttl is treated as zero.
func (c *Cache[T]) WithCache(key string, fetch func() (T, error), ttl time.Duration) (T, error) {
	return c.WithCacheFunc(key, fetch, func(T) time.Duration { return ttl })
}

// WithCacheFunc is WithCache with the TTL derived from the fetched value,
// for values that arrive partly aged.
func (c *Cache[T]) WithCacheFunc(key string, fetch func() (T, error), ttlFor func(T) time.Duration) (T, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}
	v, err := c.Deduplicate(key, fetch)
	if err != nil {
		return v, err
	}
	c.set(key, v, ttlFor(v))
	return v, nil
}

// Load is WithCache with the cache's default TTL.
func (c *Cache[T]) Load(key string, fetch func() (T, error)) (T, error) {
	return c.WithCache(key, fetch, c.defaultTTL)
}

// Peek reports whether key currently holds a fresh entry, without fetching.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !now.Before(e.ExpiresAt) {
		return Entry[T]{}, false
	}
	return e, true
}

// Invalidate drops key from the cache table. In-flight fetches are untouched.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every cached key starting with prefix and returns
// how many were removed.
func (c *Cache[T]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear empties the cache table. Fetches still in flight will store their
// result as usual when they settle.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry[T])
	c.mu.Unlock()
}

// Stats returns the current occupancy, expired-but-unswept entries included.
// Keys are sorted.
func (c *Cache[T]) Stats() Stats {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return Stats{Size: len(keys), Keys: keys}
}

func (c *Cache[T]) get(key string) (T, bool) {
	e, ok := c.Peek(key)
	return e.Value, ok
}

func (c *Cache[T]) set(key string, v T, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	now := c.now()
	c.mu.Lock()
	c.entries[key] = Entry[T]{Value: v, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

// deleteExpiredLocked removes every entry whose ExpiresAt is not after now.
func (c *Cache[T]) deleteExpiredLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
