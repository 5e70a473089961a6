// Package cache memoizes idempotent language-server responses per
// (project, method, canonical params) key with a time-to-live. It never
// blocks on the external process; it only gates whether the RPC client is
// consulted.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

const (
	// DefaultTTL matches the original per-response lifetime for most
	// navigation queries.
	DefaultTTL        = 5 * time.Second
	defaultMaxEntries = 1000
)

// Stats counts cache effectiveness for monitoring.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry struct {
	root      string
	value     json.RawMessage
	expiresAt time.Time
}

// Cache is a TTL response cache. Entries are immutable once written; a new
// Put for the same key replaces the entry wholesale.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry
	stats      Stats
	now        func() time.Time
	onEvict    func(n int)
}

// New builds a cache with the given default TTL and capacity. Zero values
// select the package defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

// Key derives the canonical cache key for a request. Params are canonicalized
// through encoding/json (object keys are emitted sorted), then hashed.
func Key(root, method string, params any) (string, error) {
	canonical := []byte("null")
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return "", err
		}
		canonical = b
	}
	sum := md5.Sum(canonical)
	return root + "\x00" + method + "\x00" + hex.EncodeToString(sum[:]), nil
}

// Get returns the cached value if present and unexpired. A value stored with
// ttl T is absent at and after T.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.stats.Misses++
		c.evictedLocked(1)
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Put stores value under key with the given ttl (the cache default when
// ttl <= 0). The value is snapshotted; callers may not rely on aliasing.
func (c *Cache) Put(key, root string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.sweepExpiredLocked()
	}
	c.entries[key] = entry{
		root:      root,
		value:     append(json.RawMessage(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
}

// InvalidateProject removes every entry for the given project root and
// reports how many were dropped. Other projects are untouched.
func (c *Cache) InvalidateProject(root string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.root == root {
			delete(c.entries, k)
			n++
		}
	}
	c.evictedLocked(n)
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictedLocked(len(c.entries))
	c.entries = make(map[string]entry)
}

// SetEvictionHook registers fn, invoked with the number of entries dropped
// on every eviction. Used to feed external counters.
func (c *Cache) SetEvictionHook(fn func(n int)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

func (c *Cache) evictedLocked(n int) {
	if n <= 0 {
		return
	}
	c.stats.Evictions += uint64(n)
	if c.onEvict != nil {
		c.onEvict(n)
	}
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) sweepExpiredLocked() {
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	c.evictedLocked(n)
}
