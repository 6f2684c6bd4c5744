package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

const memoryBackend = "memory"

type memoryEntry struct {
	value     []byte
	expiresAt time.Time

	// lastAccessed tracks LRU eviction
	lastAccessed time.Time
}

// MemoryCache provides thread-safe in-memory caching with TTL and LRU
// eviction. It suits single-process deployments and tests.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	namespaces map[string]map[string]struct{}
	gens       map[string]uint64
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates a cache with the given default TTL and capacity.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{
		entries:    make(map[string]*memoryEntry),
		namespaces: make(map[string]map[string]struct{}),
		gens:       make(map[string]uint64),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get implements Cache. Expired entries are removed on access.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		MissesTotal.WithLabelValues(memoryBackend).Inc()
		return nil, false
	}
	now := c.now()
	if now.After(entry.expiresAt) {
		c.removeLocked(key)
		MissesTotal.WithLabelValues(memoryBackend).Inc()
		return nil, false
	}
	entry.lastAccessed = now
	HitsTotal.WithLabelValues(memoryBackend).Inc()

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true
}

// Set implements Cache. When the cache is full the least recently used
// entry is evicted.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

// SetIfGeneration implements Cache.
func (c *MemoryCache) SetIfGeneration(_ context.Context, key string, gen uint64, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	scope, _, ok := ParseKey(key)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[scope.Namespace()] != gen {
		return false
	}
	c.setLocked(key, value, ttl)
	return true
}

// Generation implements Cache.
func (c *MemoryCache) Generation(_ context.Context, scope tenant.Scope) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[scope.Namespace()], true
}

// setLocked stores value and records key in its namespace.
// Caller must hold the write lock.
func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	now := c.now()
	stored := make([]byte, len(value))
	copy(stored, value)
	c.entries[key] = &memoryEntry{value: stored, expiresAt: now.Add(ttl), lastAccessed: now}

	if scope, _, ok := ParseKey(key); ok {
		ns := scope.Namespace()
		if c.namespaces[ns] == nil {
			c.namespaces[ns] = make(map[string]struct{})
		}
		c.namespaces[ns][key] = struct{}{}
	}
}

// InvalidateNamespace implements Cache.
func (c *MemoryCache) InvalidateNamespace(_ context.Context, scope tenant.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns := scope.Namespace()
	c.gens[ns]++
	keys := c.namespaces[ns]
	for key := range keys {
		delete(c.entries, key)
	}
	delete(c.namespaces, ns)
	InvalidatedKeys.WithLabelValues(memoryBackend).Add(float64(len(keys)))
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ping implements Cache.
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Close implements Cache.
func (c *MemoryCache) Close() error { return nil }

// removeLocked deletes key and its namespace index entry.
// Caller must hold the write lock.
func (c *MemoryCache) removeLocked(key string) {
	delete(c.entries, key)
	if scope, _, ok := ParseKey(key); ok {
		ns := scope.Namespace()
		delete(c.namespaces[ns], key)
		if len(c.namespaces[ns]) == 0 {
			delete(c.namespaces, ns)
		}
	}
}

// evictLRU removes the least recently used entry from the cache.
// Caller must hold the write lock.
func (c *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
			first = false
		}
	}
	if !first {
		c.removeLocked(oldestKey)
	}
}
