package scorer

import (
	"context"
	"sync"
	"time"
)

// ResultCache maps a content fingerprint to a previously computed score.
//
// Implementations return *CacheReadError / *CacheWriteError for store
// failures so callers can tell an unavailable store from a plain miss.
type ResultCache interface {
	Get(ctx context.Context, key CacheKey) (score int, ok bool, err error)
	Put(ctx context.Context, key CacheKey, score int, ttl time.Duration) error
}

type memoryEntry struct {
	score     int
	expiresAt time.Time
}

// MemoryCache is an in-process ResultCache for local runs and tests
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[CacheKey]memoryEntry),
		now:     time.Now,
	}
}

// Get implements ResultCache
func (c *MemoryCache) Get(_ context.Context, key CacheKey) (int, bool, error) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	if !ent.expiresAt.IsZero() && !c.now().Before(ent.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return 0, false, nil
	}
	return ent.score, true, nil
}

// Put implements ResultCache. A ttl <= 0 keeps the entry forever.
func (c *MemoryCache) Put(_ context.Context, key CacheKey, score int, ttl time.Duration) error {
	ent := memoryEntry{score: score}
	if ttl > 0 {
		ent.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = ent
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ping always succeeds
func (c *MemoryCache) Ping(context.Context) error { return nil }
