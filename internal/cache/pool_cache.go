package cache

import (
	"context"
	"sync"
	"time"

	"swaprouter/internal/model"
)

// PoolCache holds pool snapshots for a short TTL. Reads never return an
// entry past its expiry.
type PoolCache struct {
	ttl  time.Duration
	now  func() time.Time
	keys *KeyedMutex

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	pool      model.Pool
	expiresAt time.Time
}

func NewPoolCache(ttl time.Duration) *PoolCache {
	return &PoolCache{
		ttl:     ttl,
		now:     time.Now,
		keys:    NewKeyedMutex(),
		entries: make(map[string]entry),
	}
}

// Get returns a fresh entry. Expired entries are dropped.
func (c *PoolCache) Get(id string) (model.Pool, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return model.Pool{}, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[id]; ok && current.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return model.Pool{}, false
	}
	return e.pool, true
}

// Put stores pool with a fresh expiry.
func (c *PoolCache) Put(pool model.Pool) {
	c.mu.Lock()
	c.entries[pool.ID] = entry{pool: pool, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrFetch serves a fresh entry or calls fetch once per key; concurrent
// callers for the same pool wait for the first fetch.
func (c *PoolCache) GetOrFetch(ctx context.Context, id string, fetch func(context.Context) (model.Pool, error)) (model.Pool, error) {
	if pool, ok := c.Get(id); ok {
		return pool, nil
	}

	unlock := c.keys.Lock(id)
	defer unlock()

	if pool, ok := c.Get(id); ok {
		return pool, nil
	}
	pool, err := fetch(ctx)
	if err != nil {
		return model.Pool{}, err
	}
	c.Put(pool)
	return pool, nil
}

// Invalidate drops one entry.
func (c *PoolCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Purge drops every expired entry and returns how many were removed.
func (c *PoolCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *PoolCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
