package record

import (
	"context"
	"sync"
	"time"
)

// SnapshotCache serves table snapshots for up to TTL before reading again.
//
// Appends do not invalidate entries: a caller that appends and then fetches
// within the TTL sees its own write missing. Refresh bypasses the cache.
// No lock is held across the store read, so two concurrent misses on the
// same key both read the store; the later result wins.
type SnapshotCache struct {
	store TableStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]Snapshot

	// OnFetch, if set, is told whether each Fetch was served from cache.
	OnFetch func(key string, hit bool)
}

// NewSnapshotCache wraps store. A zero ttl uses DefaultTTL; a nil now uses time.Now.
func NewSnapshotCache(store TableStore, ttl time.Duration, now func() time.Time) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SnapshotCache{
		store:   store,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]Snapshot),
	}
}

// TTL returns the staleness bound.
func (c *SnapshotCache) TTL() time.Duration {
	return c.ttl
}

// Fetch returns the cached snapshot for key, reading the store if the entry
// is missing or stale.
func (c *SnapshotCache) Fetch(ctx context.Context, key string) (Snapshot, error) {
	now := c.now()

	c.mu.RLock()
	snap, ok := c.entries[key]
	c.mu.RUnlock()

	hit := ok && !IsStale(snap, now)
	if c.OnFetch != nil {
		c.OnFetch(key, hit)
	}
	if hit {
		return snap, nil
	}
	return c.load(ctx, key, now)
}

// Refresh reads the store and replaces the cached snapshot for key.
func (c *SnapshotCache) Refresh(ctx context.Context, key string) (Snapshot, error) {
	return c.load(ctx, key, c.now())
}

func (c *SnapshotCache) load(ctx context.Context, key string, now time.Time) (Snapshot, error) {
	rows, err := c.store.FetchAll(ctx, key)
	if err != nil {
		return Snapshot{}, &StoreError{Op: "fetch", Key: key, Err: err}
	}
	snap := NewSnapshot(key, rows, now, c.ttl)

	c.mu.Lock()
	c.entries[key] = snap
	c.mu.Unlock()
	return snap, nil
}
