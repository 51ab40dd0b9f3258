package brigade

import (
	"encoding/json"
	"sync"
	"time"
)

// SettingsRecordID is the fixed record id of the tenant profile document.
const SettingsRecordID = "profile"

// SettingsCache caches the tenant settings document read from the replica.
// Entries expire after a TTL and the cache is invalidated explicitly when a
// pull or a local settings mutation rewrites the document. There is no
// package-level state; each Client owns its own cache.
type SettingsCache struct {
	store *Store
	clock Clock
	ttl   time.Duration

	mu        sync.Mutex
	cached    *SettingsPayload
	fetchedAt time.Time
}

// NewSettingsCache builds a cache over the given store.
func NewSettingsCache(store *Store, clock Clock, ttl time.Duration) *SettingsCache {
	if clock == nil {
		clock = SystemClock()
	}
	return &SettingsCache{store: store, clock: clock, ttl: ttl}
}

// Get returns the tenant settings, reading through to the replica on a
// cold or expired cache. A tenant with no settings yet returns ErrNotFound.
func (c *SettingsCache) Get() (*SettingsPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.cached != nil && now.Sub(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	rec, err := c.store.Entity(EntitySettings, SettingsRecordID)
	if err != nil {
		return nil, err
	}

	var settings SettingsPayload
	if err := json.Unmarshal(rec.Data, &settings); err != nil {
		return nil, &StorageError{Op: "decode settings", Err: err}
	}

	c.cached = &settings
	c.fetchedAt = now
	return c.cached, nil
}

// Invalidate drops the cached document. The next Get re-reads the replica.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
