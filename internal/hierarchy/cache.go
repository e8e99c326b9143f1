package hierarchy

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache holds per-actor subordinate sets for a bounded time. It is owned by
// whoever constructs it and must be invalidated when owner references or
// activation flags change. A nil *Cache disables caching.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.RWMutex
	entries    map[uuid.UUID]cacheEntry
	generation uint64
}

type cacheEntry struct {
	set       Set
	expiresAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]cacheEntry),
	}
}

// Lookup returns the cached set when fresh. The generation it returns must be
// passed back to Store so a result computed before an invalidation is dropped.
func (c *Cache) Lookup(actorID uuid.UUID) (Set, uint64, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[actorID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, c.generation, false
	}
	return entry.set, c.generation, true
}

func (c *Cache) Store(actorID uuid.UUID, set Set, generation uint64) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.entries[actorID] = cacheEntry{set: set, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops the cached set for one actor.
func (c *Cache) Invalidate(actorID uuid.UUID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, actorID)
	c.generation++
}

// InvalidateAll drops every cached set. Owner edits call this since one edit
// changes the sets of every ancestor above the edited user.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uuid.UUID]cacheEntry)
	c.generation++
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
