package conversation

import (
	"calcchat/backend/internal/models"
	"sync"
	"time"
)

type profileEntry struct {
	URL string
	At  time.Time
}

// ProfileCache holds the current profile picture of each identity. An entry is
// only replaced by one with a later created_at, whatever the arrival order.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[models.Identity]profileEntry
}

func NewProfileCache() *ProfileCache {
	return &ProfileCache{entries: make(map[models.Identity]profileEntry)}
}

// Apply reports whether the cache changed.
func (c *ProfileCache) Apply(id models.Identity, url string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[id]
	if ok && !at.After(cur.At) {
		return false
	}
	c.entries[id] = profileEntry{URL: url, At: at}
	return !ok || cur.URL != url
}

func (c *ProfileCache) Get(id models.Identity) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id].URL
}

func (c *ProfileCache) Snapshot() map[models.Identity]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.Identity]string, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.URL
	}
	return out
}
