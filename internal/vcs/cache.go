package vcs

import (
	"strings"
	"sync"
	"time"
)

// Default TTLs per query family.
const (
	StatusTTL   = 5 * time.Second
	LogTTL      = 30 * time.Second
	RevisionTTL = 10 * time.Second
)

type cacheEntry struct {
	result    string
	timestamp time.Time
	ttl       time.Duration
}

// commandCache deduplicates read-only version-control queries. An entry is
// valid iff now - timestamp < ttl.
type commandCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newCommandCache(now func() time.Time) *commandCache {
	if now == nil {
		now = time.Now
	}
	return &commandCache{
		entries: make(map[string]cacheEntry),
		now:     now,
	}
}

func cacheKey(path, command string) string {
	return path + "\x00" + command
}

func (c *commandCache) get(path, command string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(path, command)]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.timestamp) >= entry.ttl {
		delete(c.entries, cacheKey(path, command))
		return "", false
	}
	return entry.result, true
}

func (c *commandCache) put(path, command, result string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(path, command)] = cacheEntry{
		result:    result,
		timestamp: c.now(),
		ttl:       ttl,
	}
}

// invalidatePath drops every cached query for a workspace path. Called after
// any mutating operation so that reads never observe pre-mutation state.
func (c *commandCache) invalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := path + "\x00"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}
