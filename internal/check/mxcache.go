package check

import (
	"context"
	"sync"
	"time"
)

// MemoryMXCache is an in-process TTL cache for MX answers.
type MemoryMXCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]mxEntry
}

type mxEntry struct {
	hosts   []string
	expires time.Time
}

func NewMemoryMXCache(ttl time.Duration) *MemoryMXCache {
	return &MemoryMXCache{ttl: ttl, now: time.Now, entries: make(map[string]mxEntry)}
}

func (c *MemoryMXCache) Get(_ context.Context, domain string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[domain]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, domain)
		return nil, false
	}
	return append([]string(nil), e.hosts...), true
}

func (c *MemoryMXCache) Set(_ context.Context, domain string, hosts []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = mxEntry{hosts: append([]string(nil), hosts...), expires: c.now().Add(c.ttl)}
}

