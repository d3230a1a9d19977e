package respcache

import (
	"sync"
	"time"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

type memEntry struct {
	resp      domain.AIResponse
	expiresAt time.Time
}

// Memory is an in-process response cache. Eviction is lazy: an entry is
// removed only when a read finds it expired.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory constructs an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

// Get returns the stored response when present and not expired.
func (c *Memory) Get(_ domain.Context, key string) (domain.AIResponse, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return domain.AIResponse{}, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a concurrent Set may have replaced it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return domain.AIResponse{}, false, nil
	}
	return e.resp, true, nil
}

// Set stores a response until now+ttl.
func (c *Memory) Set(_ domain.Context, key string, resp domain.AIResponse, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memEntry{resp: resp, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
