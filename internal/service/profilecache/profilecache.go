// Package profilecache provides a single-flight, TTL-bound read-through cache
// of user profiles.
package profilecache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

type entry struct {
	profile   domain.Profile
	fetchedAt time.Time
}

// Cache is a read-through profile cache. For a given user key, at most one
// underlying store fetch is in flight at a time; concurrent callers for the
// same key share that fetch's result.
type Cache struct {
	store domain.ProfileStore
	ttl   time.Duration
	sf    singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// New constructs a Cache over the given store with the given entry TTL.
func New(store domain.ProfileStore, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached profile when fresh, otherwise fetches it through the
// store with single-flight semantics and populates the cache. After each
// completed fetch, expired entries across all users are swept so the map
// stays bounded without a background timer.
func (c *Cache) Get(ctx domain.Context, userID string) (domain.Profile, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.profile, nil
	}

	v, err, _ := c.sf.Do(userID, func() (any, error) {
		// Another waiter may have populated the entry while this caller
		// queued behind an earlier flight.
		c.mu.RLock()
		e, ok := c.entries[userID]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.fetchedAt) < c.ttl {
			return e.profile, nil
		}
		p, err := c.store.GetProfile(ctx, userID)
		if err != nil {
			return domain.Profile{}, fmt.Errorf("op=profilecache.fetch: %w", err)
		}
		c.mu.Lock()
		c.entries[userID] = entry{profile: p, fetchedAt: c.now()}
		c.sweepLocked()
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return v.(domain.Profile), nil
}

// Invalidate removes a cached entry, forcing the next Get to refetch.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// UpdateCount refreshes a cached entry's daily count in place after a quota
// increment. The fetch timestamp is deliberately kept so genuine staleness is
// not masked: the entry still expires on its original TTL clock.
func (c *Cache) UpdateCount(userID string, dailyCount int) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok {
		e.profile.DailyCount = dailyCount
		c.entries[userID] = e
	}
	c.mu.Unlock()
}

// Len reports the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}
