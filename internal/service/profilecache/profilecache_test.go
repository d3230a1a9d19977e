package profilecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

type fakeProfileStore struct {
	mu      sync.Mutex
	fetches int64
	delay   time.Duration
	profile domain.Profile
}

func (f *fakeProfileStore) GetProfile(_ domain.Context, _ string) (domain.Profile, error) {
	atomic.AddInt64(&f.fetches, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

func (f *fakeProfileStore) TryConsumeDaily(_ domain.Context, _ string, _ int) (bool, int, error) {
	return true, 1, nil
}

func TestGet_SingleFlight(t *testing.T) {
	store := &fakeProfileStore{profile: domain.Profile{Tier: domain.TierPro, DailyCount: 3}, delay: 20 * time.Millisecond}
	c := New(store, time.Minute)

	const n = 50
	var wg sync.WaitGroup
	results := make([]domain.Profile, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "u1")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&store.fetches), "exactly one underlying fetch")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.TierPro, results[i].Tier)
		assert.Equal(t, 3, results[i].DailyCount)
	}
}

func TestGet_HitWithinTTL(t *testing.T) {
	store := &fakeProfileStore{profile: domain.Profile{Tier: domain.TierFree}}
	c := New(store, time.Minute)

	_, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.fetches)
}

func TestGet_ExpiredRefetches(t *testing.T) {
	store := &fakeProfileStore{profile: domain.Profile{Tier: domain.TierFree}}
	c := New(store, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.fetches)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	store := &fakeProfileStore{profile: domain.Profile{Tier: domain.TierFree}}
	c := New(store, time.Minute)

	_, _ = c.Get(context.Background(), "u1")
	c.Invalidate("u1")
	_, _ = c.Get(context.Background(), "u1")
	assert.Equal(t, int64(2), store.fetches)
}

func TestUpdateCount_InPlaceWithoutTTLReset(t *testing.T) {
	store := &fakeProfileStore{profile: domain.Profile{Tier: domain.TierFree, DailyCount: 0}}
	c := New(store, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, _ = c.Get(context.Background(), "u1")
	c.UpdateCount("u1", 4)

	p, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.DailyCount)
	assert.Equal(t, int64(1), store.fetches, "update must not refetch")

	// The original TTL clock still applies.
	now = now.Add(2 * time.Minute)
	_, _ = c.Get(context.Background(), "u1")
	assert.Equal(t, int64(2), store.fetches)
}

func TestSweep_RemovesExpiredEntriesOnFetch(t *testing.T) {
	store := &fakeProfileStore{profile: domain.Profile{Tier: domain.TierFree}}
	c := New(store, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, _ = c.Get(context.Background(), "stale-1")
	_, _ = c.Get(context.Background(), "stale-2")
	require.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Minute)
	_, _ = c.Get(context.Background(), "fresh")
	assert.Equal(t, 1, c.Len(), "expired entries swept after fetch")
}
