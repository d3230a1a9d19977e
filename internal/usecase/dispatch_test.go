package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/internal/service/pricing"
	"github.com/prxatt/kiro-ai-gateway/internal/service/profilecache"
	"github.com/prxatt/kiro-ai-gateway/internal/service/respcache"
)

type fakeProfileStore struct {
	mu       sync.Mutex
	tier     domain.Tier
	count    int
	fetches  int
	consumes int
}

func (s *fakeProfileStore) GetProfile(_ domain.Context, _ string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return domain.Profile{Tier: s.tier, DailyCount: s.count}, nil
}

func (s *fakeProfileStore) TryConsumeDaily(_ domain.Context, _ string, limit int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumes++
	if s.count >= limit {
		return false, s.count, nil
	}
	s.count++
	return true, s.count, nil
}

type fakeUsageStore struct {
	mu   sync.Mutex
	recs []domain.UsageRecord
}

func (s *fakeUsageStore) LogUsage(_ domain.Context, rec domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *fakeUsageStore) SumCostCents(_ domain.Context, _ string, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.recs {
		total += r.CostCents
	}
	return total, nil
}

func (s *fakeUsageStore) SumCostCentsForModel(_ domain.Context, _, model string, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.recs {
		if r.Model == model {
			total += r.CostCents
		}
	}
	return total, nil
}

func (s *fakeUsageStore) records() []domain.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UsageRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	out   string
	err   error
}

func (e *fakeExecutor) Execute(_ domain.Context, req domain.ProviderRequest) (domain.ProviderResult, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return domain.ProviderResult{}, "", e.err
	}
	return domain.ProviderResult{
		Content:        e.out,
		InputTokens:    100,
		OutputTokens:   50,
		TokensReported: true,
		Confidence:     0.9,
	}, string(req.Model), nil
}

type harness struct {
	d        *Dispatcher
	profiles *fakeProfileStore
	usage    *fakeUsageStore
	exec     *fakeExecutor
}

func newHarness(tier domain.Tier, out string) *harness {
	profiles := &fakeProfileStore{tier: tier}
	usage := &fakeUsageStore{}
	exec := &fakeExecutor{out: out}
	catalog := domain.Catalog()
	counter := tokencount.NewCounter()
	limits := BudgetLimits{
		MonthlyCents: func(t domain.Tier) int {
			if t == domain.TierFree {
				return 50
			}
			return 0
		},
		FreeCreditCents: 500,
	}
	d := NewDispatcher(
		profilecache.New(profiles, 5*time.Minute),
		profiles,
		respcache.NewMemory(),
		NewSelector(catalog, counter, 0),
		NewBudgeter(usage, catalog, limits),
		exec,
		pricing.NewTable(catalog),
		counter,
		NewLedger(usage, nil),
		1024,
	)
	return &harness{d: d, profiles: profiles, usage: usage, exec: exec}
}

func TestDispatch_FreeTierQuickChat(t *testing.T) {
	h := newHarness(domain.TierFree, "Hi! How can I help?")
	req := domain.AIRequest{UserID: "u1", Message: "Hello!", Feature: domain.FeatureQuickChat, Priority: domain.PriorityLow}

	resp, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Hi! How can I help?", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.ModelUsed)
	assert.Equal(t, 150, resp.TokensUsed)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 1, h.profiles.count, "one quota unit consumed")

	recs := h.usage.records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].CacheHit)
	assert.Equal(t, "u1", recs[0].UserID)
}

func TestDispatch_SecondCallHitsCache(t *testing.T) {
	h := newHarness(domain.TierFree, "answer")
	req := domain.AIRequest{UserID: "u1", Message: "Hello!", Feature: domain.FeatureQuickChat}

	_, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	resp, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.CacheHit)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, 1, h.exec.calls, "cache hit must not reach a provider")
	assert.Equal(t, 1, h.profiles.count, "cache hit must not consume quota")

	recs := h.usage.records()
	require.Len(t, recs, 2, "cache hits still append a usage record")
	assert.True(t, recs[1].CacheHit)
	assert.Zero(t, recs[1].CostCents)
}

func TestDispatch_NormalizedMessageSharesCacheKey(t *testing.T) {
	h := newHarness(domain.TierPro, "answer")
	_, err := h.d.Dispatch(context.Background(), domain.AIRequest{UserID: "u1", Message: "Hello!", Feature: domain.FeatureQuickChat})
	require.NoError(t, err)

	resp, err := h.d.Dispatch(context.Background(), domain.AIRequest{UserID: "u2", Message: "  hello!  ", Feature: domain.FeatureQuickChat})
	require.NoError(t, err)
	assert.True(t, resp.CacheHit)
}

func TestDispatch_QuotaExhausted(t *testing.T) {
	h := newHarness(domain.TierFree, "answer")
	for i := 0; i < 5; i++ {
		req := domain.AIRequest{UserID: "u1", Message: fmt.Sprintf("question %d", i), Feature: domain.FeatureQuickChat}
		_, err := h.d.Dispatch(context.Background(), req)
		require.NoError(t, err)
	}

	_, err := h.d.Dispatch(context.Background(), domain.AIRequest{UserID: "u1", Message: "one more", Feature: domain.FeatureQuickChat})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 5, h.exec.calls)
}

func TestDispatch_StructuredFeatureAcceptsFencedJSON(t *testing.T) {
	h := newHarness(domain.TierPro, "```json\n[{\"title\":\"buy milk\",\"priority\":\"low\"}]\n```")
	req := domain.AIRequest{UserID: "u1", Message: "buy milk tomorrow", Feature: domain.FeatureTaskParsing}

	resp, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"buy milk","priority":"low"}]`, resp.Content)
}

func TestDispatch_ValidationErrors(t *testing.T) {
	h := newHarness(domain.TierPro, "answer")
	ctx := context.Background()

	_, err := h.d.Dispatch(ctx, domain.AIRequest{Message: "hi", Feature: domain.FeatureQuickChat})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.d.Dispatch(ctx, domain.AIRequest{UserID: "u1", Message: "hi", Feature: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.d.Dispatch(ctx, domain.AIRequest{UserID: "u1", Message: "   ", Feature: domain.FeatureQuickChat})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, h.exec.calls)
}

func TestDispatch_ProviderErrorSurfaces(t *testing.T) {
	h := newHarness(domain.TierPro, "")
	h.exec.err = fmt.Errorf("%w: everything is down", domain.ErrInternal)

	_, err := h.d.Dispatch(context.Background(), domain.AIRequest{UserID: "u1", Message: "hi", Feature: domain.FeatureQuickChat})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestDispatch_CostRecorded(t *testing.T) {
	h := newHarness(domain.TierPro, "a long considered answer")
	req := domain.AIRequest{UserID: "u1", Message: "brief me on the plan", Feature: domain.FeatureBriefing}

	resp, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "claude-3.5-sonnet", resp.ModelUsed)
	// 100 in @ $3/M + 50 out @ $15/M rounds to 0 cents.
	assert.Equal(t, 0, resp.CostCents)
}
