package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/prxatt/kiro-ai-gateway/internal/config"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/internal/service/pricing"
	"github.com/prxatt/kiro-ai-gateway/internal/service/profilecache"
	"github.com/prxatt/kiro-ai-gateway/internal/service/respcache"
	"github.com/prxatt/kiro-ai-gateway/internal/usecase"
)

type stubProfileStore struct {
	mu    sync.Mutex
	tier  domain.Tier
	count int
}

func (s *stubProfileStore) GetProfile(_ domain.Context, _ string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Profile{Tier: s.tier, DailyCount: s.count}, nil
}

func (s *stubProfileStore) TryConsumeDaily(_ domain.Context, _ string, limit int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count >= limit {
		return false, s.count, nil
	}
	s.count++
	return true, s.count, nil
}

type stubUsageStore struct{}

func (stubUsageStore) LogUsage(domain.Context, domain.UsageRecord) error { return nil }
func (stubUsageStore) SumCostCents(domain.Context, string, time.Time) (int, error) {
	return 12, nil
}
func (stubUsageStore) SumCostCentsForModel(domain.Context, string, string, time.Time) (int, error) {
	return 0, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ domain.Context, req domain.ProviderRequest) (domain.ProviderResult, string, error) {
	return domain.ProviderResult{
		Content:        "stub answer",
		InputTokens:    10,
		OutputTokens:   5,
		TokensReported: true,
		Confidence:     0.9,
	}, string(req.Model), nil
}

func newTestServer(tier domain.Tier) (*Server, chi.Router) {
	profiles := &stubProfileStore{tier: tier}
	cache := profilecache.New(profiles, 5*time.Minute)
	catalog := domain.Catalog()
	counter := tokencount.NewCounter()
	limits := usecase.BudgetLimits{
		MonthlyCents:    func(domain.Tier) int { return 0 },
		FreeCreditCents: 500,
	}
	d := usecase.NewDispatcher(
		cache,
		profiles,
		respcache.NewMemory(),
		usecase.NewSelector(catalog, counter, 0),
		usecase.NewBudgeter(stubUsageStore{}, catalog, limits),
		stubExecutor{},
		pricing.NewTable(catalog),
		counter,
		usecase.NewLedger(stubUsageStore{}, nil),
		1024,
	)
	s := &Server{Cfg: config.Config{}, Dispatcher: d, Profiles: cache, Usage: stubUsageStore{}}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/v1/ai/dispatch", s.DispatchHandler())
		r.Get("/v1/ai/usage/{userID}", s.UsageHandler())
	})
	r.Post("/v1/profile/{userID}/invalidate", s.InvalidateProfileHandler())
	r.Get("/healthz", s.HealthzHandler())
	return s, r
}

func doDispatch(t *testing.T, r chi.Router, userID string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/ai/dispatch", bytes.NewReader(b))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDispatchHandler_OK(t *testing.T) {
	_, r := newTestServer(domain.TierPro)
	rec := doDispatch(t, r, "u1", map[string]any{"message": "Hello!", "feature": "quick_chat"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.AIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stub answer", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.ModelUsed)
	assert.False(t, resp.CacheHit)
}

func TestDispatchHandler_MissingUser(t *testing.T) {
	_, r := newTestServer(domain.TierPro)
	rec := doDispatch(t, r, "", map[string]any{"message": "hi", "feature": "quick_chat"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDispatchHandler_UnknownFeature(t *testing.T) {
	_, r := newTestServer(domain.TierPro)
	rec := doDispatch(t, r, "u1", map[string]any{"message": "hi", "feature": "time_travel"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
}

func TestDispatchHandler_QuotaExceeded(t *testing.T) {
	_, r := newTestServer(domain.TierFree)
	for i := 0; i < 5; i++ {
		rec := doDispatch(t, r, "u1", map[string]any{"message": "q", "feature": "quick_chat", "metadata": map[string]string{"n": string(rune('a' + i))}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := doDispatch(t, r, "u1", map[string]any{"message": "one more", "feature": "quick_chat"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "QUOTA_EXCEEDED", env.Error.Code)
}

func TestDispatchHandler_BadFileBase64(t *testing.T) {
	_, r := newTestServer(domain.TierPro)
	rec := doDispatch(t, r, "u1", map[string]any{
		"message": "read this",
		"feature": "vision_ocr",
		"files":   []map[string]any{{"mime": "image/png", "data": "not base64!!!"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageHandler_SelfOnly(t *testing.T) {
	_, r := newTestServer(domain.TierPro)

	req := httptest.NewRequest(http.MethodGet, "/v1/ai/usage/u1", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pro", body["tier"])
	assert.EqualValues(t, 12, body["month_to_date_cents"])
	assert.EqualValues(t, 50, body["daily_limit"])

	req = httptest.NewRequest(http.MethodGet, "/v1/ai/usage/other", nil)
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvalidateProfileHandler(t *testing.T) {
	s, r := newTestServer(domain.TierPro)

	rec := doDispatch(t, r, "u1", map[string]any{"message": "warm the cache", "feature": "quick_chat"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, s.Profiles.Len())

	req := httptest.NewRequest(http.MethodPost, "/v1/profile/u1/invalidate", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, s.Profiles.Len())
}

func TestHealthz(t *testing.T) {
	_, r := newTestServer(domain.TierPro)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
