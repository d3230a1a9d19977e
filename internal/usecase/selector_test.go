package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

func newTestSelector(diversionPercent int) *Selector {
	return NewSelector(domain.Catalog(), tokencount.NewCounter(), diversionPercent)
}

func unconstrained() BudgetState {
	return BudgetState{Unlimited: true}
}

func TestSelect_RoutingTableDefaults(t *testing.T) {
	s := newTestSelector(0)
	cases := map[domain.FeatureType]domain.ModelID{
		domain.FeatureQuickChat:       domain.ModelGPT4oMini,
		domain.FeatureTaskParsing:     domain.ModelGPT4oMini,
		domain.FeatureVisionOCR:       domain.ModelGPT4oMini,
		domain.FeatureNoteGeneration:  domain.ModelClaudeSonnet,
		domain.FeatureBriefing:        domain.ModelClaudeSonnet,
		domain.FeatureMindMap:         domain.ModelClaudeSonnet,
		domain.FeatureResearch:        domain.ModelSonar,
		domain.FeatureImageGeneration: domain.ModelGeminiFlashImage,
	}
	for feature, want := range cases {
		req := domain.AIRequest{UserID: "u1", Message: "hello", Feature: feature}
		got := s.Select(req, domain.TierPro, unconstrained(), "fp")
		assert.Equal(t, want, got, "feature %s", feature)
	}
}

func TestSelect_FreeTierNeverGetsPremium(t *testing.T) {
	s := newTestSelector(0)
	req := domain.AIRequest{UserID: "u1", Message: "brief me", Feature: domain.FeatureBriefing}
	got := s.Select(req, domain.TierFree, unconstrained(), "fp")
	assert.Equal(t, domain.ModelGPT4oMini, got)
}

func TestSelect_DiversionIsDeterministic(t *testing.T) {
	s := newTestSelector(30)
	req := domain.AIRequest{UserID: "u1", Message: "hi", Feature: domain.FeatureQuickChat}

	first := s.Select(req, domain.TierFree, unconstrained(), "fingerprint-a")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, s.Select(req, domain.TierFree, unconstrained(), "fingerprint-a"))
	}
}

func TestSelect_DiversionRate(t *testing.T) {
	all := newTestSelector(100)
	none := newTestSelector(0)
	req := domain.AIRequest{UserID: "u1", Message: "hi", Feature: domain.FeatureQuickChat}

	assert.Equal(t, domain.FallbackModel, all.Select(req, domain.TierFree, unconstrained(), "fp"))
	assert.Equal(t, domain.ModelGPT4oMini, none.Select(req, domain.TierFree, unconstrained(), "fp"))
	// Paying tiers are never diverted.
	assert.Equal(t, domain.ModelGPT4oMini, all.Select(req, domain.TierPro, unconstrained(), "fp"))
}

func TestSelect_BudgetExhaustedDowngrades(t *testing.T) {
	s := newTestSelector(0)
	broke := BudgetState{MonthlyRemainingCents: 0}

	req := domain.AIRequest{UserID: "u1", Message: "brief me", Feature: domain.FeatureBriefing}
	assert.Equal(t, domain.FallbackModel, s.Select(req, domain.TierPro, broke, "fp"))

	// Image generation keeps its capability on downgrade.
	img := domain.AIRequest{UserID: "u1", Message: "a cat", Feature: domain.FeatureImageGeneration}
	assert.Equal(t, domain.ModelGeminiFlashImage, s.Select(img, domain.TierPro, broke, "fp"))
}

func TestSelect_ProviderCreditExhausted(t *testing.T) {
	s := newTestSelector(0)
	budget := BudgetState{
		Unlimited:                true,
		FreeCreditRemainingCents: map[string]int{domain.ProviderAnthropic: 0},
	}
	req := domain.AIRequest{UserID: "u1", Message: "brief me", Feature: domain.FeatureBriefing}
	assert.Equal(t, domain.FallbackModel, s.Select(req, domain.TierPro, budget, "fp"))

	// Other providers are unaffected.
	chat := domain.AIRequest{UserID: "u1", Message: "hi", Feature: domain.FeatureQuickChat}
	assert.Equal(t, domain.ModelGPT4oMini, s.Select(chat, domain.TierPro, budget, "fp"))
}

func TestSelect_ComplexityClassification(t *testing.T) {
	s := newTestSelector(0)

	low := domain.AIRequest{UserID: "u1", Message: "tldr please", Feature: domain.FeatureNoteSummary}
	assert.Equal(t, domain.ModelGPT4oMini, s.Select(low, domain.TierPro, unconstrained(), "fp"))

	medium := domain.AIRequest{UserID: "u1", Message: "analyze these notes", Feature: domain.FeatureNoteSummary}
	assert.Equal(t, domain.ModelClaudeHaiku, s.Select(medium, domain.TierPro, unconstrained(), "fp"))

	ctx := make([]domain.Message, 6)
	for i := range ctx {
		ctx[i] = domain.Message{Role: "user", Content: "earlier turn"}
	}
	high := domain.AIRequest{
		UserID:  "u1",
		Message: "analyze and compare the strategy options",
		Feature: domain.FeatureNoteSummary,
		Context: ctx,
	}
	assert.Equal(t, domain.ModelClaudeSonnet, s.Select(high, domain.TierPro, unconstrained(), "fp"))

	long := domain.AIRequest{
		UserID:  "u1",
		Message: strings.Repeat("meeting notes with plenty of detail ", 200),
		Feature: domain.FeatureNoteSummary,
	}
	assert.Equal(t, domain.ModelClaudeSonnet, s.Select(long, domain.TierPro, unconstrained(), "fp"))
}

func TestSelect_ComplexityRespectsBudget(t *testing.T) {
	s := newTestSelector(0)
	noAnthropic := BudgetState{
		Unlimited:                true,
		FreeCreditRemainingCents: map[string]int{domain.ProviderAnthropic: 0},
	}

	medium := domain.AIRequest{UserID: "u1", Message: "analyze these notes", Feature: domain.FeatureNoteSummary}
	assert.Equal(t, domain.ModelGPT4oMini, s.Select(medium, domain.TierPro, noAnthropic, "fp"))

	broke := BudgetState{MonthlyRemainingCents: 0}
	assert.Equal(t, domain.FallbackModel, s.Select(medium, domain.TierPro, broke, "fp"),
		"an exhausted monthly allowance forces the free model even off the cheap route")
}
