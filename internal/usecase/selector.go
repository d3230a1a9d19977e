// Package usecase contains the dispatch orchestration: model selection,
// budget accounting, quota admission, caching and the usage ledger.
package usecase

import (
	"hash/fnv"
	"strings"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// BudgetState is the spend picture the selector downgrades against.
// MonthlyRemainingCents is meaningless when Unlimited is true.
type BudgetState struct {
	Unlimited             bool
	MonthlyRemainingCents int
	// FreeCreditRemainingCents tracks the per-provider promotional credit
	// pool, keyed by provider name.
	FreeCreditRemainingCents map[string]int
}

// MonthlyExhausted reports whether the user has no monthly allowance left.
func (b BudgetState) MonthlyExhausted() bool {
	return !b.Unlimited && b.MonthlyRemainingCents <= 0
}

// CreditExhausted reports whether a provider's free-credit pool is spent.
// Providers absent from the map are unconstrained.
func (b BudgetState) CreditExhausted(provider string) bool {
	rem, ok := b.FreeCreditRemainingCents[provider]
	return ok && rem <= 0
}

// routes is the static preferred-model table per feature. Features absent
// here go through complexity classification instead.
var routes = map[domain.FeatureType]domain.ModelID{
	domain.FeatureQuickChat:       domain.ModelGPT4oMini,
	domain.FeatureTaskParsing:     domain.ModelGPT4oMini,
	domain.FeatureVisionOCR:       domain.ModelGPT4oMini,
	domain.FeatureNoteGeneration:  domain.ModelClaudeSonnet,
	domain.FeatureBriefing:        domain.ModelClaudeSonnet,
	domain.FeatureMindMap:         domain.ModelClaudeSonnet,
	domain.FeatureResearch:        domain.ModelSonar,
	domain.FeatureImageGeneration: domain.ModelGeminiFlashImage,
}

// reasoningKeywords mark a message as requiring deeper reasoning during
// complexity classification.
var reasoningKeywords = []string{"analyze", "compare", "explain why", "strategy", "plan"}

// Selector picks the model for a request. It is pure routing policy: it
// never contacts a provider and never errors.
type Selector struct {
	catalog          map[domain.ModelID]domain.ModelDescriptor
	counter          *tokencount.Counter
	diversionPercent int
}

// NewSelector builds a Selector.
func NewSelector(catalog map[domain.ModelID]domain.ModelDescriptor, counter *tokencount.Counter, diversionPercent int) *Selector {
	return &Selector{catalog: catalog, counter: counter, diversionPercent: diversionPercent}
}

// Select resolves the model for a request given the user's tier and budget
// state. The fingerprint drives the deterministic free-tier diversion: the
// same request always lands on the same side of the coin.
func (s *Selector) Select(req domain.AIRequest, tier domain.Tier, budget BudgetState, fingerprint string) domain.ModelID {
	model, routed := routes[req.Feature]
	if !routed {
		model = s.classify(req, budget)
	}

	// Premium routes are conditioned on a paying tier.
	if tier == domain.TierFree && model == domain.ModelClaudeSonnet {
		model = domain.ModelGPT4oMini
	}

	// Deterministic free-tier diversion toward the zero-cost provider.
	// Requests already on a free model are left alone so capability-bound
	// routes (image generation) are not disturbed.
	if tier == domain.TierFree && !s.isFree(model) && hashPercent(fingerprint) < s.diversionPercent {
		model = domain.FallbackModel
	}

	return s.downgrade(model, budget)
}

// downgrade applies the budget-aware override: exhausted monthly allowance or
// exhausted provider credit forces the free alternative, preserving image
// generation capability.
func (s *Selector) downgrade(model domain.ModelID, budget BudgetState) domain.ModelID {
	if s.isFree(model) {
		return model
	}
	d, ok := s.catalog[model]
	if !ok {
		return domain.FallbackModel
	}
	if budget.MonthlyExhausted() || budget.CreditExhausted(d.Provider) {
		if d.ImageGen {
			return domain.ModelGeminiFlashImage
		}
		return domain.FallbackModel
	}
	return model
}

// classify routes features without a table entry by message complexity.
func (s *Selector) classify(req domain.AIRequest, budget BudgetState) domain.ModelID {
	est := s.counter.CountText(req.Message, string(domain.ModelGPT4oMini))
	msg := strings.ToLower(req.Message)
	keyworded := false
	for _, kw := range reasoningKeywords {
		if strings.Contains(msg, kw) {
			keyworded = true
			break
		}
	}
	deepContext := len(req.Context) > 5

	switch {
	case est > 1000 || (keyworded && deepContext):
		if budget.MonthlyExhausted() || budget.CreditExhausted(domain.ProviderAnthropic) {
			return domain.FallbackModel
		}
		return domain.ModelClaudeSonnet
	case keyworded || deepContext || est > 300:
		if budget.MonthlyExhausted() || budget.CreditExhausted(domain.ProviderAnthropic) {
			return domain.ModelGPT4oMini
		}
		return domain.ModelClaudeHaiku
	default:
		return domain.ModelGPT4oMini
	}
}

func (s *Selector) isFree(model domain.ModelID) bool {
	d, ok := s.catalog[model]
	return ok && d.FreeTier
}

// hashPercent maps a fingerprint onto [0,100) via FNV-1a.
func hashPercent(fingerprint string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	return int(h.Sum32() % 100)
}
