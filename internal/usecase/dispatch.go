package usecase

import (
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/internal/service/msgvault"
	"github.com/prxatt/kiro-ai-gateway/internal/service/pricing"
	"github.com/prxatt/kiro-ai-gateway/internal/service/profilecache"
	"github.com/prxatt/kiro-ai-gateway/internal/service/quota"
	"github.com/prxatt/kiro-ai-gateway/internal/service/respcache"
)

// modelExecutor is the slice of the provider executor the dispatcher needs.
type modelExecutor interface {
	Execute(ctx domain.Context, req domain.ProviderRequest) (domain.ProviderResult, string, error)
}

// Dispatcher is the end-to-end orchestrator: admission, cache, selection,
// execution, costing and ledger, in that order.
type Dispatcher struct {
	profiles *profilecache.Cache
	store    domain.ProfileStore
	cache    domain.ResponseCache
	selector *Selector
	budgeter *Budgeter
	executor modelExecutor
	pricing  *pricing.Table
	counter  *tokencount.Counter
	ledger   *Ledger
	vault    *msgvault.Vault

	maxTokens int
	now       func() time.Time
}

// NewDispatcher wires the orchestrator.
func NewDispatcher(
	profiles *profilecache.Cache,
	store domain.ProfileStore,
	cache domain.ResponseCache,
	selector *Selector,
	budgeter *Budgeter,
	executor modelExecutor,
	table *pricing.Table,
	counter *tokencount.Counter,
	ledger *Ledger,
	maxTokens int,
) *Dispatcher {
	return &Dispatcher{
		profiles:  profiles,
		store:     store,
		cache:     cache,
		selector:  selector,
		budgeter:  budgeter,
		executor:  executor,
		pricing:   table,
		counter:   counter,
		ledger:    ledger,
		maxTokens: maxTokens,
		now:       time.Now,
	}
}

// WithVault enables encrypted conversation archiving. Optional: without it,
// dispatches are stateless.
func (d *Dispatcher) WithVault(v *msgvault.Vault) *Dispatcher {
	d.vault = v
	return d
}

// systemPrompts per feature. The prompt is part of the provider request but
// deliberately not part of the cache fingerprint: changing a prompt rolls
// out gradually as entries expire.
var systemPrompts = map[domain.FeatureType]string{
	domain.FeatureQuickChat:       "You are a concise, helpful assistant. Answer directly.",
	domain.FeatureTaskParsing:     "Extract actionable tasks from the user's text. Respond with a JSON array of {title, due_date, priority} objects and nothing else.",
	domain.FeatureVisionOCR:       "Extract all legible text and structure from the attached image. Respond with a JSON object {text, fields} and nothing else.",
	domain.FeatureResearch:        "Research the user's question using current sources. Cite every claim with [n] <url> markers.",
	domain.FeatureBriefing:        "Produce a strategic briefing: situation, key risks, recommended actions. Be specific and prioritized.",
	domain.FeatureNoteGeneration:  "Write well-structured notes from the user's input. Use headings and bullet points.",
	domain.FeatureNoteSummary:     "Summarize the provided notes faithfully. Keep all concrete facts, drop filler.",
	domain.FeatureMindMap:         "Convert the user's input into a mind map. Respond with a JSON object {root, children:[...]} and nothing else.",
	domain.FeatureImageGeneration: "Generate an image matching the user's description.",
}

// Dispatch runs one request through the full pipeline and returns the
// normalized response. Cache hits return without touching quota or budget.
func (d *Dispatcher) Dispatch(ctx domain.Context, req domain.AIRequest) (domain.AIResponse, error) {
	log := observability.LoggerFromContext(ctx)

	if err := validate(req); err != nil {
		return domain.AIResponse{}, err
	}

	fp := respcache.Fingerprint(req)
	start := d.now()

	if cached, ok, err := d.cache.Get(ctx, fp); err != nil {
		log.Warn("response cache read failed", slog.Any("error", err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(string(req.Feature)).Inc()
		observability.DispatchTotal.WithLabelValues(string(req.Feature), "cache_hit").Inc()
		cached.CacheHit = true
		d.ledger.Record(ctx, d.usageRecord(req, cached, start))
		return cached, nil
	}

	profile, err := d.profiles.Get(ctx, req.UserID)
	if err != nil {
		return domain.AIResponse{}, err
	}

	limit := quota.DailyLimit(profile.Tier)
	if !quota.Allowed(profile.Tier, profile.DailyCount) {
		observability.QuotaRejectedTotal.WithLabelValues(string(profile.Tier)).Inc()
		observability.DispatchTotal.WithLabelValues(string(req.Feature), "quota_rejected").Inc()
		return domain.AIResponse{}, fmt.Errorf("%w: daily limit %d reached", domain.ErrQuotaExceeded, limit)
	}

	budget := d.budgeter.StateFor(ctx, req.UserID, profile.Tier)
	model := d.selector.Select(req, profile.Tier, budget, fp)

	// Authoritative admission: the store-level conditional increment closes
	// the check/increment race between concurrent requests.
	admitted, newCount, err := d.store.TryConsumeDaily(ctx, req.UserID, limit)
	if err != nil {
		return domain.AIResponse{}, fmt.Errorf("op=dispatch.consume: %w", err)
	}
	if !admitted {
		observability.QuotaRejectedTotal.WithLabelValues(string(profile.Tier)).Inc()
		observability.DispatchTotal.WithLabelValues(string(req.Feature), "quota_rejected").Inc()
		return domain.AIResponse{}, fmt.Errorf("%w: daily limit %d reached", domain.ErrQuotaExceeded, limit)
	}
	d.profiles.UpdateCount(req.UserID, newCount)

	hist := req.RecentContext()
	msgs := make([]domain.Message, 0, len(hist)+1)
	msgs = append(msgs, hist...)
	msgs = append(msgs, domain.Message{Role: "user", Content: req.Message})
	preq := domain.ProviderRequest{
		Model:     model,
		System:    systemPrompts[req.Feature],
		Messages:  msgs,
		Files:     req.Files,
		MaxTokens: d.maxTokens,
	}
	result, modelUsed, err := d.executor.Execute(ctx, preq)
	if err != nil {
		observability.DispatchTotal.WithLabelValues(string(req.Feature), "error").Inc()
		return domain.AIResponse{}, err
	}

	content, err := ensureStructured(req.Feature, result.Content)
	if err != nil {
		observability.DispatchTotal.WithLabelValues(string(req.Feature), "parse_error").Inc()
		return domain.AIResponse{}, err
	}

	canonical := strings.TrimSuffix(modelUsed, ai.FallbackAnnotation)
	inTokens, outTokens := result.InputTokens, result.OutputTokens
	if !result.TokensReported {
		inTokens = d.counter.CountMessages(preq.System, preq.Messages, canonical)
		outTokens = d.counter.CountText(content, canonical)
	}

	resp := domain.AIResponse{
		Content:    content,
		ModelUsed:  modelUsed,
		TokensUsed: inTokens + outTokens,
		CostCents:  d.pricing.CostCents(canonical, inTokens, outTokens),
		Confidence: result.Confidence,
		Sources:    result.Sources,
	}

	if err := d.cache.Set(ctx, fp, resp, respcache.TTLFor(req.Feature)); err != nil {
		log.Warn("response cache write failed", slog.Any("error", err))
	}

	rec := d.usageRecord(req, resp, start)
	rec.InputTokens = inTokens
	rec.OutputTokens = outTokens
	d.ledger.Record(ctx, rec)

	if d.vault != nil {
		d.vault.Archive(ctx, req.UserID, "user", req.Message)
		d.vault.Archive(ctx, req.UserID, "assistant", content)
	}

	observability.DispatchTotal.WithLabelValues(string(req.Feature), "ok").Inc()
	return resp, nil
}

// usageRecord builds the ledger entry for a completed request. Cache hits
// carry zero cost: the spend happened when the entry was first produced.
func (d *Dispatcher) usageRecord(req domain.AIRequest, resp domain.AIResponse, start time.Time) domain.UsageRecord {
	cost := resp.CostCents
	if resp.CacheHit {
		cost = 0
	}
	return domain.UsageRecord{
		ID:        ulid.Make().String(),
		UserID:    req.UserID,
		Model:     resp.ModelUsed,
		Feature:   req.Feature,
		CostCents: cost,
		LatencyMS: d.now().Sub(start).Milliseconds(),
		CacheHit:  resp.CacheHit,
		CreatedAt: d.now(),
	}
}

func validate(req domain.AIRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if !domain.KnownFeature(req.Feature) {
		return fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidArgument, req.Feature)
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Files) == 0 {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidArgument)
	}
	return nil
}
