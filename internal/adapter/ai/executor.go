// Package ai wires provider adapters together behind the one-shot fallback
// chain.
package ai

import (
	"errors"
	"fmt"

	"log/slog"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// FallbackAnnotation is appended to modelUsed when the free-tier fallback
// produced the response.
const FallbackAnnotation = " (fallback)"

// Executor routes a selected model to its provider adapter and applies the
// single-level fallback: on adapter failure it makes exactly one additional
// synchronous attempt against the designated free-tier model. No further
// retries, no backoff.
type Executor struct {
	adapters      map[string]domain.ProviderAdapter
	catalog       map[domain.ModelID]domain.ModelDescriptor
	fallbackModel domain.ModelID
}

// NewExecutor builds an Executor over per-provider adapters.
func NewExecutor(adapters map[string]domain.ProviderAdapter, catalog map[domain.ModelID]domain.ModelDescriptor) *Executor {
	return &Executor{
		adapters:      adapters,
		catalog:       catalog,
		fallbackModel: domain.FallbackModel,
	}
}

// Execute runs the request against the model's provider. The returned
// modelUsed carries the fallback annotation when the fallback answered.
//
// Parse failures are a feature-contract violation, not a transient provider
// fault, so they surface directly without a fallback attempt.
func (e *Executor) Execute(ctx domain.Context, req domain.ProviderRequest) (domain.ProviderResult, string, error) {
	primary, provider, err := e.adapterFor(req.Model)
	if err != nil {
		return domain.ProviderResult{}, "", err
	}

	res, err := primary.Execute(ctx, req)
	if err == nil {
		return res, string(req.Model), nil
	}
	if errors.Is(err, domain.ErrResponseParse) || errors.Is(err, domain.ErrInvalidArgument) {
		return domain.ProviderResult{}, "", err
	}
	if req.Model == e.fallbackModel {
		// The fallback itself failed on the first attempt; nothing left to try.
		return domain.ProviderResult{}, "", fmt.Errorf("%w: fallback provider failed: %v", domain.ErrInternal, err)
	}

	observability.FallbackTotal.WithLabelValues(provider).Inc()
	observability.LoggerFromContext(ctx).Warn("provider failed, attempting free-tier fallback",
		slog.String("model", string(req.Model)),
		slog.String("provider", provider),
		slog.Any("error", err))

	fb, _, ferr := e.adapterFor(e.fallbackModel)
	if ferr != nil {
		return domain.ProviderResult{}, "", fmt.Errorf("%w: no fallback adapter: %v", domain.ErrInternal, err)
	}
	freq := req
	freq.Model = e.fallbackModel
	res, ferr = fb.Execute(ctx, freq)
	if ferr != nil {
		return domain.ProviderResult{}, "", fmt.Errorf("%w: primary and fallback failed: %v / %v", domain.ErrInternal, err, ferr)
	}
	return res, string(e.fallbackModel) + FallbackAnnotation, nil
}

func (e *Executor) adapterFor(model domain.ModelID) (domain.ProviderAdapter, string, error) {
	d, ok := e.catalog[model]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown model %q", domain.ErrInvalidArgument, model)
	}
	a, ok := e.adapters[d.Provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: no adapter for provider %q", domain.ErrInternal, d.Provider)
	}
	return a, d.Provider, nil
}
