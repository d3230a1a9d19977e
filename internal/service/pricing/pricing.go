// Package pricing computes per-request cost estimates from token counts and
// the static model rate table.
package pricing

import (
	"math"
	"strings"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// Default rate applied when a model name cannot be canonicalized. Costs are
// estimates; an unknown model must never fail the request.
const (
	defaultInputPerMTok  = 1.00
	defaultOutputPerMTok = 2.00
)

// Input/output split assumed when a provider reports only a combined total.
const (
	inputShare  = 0.30
	outputShare = 0.70
)

// Table resolves model names to rates and computes costs.
type Table struct {
	catalog map[domain.ModelID]domain.ModelDescriptor
}

// NewTable builds a pricing table over the given model catalog.
func NewTable(catalog map[domain.ModelID]domain.ModelDescriptor) *Table {
	return &Table{catalog: catalog}
}

// Canonicalize maps a raw model name, including provider-prefixed and
// suffixed variants, onto a catalog ModelID. The bool result is false when no
// rule matched and the default rate applies.
func Canonicalize(model string) (domain.ModelID, bool) {
	m := strings.ToLower(model)
	// Strip provider prefixes such as "openai/gpt-4o-mini".
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	switch {
	case strings.Contains(m, "gpt-4o") && strings.Contains(m, "mini"):
		return domain.ModelGPT4oMini, true
	case strings.Contains(m, "claude-3.5") && strings.Contains(m, "haiku"):
		return domain.ModelClaudeHaiku, true
	case strings.Contains(m, "claude") && strings.Contains(m, "sonnet"):
		return domain.ModelClaudeSonnet, true
	case strings.Contains(m, "sonar"):
		return domain.ModelSonar, true
	case strings.Contains(m, "gemini") && strings.Contains(m, "image"):
		return domain.ModelGeminiFlashImage, true
	case strings.Contains(m, "gemini"):
		return domain.ModelGeminiFlash, true
	}
	return "", false
}

// Rates returns dollars-per-million-token input/output rates for a model name.
func (t *Table) Rates(model string) (inPerMTok, outPerMTok float64) {
	if id, ok := Canonicalize(model); ok {
		if d, ok := t.catalog[id]; ok {
			return d.InputPerMTok, d.OutputPerMTok
		}
	}
	return defaultInputPerMTok, defaultOutputPerMTok
}

// CostCents computes the cost of a call in cents, rounded to the nearest
// cent, with input and output tokens priced independently.
func (t *Table) CostCents(model string, inputTokens, outputTokens int) int {
	inRate, outRate := t.Rates(model)
	dollars := float64(inputTokens)/1e6*inRate + float64(outputTokens)/1e6*outRate
	return int(math.Round(dollars * 100))
}

// SplitTotal divides a combined token count into input/output shares using
// the 30/70 assumption.
func SplitTotal(total int) (inputTokens, outputTokens int) {
	inputTokens = int(math.Round(float64(total) * inputShare))
	outputTokens = total - inputTokens
	return inputTokens, outputTokens
}

// CostCentsFromTotal prices a combined token count via SplitTotal.
func (t *Table) CostCentsFromTotal(model string, totalTokens int) int {
	in, out := SplitTotal(totalTokens)
	return t.CostCents(model, in, out)
}

// Provider returns the owning provider for a model name, or empty when the
// name cannot be canonicalized.
func (t *Table) Provider(model string) string {
	if id, ok := Canonicalize(model); ok {
		if d, ok := t.catalog[id]; ok {
			return d.Provider
		}
	}
	return ""
}
