package domain

// ModelID identifies a routable model SKU. The set is closed so the routing
// table and rate table can be checked for exhaustiveness.
type ModelID string

const (
	ModelGPT4oMini        ModelID = "gpt-4o-mini"
	ModelClaudeSonnet     ModelID = "claude-3.5-sonnet"
	ModelClaudeHaiku      ModelID = "claude-3.5-haiku"
	ModelSonar            ModelID = "sonar"
	ModelGeminiFlash      ModelID = "gemini-2.0-flash"
	ModelGeminiFlashImage ModelID = "gemini-2.0-flash-image"
)

// Provider names as used by adapter registration and free-credit accounting.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderPerplexity = "perplexity"
)

// ModelDescriptor is static, read-only model configuration. Rates are dollars
// per million tokens, input and output priced independently.
type ModelDescriptor struct {
	ID            ModelID `yaml:"id"`
	Provider      string  `yaml:"provider"`
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
	Vision        bool    `yaml:"vision"`
	Search        bool    `yaml:"search"`
	ImageGen      bool    `yaml:"image_gen"`
	Reliability   float64 `yaml:"reliability"`
	ContextWindow int     `yaml:"context_window"`
	FreeTier      bool    `yaml:"free_tier"`
}

// Catalog is the built-in model table. A YAML override file may replace
// individual entries at startup; the catalog never changes at runtime.
func Catalog() map[ModelID]ModelDescriptor {
	return map[ModelID]ModelDescriptor{
		ModelGPT4oMini: {
			ID: ModelGPT4oMini, Provider: ProviderOpenAI,
			InputPerMTok: 0.15, OutputPerMTok: 0.60,
			Vision: true, Reliability: 0.98, ContextWindow: 128000,
		},
		ModelClaudeSonnet: {
			ID: ModelClaudeSonnet, Provider: ProviderAnthropic,
			InputPerMTok: 3.00, OutputPerMTok: 15.00,
			Vision: true, Reliability: 0.97, ContextWindow: 200000,
		},
		ModelClaudeHaiku: {
			ID: ModelClaudeHaiku, Provider: ProviderAnthropic,
			InputPerMTok: 0.80, OutputPerMTok: 4.00,
			Vision: true, Reliability: 0.97, ContextWindow: 200000,
		},
		ModelSonar: {
			ID: ModelSonar, Provider: ProviderPerplexity,
			InputPerMTok: 1.00, OutputPerMTok: 1.00,
			Search: true, Reliability: 0.94, ContextWindow: 127000,
		},
		ModelGeminiFlash: {
			ID: ModelGeminiFlash, Provider: ProviderGemini,
			InputPerMTok: 0, OutputPerMTok: 0,
			Vision: true, Reliability: 0.95, ContextWindow: 1000000, FreeTier: true,
		},
		ModelGeminiFlashImage: {
			ID: ModelGeminiFlashImage, Provider: ProviderGemini,
			InputPerMTok: 0, OutputPerMTok: 0,
			ImageGen: true, Reliability: 0.93, ContextWindow: 32000, FreeTier: true,
		},
	}
}

// FallbackModel is the designated always-available free-tier model used for
// the one-shot fallback chain and budget downgrades.
const FallbackModel = ModelGeminiFlash
