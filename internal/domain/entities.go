// Package domain holds the core entities, closed enumerations and ports of
// the AI request dispatcher.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrProvider        = errors.New("provider failure")
	ErrResponseParse   = errors.New("response parse failure")
	ErrDecryptFailed   = errors.New("decrypt failed")
	ErrInternal        = errors.New("internal error")
)

// FeatureType is the closed category of request driving routing and cache TTL.
type FeatureType string

const (
	FeatureQuickChat       FeatureType = "quick_chat"
	FeatureTaskParsing     FeatureType = "task_parsing"
	FeatureVisionOCR       FeatureType = "vision_ocr"
	FeatureResearch        FeatureType = "research_with_sources"
	FeatureBriefing        FeatureType = "strategic_briefing"
	FeatureNoteGeneration  FeatureType = "note_generation"
	FeatureNoteSummary     FeatureType = "note_summary"
	FeatureMindMap         FeatureType = "mind_map"
	FeatureImageGeneration FeatureType = "image_generation"
)

// KnownFeature reports whether f is one of the closed feature variants.
func KnownFeature(f FeatureType) bool {
	switch f {
	case FeatureQuickChat, FeatureTaskParsing, FeatureVisionOCR, FeatureResearch,
		FeatureBriefing, FeatureNoteGeneration, FeatureNoteSummary, FeatureMindMap,
		FeatureImageGeneration:
		return true
	}
	return false
}

// Priority of a request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Tier is the subscription level determining quota limits and cost ceiling.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

// Message is one turn of conversation history in the shared representation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is an inline file payload accompanying a vision request.
type Attachment struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// MaxContextMessages caps the conversation history carried into a request.
const MaxContextMessages = 10

// AIRequest is a single-use dispatch request.
type AIRequest struct {
	UserID   string
	Message  string
	Feature  FeatureType
	Priority Priority
	Context  []Message
	Files    []Attachment
	// Metadata carries optional structured profile/goal/task/note context.
	Metadata map[string]string
}

// RecentContext returns the most recent MaxContextMessages entries.
func (r AIRequest) RecentContext() []Message {
	if len(r.Context) <= MaxContextMessages {
		return r.Context
	}
	return r.Context[len(r.Context)-MaxContextMessages:]
}

// Citation is a structured source reference extracted from provider output.
type Citation struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// AIResponse is the normalized result returned to callers.
type AIResponse struct {
	Content    string     `json:"content"`
	ModelUsed  string     `json:"model_used"`
	TokensUsed int        `json:"tokens_used"`
	CostCents  int        `json:"cost_cents"`
	Confidence float64    `json:"confidence"`
	Sources    []Citation `json:"sources,omitempty"`
	CacheHit   bool       `json:"cache_hit"`
}

// Profile is the cached slice of a user's account used for admission.
type Profile struct {
	Tier       Tier
	DailyCount int
}

// UsageRecord is one append-only ledger entry per completed request.
type UsageRecord struct {
	ID           string
	UserID       string
	Model        string
	Feature      FeatureType
	InputTokens  int
	OutputTokens int
	CostCents    int
	LatencyMS    int64
	CacheHit     bool
	CreatedAt    time.Time
}

// Ports

// ProfileStore reads and mutates user profiles in the external store.
// TryConsumeDaily must be atomic: at most limit admissions succeed per UTC day
// regardless of concurrency. It returns the post-increment count on success.
type ProfileStore interface {
	GetProfile(ctx Context, userID string) (Profile, error)
	TryConsumeDaily(ctx Context, userID string, limit int) (bool, int, error)
}

// UsageStore appends usage records and aggregates spend for budget decisions.
type UsageStore interface {
	LogUsage(ctx Context, rec UsageRecord) error
	SumCostCents(ctx Context, userID string, since time.Time) (int, error)
	SumCostCentsForModel(ctx Context, userID, model string, since time.Time) (int, error)
}

// ResponseCache stores previously computed responses by fingerprint.
// Implementations evict lazily: an expired entry is removed when read.
type ResponseCache interface {
	Get(ctx Context, key string) (AIResponse, bool, error)
	Set(ctx Context, key string, resp AIResponse, ttl time.Duration) error
}

// ProviderRequest is the normalized shape handed to a provider adapter.
type ProviderRequest struct {
	Model     ModelID
	System    string
	Messages  []Message
	Files     []Attachment
	MaxTokens int
}

// ProviderResult is what every adapter normalizes its provider's reply into.
// TokensReported is false when the provider returned no usage block and the
// token counts are character-length estimates.
type ProviderResult struct {
	Content        string
	InputTokens    int
	OutputTokens   int
	TokensReported bool
	Confidence     float64
	Sources        []Citation
}

// ProviderAdapter submits one normalized request to a concrete backend.
type ProviderAdapter interface {
	Execute(ctx Context, req ProviderRequest) (ProviderResult, error)
}

// UsagePublisher streams usage records to downstream consumers, best effort.
type UsagePublisher interface {
	PublishUsage(ctx Context, rec UsageRecord) error
}

// StoredMessage is an encrypted, persisted conversation message.
type StoredMessage struct {
	ID         string
	UserID     string
	Role       string
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  time.Time
}

// MessageStore persists encrypted conversation messages.
type MessageStore interface {
	SaveMessage(ctx Context, m StoredMessage) (string, error)
	ListMessages(ctx Context, userID string, limit int) ([]StoredMessage, error)
}

// Context is an alias to decouple the domain package from std context in
// signatures; adapters and usecases pass context.Context through.
type Context = context.Context
