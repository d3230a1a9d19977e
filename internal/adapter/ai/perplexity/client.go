// Package perplexity implements the provider adapter for the Perplexity
// search-grounded chat API, including citation extraction.
package perplexity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"log/slog"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// Client implements domain.ProviderAdapter against the Perplexity
// OpenAI-compatible chat endpoint.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

// New constructs a Client with the given credentials and timeout.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{apiKey: apiKey, baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

// citationMarker matches inline source markers of the form "[n] <url>".
var citationMarker = regexp.MustCompile(`\[(\d+)\]\s*(https?://\S+)`)

// ExtractCitations scans raw provider text for "[n] <url>" markers and
// returns them as a structured list, deduplicated by index.
func ExtractCitations(text string) []domain.Citation {
	matches := citationMarker.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(matches))
	out := make([]domain.Citation, 0, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, domain.Citation{Index: idx, URL: m[2]})
	}
	return out
}

// Execute submits one normalized request and extracts citations from the
// answer text.
func (c *Client) Execute(ctx domain.Context, req domain.ProviderRequest) (domain.ProviderResult, error) {
	if c.apiKey == "" {
		return domain.ProviderResult{}, fmt.Errorf("%w: PERPLEXITY_API_KEY missing", domain.ErrInvalidArgument)
	}

	type chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := map[string]any{
		"model":      string(req.Model),
		"max_tokens": req.MaxTokens,
		"messages":   msgs,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=perplexity.encode: %w", err)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
		Usage     struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	start := time.Now()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=perplexity.request: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(r)
	observability.AIRequestsTotal.WithLabelValues(domain.ProviderPerplexity, "chat").Inc()
	observability.AIRequestDuration.WithLabelValues(domain.ProviderPerplexity, "chat").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: perplexity: %v", domain.ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: perplexity read: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bodyBytes)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("ai provider non-2xx",
			slog.String("provider", domain.ProviderPerplexity),
			slog.Int("status", resp.StatusCode),
			slog.String("model", string(req.Model)),
			slog.String("body", snippet))
		return domain.ProviderResult{}, fmt.Errorf("%w: perplexity status %d", domain.ErrProvider, resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: perplexity decode: %v", domain.ErrProvider, err)
	}
	if len(out.Choices) == 0 {
		return domain.ProviderResult{}, fmt.Errorf("%w: perplexity empty choices", domain.ErrProvider)
	}

	text := out.Choices[0].Message.Content
	sources := ExtractCitations(text)
	// Newer API revisions return a citations array alongside the text; merge
	// URLs not already present from inline markers.
	if len(out.Citations) > 0 {
		have := make(map[string]bool, len(sources))
		for _, s := range sources {
			have[s.URL] = true
		}
		next := len(sources) + 1
		for _, u := range out.Citations {
			if have[u] {
				continue
			}
			sources = append(sources, domain.Citation{Index: next, URL: u})
			next++
		}
	}

	confidence := 0.8
	if len(sources) > 0 {
		confidence = 0.9
	}
	res := domain.ProviderResult{
		Content:    text,
		Confidence: confidence,
		Sources:    sources,
	}
	if out.Usage.PromptTokens > 0 || out.Usage.CompletionTokens > 0 {
		res.InputTokens = out.Usage.PromptTokens
		res.OutputTokens = out.Usage.CompletionTokens
		res.TokensReported = true
	} else {
		n := len(req.System)
		for _, m := range req.Messages {
			n += len(m.Content)
		}
		res.InputTokens = n / 4
		res.OutputTokens = len(text) / 4
	}
	return res, nil
}
