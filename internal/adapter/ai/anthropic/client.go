// Package anthropic implements the provider adapter for the Anthropic
// messages API.
package anthropic

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

const apiVersion = "2023-06-01"

// Client implements domain.ProviderAdapter against the Anthropic messages
// endpoint.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

// New constructs a Client with the given credentials and timeout.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{apiKey: apiKey, baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Execute submits one normalized request and returns the normalized result.
// The shared history is converted to Anthropic's shape: the system prompt is
// a top-level field and file payloads become base64 image source blocks.
func (c *Client) Execute(ctx domain.Context, req domain.ProviderRequest) (domain.ProviderResult, error) {
	if c.apiKey == "" {
		return domain.ProviderResult{}, fmt.Errorf("%w: ANTHROPIC_API_KEY missing", domain.ErrInvalidArgument)
	}

	msgs := make([]message, 0, len(req.Messages))
	for i, m := range req.Messages {
		role := m.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		if i == len(req.Messages)-1 && len(req.Files) > 0 && role == "user" {
			blocks := []contentBlock{{Type: "text", Text: m.Content}}
			for _, f := range req.Files {
				blocks = append(blocks, contentBlock{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: f.MIME,
						Data:      base64.StdEncoding.EncodeToString(f.Data),
					},
				})
			}
			msgs = append(msgs, message{Role: role, Content: blocks})
			continue
		}
		msgs = append(msgs, message{Role: role, Content: m.Content})
	}

	body := map[string]any{
		"model":      string(req.Model),
		"max_tokens": req.MaxTokens,
		"messages":   msgs,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=anthropic.encode: %w", err)
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	start := time.Now()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(b))
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=anthropic.request: %w", err)
	}
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", apiVersion)
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(r)
	observability.AIRequestsTotal.WithLabelValues(domain.ProviderAnthropic, "messages").Inc()
	observability.AIRequestDuration.WithLabelValues(domain.ProviderAnthropic, "messages").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: anthropic: %v", domain.ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: anthropic read: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bodyBytes)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("ai provider non-2xx",
			slog.String("provider", domain.ProviderAnthropic),
			slog.Int("status", resp.StatusCode),
			slog.String("model", string(req.Model)),
			slog.String("body", snippet))
		return domain.ProviderResult{}, fmt.Errorf("%w: anthropic status %d", domain.ErrProvider, resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: anthropic decode: %v", domain.ErrProvider, err)
	}

	var text string
	for _, blk := range out.Content {
		if blk.Type == "text" {
			text += blk.Text
		}
	}
	if text == "" {
		return domain.ProviderResult{}, fmt.Errorf("%w: anthropic empty content", domain.ErrProvider)
	}

	confidence := 0.6
	if out.StopReason == "end_turn" {
		confidence = 0.9
	}
	res := domain.ProviderResult{Content: text, Confidence: confidence}
	if out.Usage.InputTokens > 0 || out.Usage.OutputTokens > 0 {
		res.InputTokens = out.Usage.InputTokens
		res.OutputTokens = out.Usage.OutputTokens
		res.TokensReported = true
	} else {
		res.InputTokens = promptChars(req) / 4
		res.OutputTokens = len(text) / 4
	}
	return res, nil
}

func promptChars(req domain.ProviderRequest) int {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}
