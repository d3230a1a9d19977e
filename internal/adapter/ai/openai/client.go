// Package openai implements the provider adapter for the OpenAI chat
// completions API.
package openai

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

// Client implements domain.ProviderAdapter against an OpenAI-compatible
// chat completions endpoint.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

// New constructs a Client with the given credentials and timeout.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{apiKey: apiKey, baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Execute submits one normalized request and returns the normalized result.
func (c *Client) Execute(ctx domain.Context, req domain.ProviderRequest) (domain.ProviderResult, error) {
	if c.apiKey == "" {
		return domain.ProviderResult{}, fmt.Errorf("%w: OPENAI_API_KEY missing", domain.ErrInvalidArgument)
	}

	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for i, m := range req.Messages {
		// File payloads ride on the final user message as multimodal parts.
		if i == len(req.Messages)-1 && len(req.Files) > 0 && m.Role == "user" {
			parts := []contentPart{{Type: "text", Text: m.Content}}
			for _, f := range req.Files {
				parts = append(parts, contentPart{
					Type:     "image_url",
					ImageURL: &imageURL{URL: dataURL(f)},
				})
			}
			msgs = append(msgs, chatMessage{Role: m.Role, Content: parts})
			continue
		}
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := map[string]any{
		"model":      string(req.Model),
		"max_tokens": req.MaxTokens,
		"messages":   msgs,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=openai.encode: %w", err)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	start := time.Now()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=openai.request: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(r)
	observability.AIRequestsTotal.WithLabelValues(domain.ProviderOpenAI, "chat").Inc()
	observability.AIRequestDuration.WithLabelValues(domain.ProviderOpenAI, "chat").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: openai: %v", domain.ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: openai read: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bodyBytes)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("ai provider non-2xx",
			slog.String("provider", domain.ProviderOpenAI),
			slog.Int("status", resp.StatusCode),
			slog.String("model", string(req.Model)),
			slog.String("body", snippet))
		return domain.ProviderResult{}, fmt.Errorf("%w: openai status %d", domain.ErrProvider, resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: openai decode: %v", domain.ErrProvider, err)
	}
	if len(out.Choices) == 0 {
		return domain.ProviderResult{}, fmt.Errorf("%w: openai empty choices", domain.ErrProvider)
	}

	choice := out.Choices[0]
	confidence := 0.6
	if choice.FinishReason == "stop" {
		confidence = 0.9
	}
	res := domain.ProviderResult{
		Content:    choice.Message.Content,
		Confidence: confidence,
	}
	if out.Usage.PromptTokens > 0 || out.Usage.CompletionTokens > 0 {
		res.InputTokens = out.Usage.PromptTokens
		res.OutputTokens = out.Usage.CompletionTokens
		res.TokensReported = true
	} else {
		res.InputTokens = promptChars(req) / 4
		res.OutputTokens = len(choice.Message.Content) / 4
	}
	return res, nil
}

func dataURL(f domain.Attachment) string {
	return "data:" + f.MIME + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

func promptChars(req domain.ProviderRequest) int {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}
