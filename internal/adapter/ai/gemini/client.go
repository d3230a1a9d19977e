// Package gemini implements the provider adapter for the Google Gemini
// generateContent API. It is the designated always-available free-tier
// backend used by the fallback chain.
package gemini

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

// Client implements domain.ProviderAdapter against the Gemini REST API.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

// New constructs a Client with the given credentials and timeout.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{apiKey: apiKey, baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// Execute submits one normalized request. Gemini uses alternating
// user/model contents; assistant turns are mapped to role "model" and file
// payloads become inline_data parts on the final user turn.
func (c *Client) Execute(ctx domain.Context, req domain.ProviderRequest) (domain.ProviderResult, error) {
	if c.apiKey == "" {
		return domain.ProviderResult{}, fmt.Errorf("%w: GEMINI_API_KEY missing", domain.ErrInvalidArgument)
	}

	contents := make([]content, 0, len(req.Messages))
	for i, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		parts := []part{{Text: m.Content}}
		if i == len(req.Messages)-1 && len(req.Files) > 0 && role == "user" {
			for _, f := range req.Files {
				parts = append(parts, part{InlineData: &inlineData{
					MIMEType: f.MIME,
					Data:     base64.StdEncoding.EncodeToString(f.Data),
				}})
			}
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"maxOutputTokens": req.MaxTokens,
		},
	}
	if req.System != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: req.System}}}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=gemini.encode: %w", err)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Model, c.apiKey)
	start := time.Now()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("op=gemini.request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(r)
	observability.AIRequestsTotal.WithLabelValues(domain.ProviderGemini, "generate").Inc()
	observability.AIRequestDuration.WithLabelValues(domain.ProviderGemini, "generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: gemini: %v", domain.ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: gemini read: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bodyBytes)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("ai provider non-2xx",
			slog.String("provider", domain.ProviderGemini),
			slog.Int("status", resp.StatusCode),
			slog.String("model", string(req.Model)),
			slog.String("body", snippet))
		return domain.ProviderResult{}, fmt.Errorf("%w: gemini status %d", domain.ErrProvider, resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return domain.ProviderResult{}, fmt.Errorf("%w: gemini decode: %v", domain.ErrProvider, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return domain.ProviderResult{}, fmt.Errorf("%w: gemini empty candidates", domain.ErrProvider)
	}

	var text string
	for _, p := range out.Candidates[0].Content.Parts {
		text += p.Text
	}

	confidence := 0.6
	if out.Candidates[0].FinishReason == "STOP" {
		confidence = 0.85
	}
	res := domain.ProviderResult{Content: text, Confidence: confidence}
	if out.UsageMetadata.PromptTokenCount > 0 || out.UsageMetadata.CandidatesTokenCount > 0 {
		res.InputTokens = out.UsageMetadata.PromptTokenCount
		res.OutputTokens = out.UsageMetadata.CandidatesTokenCount
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
