// Package llm consumes the language-model collaborator as an opaque
// completion capability. Output is nondeterministic; callers must not build
// correctness on exact text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kediaman/orchestrator/internal/tracing"
)

// Client is the completion capability consumed by the classifier and
// the synthesizer.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionRequest carries a prompt and generation constraints.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

// CompletionResponse is the model's reply plus accounting.
type CompletionResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
}

// Config controls the HTTP completion client.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// HTTPClient talks to the LLM service over its /completions/ endpoint.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

// NewHTTPClient builds a completion client against the LLM service.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	url := fmt.Sprintf("%s/completions/", c.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, err := json.Marshal(req)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return CompletionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CompletionResponse{}, fmt.Errorf("completion http status %d", resp.StatusCode)
	}

	var out CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CompletionResponse{}, fmt.Errorf("decode completion response: %w", err)
	}
	return out, nil
}
