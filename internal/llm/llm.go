// Package llm generates structured summaries and quality scores for articles
// through an OpenAI-compatible chat-completions endpoint.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hndaily/dailyfeed/internal/core/domain"
	"github.com/hndaily/dailyfeed/internal/platform/config"
)

// Summarization failure kinds. The orchestrator retries everything except
// ErrMissingAPIKey; parse and validation failures still consume an attempt.
var (
	// ErrMissingAPIKey indicates no credential is configured. Not retryable.
	ErrMissingAPIKey = errors.New("llm api key is not configured")

	// ErrRateLimited indicates the endpoint rejected the request with 429.
	ErrRateLimited = errors.New("llm rate limited")

	// ErrContextExceeded indicates the prompt exceeded the model context.
	ErrContextExceeded = errors.New("llm context length exceeded")

	// ErrAPIError indicates a generic non-2xx response.
	ErrAPIError = errors.New("llm api error")

	// ErrEmptyResponse indicates a 2xx response without content.
	ErrEmptyResponse = errors.New("llm returned empty response")

	// ErrMalformedResponse indicates content that is not parsable JSON.
	ErrMalformedResponse = errors.New("llm response is not valid JSON")

	// ErrInvalidResult indicates parsable JSON missing required fields.
	ErrInvalidResult = errors.New("llm response has invalid structure")
)

// Client produces a structured summary for one article.
type Client interface {
	Summarize(ctx context.Context, title, url, content string) (*domain.Summary, error)
}

// New returns the OpenAI-compatible client, or a deterministic mock when the
// API key is empty or "mock".
func New(cfg *config.Config, logger *zerolog.Logger) Client {
	if cfg.LLMAPIKey == "" || cfg.LLMAPIKey == "mock" {
		return &mockClient{cfg: cfg}
	}

	return newOpenAI(cfg, logger)
}

type mockClient struct {
	cfg *config.Config
}

func (c *mockClient) Summarize(_ context.Context, title, _, content string) (*domain.Summary, error) {
	// Deterministic output keyed off the input lengths.
	score := (len(title)*7 + len(content)) % 101

	return &domain.Summary{
		SummaryShort:    "Mock summary of: " + title,
		SummaryLong:     "Mock detailed summary. " + truncate(content, 120),
		RecommendReason: "Mock recommendation.",
		GlobalScore:     score,
		Tags:            []string{"mock", "tech"},
		Usage:           domain.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}

	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}

	return string(runes[:max]) + "..."
}
