package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hndaily/dailyfeed/internal/core/domain"
	"github.com/hndaily/dailyfeed/internal/platform/config"
	"github.com/hndaily/dailyfeed/internal/platform/observability"
)

const rateLimiterBurst = 5

type openaiClient struct {
	cfg         *config.Config
	client      *openai.Client
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter
}

func newOpenAI(cfg *config.Config, logger *zerolog.Logger) Client {
	clientConfig := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		clientConfig.BaseURL = cfg.LLMBaseURL
	}

	return &openaiClient{
		cfg:         cfg,
		client:      openai.NewClientWithConfig(clientConfig),
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.LLMRateLimitRPS), rateLimiterBurst),
	}
}

// Summarize sends one summarization request and validates the structured
// result. Retrying is the caller's responsibility.
func (c *openaiClient) Summarize(ctx context.Context, title, articleURL, content string) (*domain.Summary, error) {
	if c.cfg.LLMAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()

	// The orchestrator already caps fetched content; cap again here so an
	// oversized caller input can never reach the endpoint.
	content = truncate(content, c.cfg.MaxArticleChars)

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(title, extractDomain(articleURL), articleURL, content)},
		},
		MaxTokens:   c.cfg.MaxOutputTokens,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		observability.LLMRequestDuration.WithLabelValues(c.cfg.LLMModel, "error").Observe(time.Since(start).Seconds())

		return nil, classifyAPIError(err)
	}

	observability.LLMRequestDuration.WithLabelValues(c.cfg.LLMModel, "ok").Observe(time.Since(start).Seconds())

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	summary, err := parseSummary(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	summary.Usage = domain.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	return summary, nil
}

// classifyAPIError maps transport failures onto the package's error kinds.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case strings.Contains(strings.ToLower(apiErr.Message), "context length"),
			strings.Contains(strings.ToLower(apiErr.Message), "maximum context"):
			return fmt.Errorf("%w: %v", ErrContextExceeded, err)
		default:
			return fmt.Errorf("%w: %v", ErrAPIError, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrAPIError, err)
}

// parseSummary decodes and validates the model output. Markdown code fences
// around the JSON object are tolerated.
func parseSummary(content string) (*domain.Summary, error) {
	content = stripCodeFence(content)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	summary := &domain.Summary{}

	var err error
	if summary.SummaryShort, err = requireString(raw, "summary_short"); err != nil {
		return nil, err
	}

	if summary.SummaryLong, err = requireString(raw, "summary_long"); err != nil {
		return nil, err
	}

	if summary.RecommendReason, err = requireString(raw, "recommend_reason"); err != nil {
		return nil, err
	}

	rawScore, ok := raw["global_score"]
	if !ok {
		return nil, fmt.Errorf("%w: missing global_score", ErrInvalidResult)
	}

	var score float64
	if err := json.Unmarshal(rawScore, &score); err != nil {
		return nil, fmt.Errorf("%w: global_score is not a number", ErrInvalidResult)
	}

	summary.GlobalScore = ClampScore(score)

	rawTags, ok := raw["tags"]
	if !ok {
		return nil, fmt.Errorf("%w: missing tags", ErrInvalidResult)
	}

	if err := json.Unmarshal(rawTags, &summary.Tags); err != nil {
		return nil, fmt.Errorf("%w: tags is not a string array", ErrInvalidResult)
	}

	return summary, nil
}

func requireString(raw map[string]json.RawMessage, key string) (string, error) {
	value, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidResult, key)
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrInvalidResult, key)
	}

	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidResult, key)
	}

	return s, nil
}

// ClampScore rounds and clamps a raw model score into [0,100]. Non-finite
// values collapse to 0; the pipeline never persists a fractional or
// out-of-range score.
func ClampScore(s float64) int {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}

	rounded := int(math.Round(s))
	if rounded < 0 {
		return 0
	}

	if rounded > 100 {
		return 100
	}

	return rounded
}

// stripCodeFence removes an optional ```json ... ``` wrapper.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)

	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}

// extractDomain returns the host of a URL without a leading www prefix.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
