// Package ingest drives the daily pipeline: fetch candidates, decide which
// need (re)processing, summarize with retry and bounded concurrency, persist
// per-item state and finish with a score calibration pass.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hndaily/dailyfeed/internal/core/domain"
	"github.com/hndaily/dailyfeed/internal/hn"
	"github.com/hndaily/dailyfeed/internal/llm"
	"github.com/hndaily/dailyfeed/internal/platform/config"
	"github.com/hndaily/dailyfeed/internal/platform/observability"
	"github.com/hndaily/dailyfeed/internal/platform/worker"
	"github.com/hndaily/dailyfeed/internal/score"
)

const logFieldRunID = "run_id"

// Repository is the processing-state store consumed by the orchestrator.
type Repository interface {
	GetStatesByIDs(ctx context.Context, date string, ids []int64) (map[int64]*domain.FeedItem, error)
	UpsertItem(ctx context.Context, item *domain.FeedItem) error
	GetCalibrationItems(ctx context.Context, date string) ([]score.CalibrationItem, error)
	UpdateGlobalScore(ctx context.Context, date string, hnID int64, newScore int, updatedAt time.Time) error
}

// ContentFetcher retrieves article text; failure is a flag, never an error.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (string, bool)
}

// Result is the aggregate outcome of one ingest run. Ingested counts items
// that reached status ok in this invocation; Failed counts items whose
// terminal state in this invocation is error.
type Result struct {
	Date     string   `json:"date"`
	Ingested int      `json:"ingested"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

// Service is the ingestion orchestrator.
type Service struct {
	cfg     *config.Config
	store   Repository
	source  hn.Source
	fetcher ContentFetcher
	llm     llm.Client
	logger  *zerolog.Logger

	// sleep is the backoff delay function, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// New creates the orchestrator.
func New(cfg *config.Config, store Repository, source hn.Source, fetcher ContentFetcher, llmClient llm.Client, logger *zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		source:  source,
		fetcher: fetcher,
		llm:     llmClient,
		logger:  logger,
		sleep:   worker.Wait,
		now:     time.Now,
	}
}

// Run executes one ingest pass for the current feed date. limit <= 0 uses
// the configured default. Without force, items whose existing state is
// already complete are skipped, so repeated runs for the same date converge
// monotonically toward a fully-complete batch.
func (s *Service) Run(ctx context.Context, limit int, force bool) *Result {
	start := s.now()

	if limit <= 0 {
		limit = s.cfg.HNLimit
	}

	result := &Result{
		Date:   s.cfg.FeedDate(start),
		Errors: []string{},
	}

	runID := uuid.New().String()
	logger := s.logger.With().Str(logFieldRunID, runID).Str("date", result.Date).Logger()

	logger.Info().Int("limit", limit).Bool("force", force).Msg("starting ingest")

	ids, err := s.source.TopStoryIDs(ctx, limit)
	if err != nil {
		// Source-list failure is the only run-aborting error.
		result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch story ids: %v", err))
		observability.IngestRuns.WithLabelValues("source_failed").Inc()
		logger.Error().Err(err).Msg("source fetch failed, aborting run")

		return result
	}

	stories := hn.FilterStories(s.source.Items(ctx, ids))
	logger.Info().Int("candidates", len(ids)).Int("valid", len(stories)).Msg("fetched story details")

	toProcess, err := s.selectForProcessing(ctx, result.Date, stories, force)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to load existing states: %v", err))
		observability.IngestRuns.WithLabelValues("state_lookup_failed").Inc()

		return result
	}

	if skipped := len(stories) - len(toProcess); skipped > 0 {
		observability.ItemsSkipped.Add(float64(skipped))
		logger.Info().Int("skipped", skipped).Msg("skipping already-complete items")
	}

	s.processAll(ctx, &logger, result, toProcess)

	s.calibrate(ctx, &logger, result.Date)

	observability.IngestRuns.WithLabelValues("completed").Inc()
	observability.IngestDuration.Observe(time.Since(start).Seconds())
	logger.Info().Int("ingested", result.Ingested).Int("failed", result.Failed).Msg("ingest complete")

	return result
}

// selectForProcessing drops candidates whose state for the date is already
// complete, unless force reprocesses everything.
func (s *Service) selectForProcessing(ctx context.Context, date string, stories []*domain.Story, force bool) ([]*domain.Story, error) {
	if force {
		return stories, nil
	}

	ids := make([]int64, len(stories))
	for i, story := range stories {
		ids[i] = story.ID
	}

	states, err := s.store.GetStatesByIDs(ctx, date, ids)
	if err != nil {
		return nil, err
	}

	toProcess := make([]*domain.Story, 0, len(stories))

	for _, story := range stories {
		if states[story.ID].IsComplete() {
			continue
		}

		toProcess = append(toProcess, story)
	}

	return toProcess, nil
}

// processAll partitions the batch into fixed-size groups and processes the
// groups sequentially, items within a group concurrently. Peak outstanding
// item tasks never exceed the group width.
func (s *Service) processAll(ctx context.Context, logger *zerolog.Logger, result *Result, stories []*domain.Story) {
	if len(stories) == 0 {
		return
	}

	width := s.cfg.IngestConcurrency
	if width <= 0 {
		width = 5
	}

	if width > len(stories) {
		width = len(stories)
	}

	var mu sync.Mutex

	for start := 0; start < len(stories); start += width {
		end := start + width
		if end > len(stories) {
			end = len(stories)
		}

		var wg sync.WaitGroup

		for _, story := range stories[start:end] {
			wg.Add(1)

			go func(story *domain.Story) {
				defer wg.Done()

				ok, errMsg := s.processItem(ctx, logger, result.Date, story)

				mu.Lock()
				defer mu.Unlock()

				if ok {
					result.Ingested++
				} else {
					result.Failed++
					result.Errors = append(result.Errors, errMsg)
				}
			}(story)
		}

		wg.Wait()
	}
}

// processItem runs one story through content fetch, summarization with
// retries and persistence. Any failure, including a panic, is contained
// here: it yields an error record and never aborts the batch.
func (s *Service) processItem(ctx context.Context, logger *zerolog.Logger, date string, story *domain.Story) (ok bool, errMsg string) {
	item := s.newFeedItem(date, story)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Int64("hn_id", story.ID).Msg("recovered item panic")

			item.Status = domain.StatusError
			item.ErrorReason = fmt.Sprintf("panic: %v", r)
			item.UpdatedAt = s.now()

			s.writeItem(ctx, logger, item)

			ok = false
			errMsg = fmt.Sprintf("panic processing story %d: %v", story.ID, r)
		}
	}()

	content, fetched := s.fetcher.Fetch(ctx, story.URL, s.cfg.MaxArticleChars)
	if !fetched {
		// Content failure is never fatal: fall back to the title.
		content = story.Title
		observability.ContentFetchFailures.Inc()
		logger.Warn().Int64("hn_id", story.ID).Msg("content fetch failed, using title as fallback")
	}

	summary, lastErr := s.summarizeWithRetry(ctx, logger, story, content)

	if summary != nil {
		s.applySummary(item, summary)
	} else {
		item.Status = domain.StatusError
		item.ErrorReason = lastErr
	}

	item.UpdatedAt = s.now()

	if err := s.writeItem(ctx, logger, item); err != nil {
		return false, fmt.Sprintf("failed to save story %d: %v", story.ID, err)
	}

	observability.ItemsProcessed.WithLabelValues(item.Status).Inc()
	logger.Info().Int64("hn_id", story.ID).Str("status", item.Status).Msg("processed story")

	if item.Status != domain.StatusOK {
		return false, fmt.Sprintf("llm failed for story %d: %s", story.ID, lastErr)
	}

	return true, ""
}

// summarizeWithRetry drives the summarizer with a bounded attempt budget and
// exponential backoff. A missing credential fails immediately: retrying
// cannot fix it.
func (s *Service) summarizeWithRetry(ctx context.Context, logger *zerolog.Logger, story *domain.Story, content string) (*domain.Summary, string) {
	maxAttempts := s.cfg.LLMMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	delay := s.cfg.LLMRetryDelay

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		summary, err := s.llm.Summarize(ctx, story.Title, story.URL, content)
		if err == nil {
			return summary, ""
		}

		lastErr = err

		if errors.Is(err, llm.ErrMissingAPIKey) || ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts {
			logger.Warn().
				Err(err).
				Int64("hn_id", story.ID).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("summarizer failed, retrying")
			observability.LLMRetries.Inc()

			if s.sleep(ctx, delay) != nil {
				break
			}

			delay *= 2
		}
	}

	if lastErr == nil {
		lastErr = errors.New("summarization failed")
	}

	return nil, lastErr.Error()
}

func (s *Service) newFeedItem(date string, story *domain.Story) *domain.FeedItem {
	now := s.now()

	item := &domain.FeedItem{
		HNID:      story.ID,
		Date:      date,
		Title:     story.Title,
		URL:       story.URL,
		Domain:    extractDomain(story.URL),
		By:        story.By,
		FetchedAt: now,
		Status:    domain.StatusOK,
		UpdatedAt: now,
	}

	if story.Score > 0 {
		hnScore := story.Score
		item.HNScore = &hnScore
	}

	if story.Descendants > 0 {
		descendants := story.Descendants
		item.Descendants = &descendants
	}

	if story.Time > 0 {
		hnTime := story.Time
		item.HNTime = &hnTime
	}

	return item
}

func (s *Service) applySummary(item *domain.FeedItem, summary *domain.Summary) {
	item.SummaryShort = summary.SummaryShort
	item.SummaryLong = summary.SummaryLong
	item.RecommendReason = summary.RecommendReason

	globalScore := summary.GlobalScore
	item.GlobalScore = &globalScore

	if tags, err := json.Marshal(summary.Tags); err == nil {
		item.Tags = string(tags)
	}

	promptTokens := summary.Usage.PromptTokens
	completionTokens := summary.Usage.CompletionTokens
	totalTokens := summary.Usage.TotalTokens
	item.UsagePromptTokens = &promptTokens
	item.UsageCompletionTokens = &completionTokens
	item.UsageTotalTokens = &totalTokens
}

// writeItem persists the record. A write failure loses this run's in-memory
// result for the item but never blocks the batch.
func (s *Service) writeItem(ctx context.Context, logger *zerolog.Logger, item *domain.FeedItem) error {
	if err := s.store.UpsertItem(ctx, item); err != nil {
		observability.StoreWriteFailures.Inc()
		logger.Error().Err(err).Int64("hn_id", item.HNID).Msg("failed to save item state")

		return err
	}

	return nil
}

// calibrate runs the post-pass score redistribution for the date. Failures
// are logged and never change the run's ingested/failed counts.
func (s *Service) calibrate(ctx context.Context, logger *zerolog.Logger, date string) {
	items, err := s.store.GetCalibrationItems(ctx, date)
	if err != nil {
		observability.CalibrationRuns.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("failed to load calibration items")

		return
	}

	if !score.ShouldRecalibrate(items) {
		observability.CalibrationRuns.WithLabelValues("skipped").Inc()

		return
	}

	mapping := score.Recalibrate(items, s.cfg.CalibrationMinScore, s.cfg.CalibrationMaxScore)
	updatedAt := s.now()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	for hnID, newScore := range mapping {
		wg.Add(1)

		go func(hnID int64, newScore int) {
			defer wg.Done()

			if err := s.store.UpdateGlobalScore(ctx, date, hnID, newScore, updatedAt); err != nil {
				logger.Error().Err(err).Int64("hn_id", hnID).Msg("failed to update calibrated score")

				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(hnID, newScore)
	}

	wg.Wait()

	if failed > 0 {
		observability.CalibrationRuns.WithLabelValues("partial").Inc()
	} else {
		observability.CalibrationRuns.WithLabelValues("applied").Inc()
	}

	logger.Info().Int("items", len(mapping)).Int("failed", failed).Msg("recalibrated global scores")
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
