package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hndaily/dailyfeed/internal/core/domain"
	"github.com/hndaily/dailyfeed/internal/llm"
	"github.com/hndaily/dailyfeed/internal/platform/config"
	"github.com/hndaily/dailyfeed/internal/score"
)

type fakeRepo struct {
	mu    sync.Mutex
	items map[int64]*domain.FeedItem

	upsertErr error
	statesErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[int64]*domain.FeedItem)}
}

func (r *fakeRepo) GetStatesByIDs(_ context.Context, _ string, ids []int64) (map[int64]*domain.FeedItem, error) {
	if r.statesErr != nil {
		return nil, r.statesErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[int64]*domain.FeedItem, len(ids))

	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			copied := *item
			states[id] = &copied
		}
	}

	return states, nil
}

func (r *fakeRepo) UpsertItem(_ context.Context, item *domain.FeedItem) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *item
	r.items[item.HNID] = &copied

	return nil
}

func (r *fakeRepo) GetCalibrationItems(_ context.Context, _ string) ([]score.CalibrationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []score.CalibrationItem

	for _, item := range r.items {
		if item.GlobalScore == nil {
			continue
		}

		out = append(out, score.CalibrationItem{
			HNID:        item.HNID,
			GlobalScore: *item.GlobalScore,
			HNScore:     item.HNScore,
			Descendants: item.Descendants,
		})
	}

	return out, nil
}

func (r *fakeRepo) UpdateGlobalScore(_ context.Context, _ string, hnID int64, newScore int, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[hnID]
	if !ok {
		return errors.New("no such record")
	}

	item.GlobalScore = &newScore
	item.UpdatedAt = updatedAt

	return nil
}

func (r *fakeRepo) item(id int64) *domain.FeedItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.items[id]
}

type fakeSource struct {
	ids     []int64
	stories map[int64]*domain.Story
	listErr error
}

func (s *fakeSource) TopStoryIDs(_ context.Context, limit int) ([]int64, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}

	ids := s.ids
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

func (s *fakeSource) Item(_ context.Context, id int64) (*domain.Story, error) {
	return s.stories[id], nil
}

func (s *fakeSource) Items(ctx context.Context, ids []int64) []*domain.Story {
	stories := make([]*domain.Story, 0, len(ids))

	for _, id := range ids {
		if story, _ := s.Item(ctx, id); story != nil {
			stories = append(stories, story)
		}
	}

	return stories
}

type fakeFetcher struct {
	content string
	ok      bool
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, _ int) (string, bool) {
	return f.content, f.ok
}

type fakeLLM struct {
	mu sync.Mutex

	// failFor maps a story title to a permanent error.
	failFor map[string]error

	// failFirst fails the first n calls per title before succeeding.
	failFirst map[string]int

	panicFor map[string]bool

	calls    []string
	contents []string
}

func (l *fakeLLM) Summarize(_ context.Context, title, _, content string) (*domain.Summary, error) {
	l.mu.Lock()
	l.calls = append(l.calls, title)
	l.contents = append(l.contents, content)

	if l.panicFor[title] {
		l.mu.Unlock()
		panic("summarizer blew up")
	}

	if err, ok := l.failFor[title]; ok {
		l.mu.Unlock()

		return nil, err
	}

	if n, ok := l.failFirst[title]; ok && n > 0 {
		l.failFirst[title] = n - 1
		l.mu.Unlock()

		return nil, errors.New("transient llm failure")
	}

	l.mu.Unlock()

	return &domain.Summary{
		SummaryShort:    "short: " + title,
		SummaryLong:     "long: " + title,
		RecommendReason: "reason: " + title,
		GlobalScore:     75,
		Tags:            []string{"go"},
		Usage:           domain.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (l *fakeLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.calls)
}

func (l *fakeLLM) callsFor(title string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int

	for _, c := range l.calls {
		if c == title {
			n++
		}
	}

	return n
}

func testConfig() *config.Config {
	return &config.Config{
		HNLimit:             30,
		IngestConcurrency:   5,
		LLMMaxAttempts:      3,
		LLMRetryDelay:       2 * time.Second,
		MaxArticleChars:     12000,
		FeedTimezone:        "UTC",
		CalibrationMinScore: score.DefaultMinScore,
		CalibrationMaxScore: score.DefaultMaxScore,
	}
}

func storyTitle(id int64) string {
	return fmt.Sprintf("Story %d", id)
}

func newFakeSource(n int) *fakeSource {
	src := &fakeSource{stories: make(map[int64]*domain.Story)}

	for i := 1; i <= n; i++ {
		id := int64(i)
		src.ids = append(src.ids, id)
		src.stories[id] = &domain.Story{
			ID:          id,
			Type:        "story",
			By:          "author",
			Time:        1700000000 + id,
			Title:       storyTitle(id),
			URL:         fmt.Sprintf("https://example.com/%d", id),
			Score:       int(id) * 10,
			Descendants: int(id) * 3,
		}
	}

	return src
}

// newService wires a Service over fakes with instant backoff. The returned
// slice pointer records every requested sleep delay.
func newService(cfg *config.Config, repo *fakeRepo, src *fakeSource, llmClient *fakeLLM) (*Service, *[]time.Duration) {
	logger := zerolog.Nop()
	svc := New(cfg, repo, src, &fakeFetcher{content: "article body", ok: true}, llmClient, &logger)

	delays := &[]time.Duration{}

	svc.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)

		return nil
	}

	return svc, delays
}

func TestRunProcessesAllStories(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(5), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 5, result.Ingested)
	require.Zero(t, result.Failed)
	require.Empty(t, result.Errors)
	require.Equal(t, 5, llmClient.callCount())

	for id := int64(1); id <= 5; id++ {
		item := repo.item(id)
		require.NotNil(t, item)
		require.True(t, item.IsComplete(), "item %d should be complete", id)
		require.Equal(t, result.Date, item.Date)
		require.Equal(t, "example.com", item.Domain)
		require.NotNil(t, item.UsageTotalTokens)
	}
}

func TestRunSkipsCompleteItems(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(5), llmClient)

	first := svc.Run(context.Background(), 0, false)
	require.Equal(t, 5, first.Ingested)
	require.Equal(t, 5, llmClient.callCount())

	// A second run for the same date finds everything complete.
	second := svc.Run(context.Background(), 0, false)
	require.Zero(t, second.Ingested)
	require.Zero(t, second.Failed)
	require.Equal(t, 5, llmClient.callCount(), "no further summarizer calls expected")
}

func TestRunForceReprocessesCompleteItems(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(3), llmClient)

	svc.Run(context.Background(), 0, false)
	require.Equal(t, 3, llmClient.callCount())

	result := svc.Run(context.Background(), 0, true)

	require.Equal(t, 3, result.Ingested)
	require.Equal(t, 6, llmClient.callCount())
}

func TestRunIsolatesFailingItem(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{failFor: map[string]error{storyTitle(3): errors.New("permanent failure")}}
	svc, _ := newService(testConfig(), repo, newFakeSource(5), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 4, result.Ingested)
	require.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "story 3")

	failed := repo.item(3)
	require.NotNil(t, failed)
	require.Equal(t, domain.StatusError, failed.Status)
	require.Contains(t, failed.ErrorReason, "permanent failure")
	require.False(t, failed.IsComplete())

	// The error record still makes the next run retry this item only.
	llmClient.failFor = nil
	second := svc.Run(context.Background(), 0, false)
	require.Equal(t, 1, second.Ingested)
	require.True(t, repo.item(3).IsComplete())
}

func TestRunRetriesWithDoublingBackoff(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{failFirst: map[string]int{storyTitle(1): 2}}
	svc, delays := newService(testConfig(), repo, newFakeSource(1), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 1, result.Ingested)
	require.Equal(t, 3, llmClient.callCount())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestRunExhaustsAttempts(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{failFor: map[string]error{storyTitle(1): errors.New("always down")}}
	svc, delays := newService(testConfig(), repo, newFakeSource(1), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Zero(t, result.Ingested)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 3, llmClient.callCount())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestRunMissingAPIKeyFailsWithoutRetry(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{failFor: map[string]error{storyTitle(1): llm.ErrMissingAPIKey}}
	svc, delays := newService(testConfig(), repo, newFakeSource(1), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, llmClient.callCount())
	require.Empty(t, *delays)
}

func TestRunAbortsOnSourceFailure(t *testing.T) {
	repo := newFakeRepo()
	src := newFakeSource(3)
	src.listErr = errors.New("firebase unreachable")
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, src, llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Zero(t, result.Ingested)
	require.Zero(t, result.Failed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "failed to fetch story ids")
	require.Zero(t, llmClient.callCount())
}

func TestRunHonorsLimit(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(10), llmClient)

	result := svc.Run(context.Background(), 4, false)

	require.Equal(t, 4, result.Ingested)
	require.Equal(t, 4, llmClient.callCount())
}

func TestRunSkipsNonStories(t *testing.T) {
	repo := newFakeRepo()
	src := newFakeSource(4)
	src.stories[2].Type = "job"
	src.stories[3].URL = ""
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, src, llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 2, result.Ingested)
	require.Nil(t, repo.item(2))
	require.Nil(t, repo.item(3))
}

func TestRunFallsBackToTitleOnFetchFailure(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(1), llmClient)
	svc.fetcher = &fakeFetcher{ok: false}

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 1, result.Ingested)
	require.Equal(t, []string{storyTitle(1)}, llmClient.contents)
}

func TestRunContainsPanickingItem(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{panicFor: map[string]bool{storyTitle(2): true}}
	svc, _ := newService(testConfig(), repo, newFakeSource(3), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Equal(t, 2, result.Ingested)
	require.Equal(t, 1, result.Failed)
	require.Contains(t, result.Errors[0], "panic")

	crashed := repo.item(2)
	require.NotNil(t, crashed)
	require.Equal(t, domain.StatusError, crashed.Status)
	require.Contains(t, crashed.ErrorReason, "panic")
}

func TestRunRecalibratesCollapsedScores(t *testing.T) {
	// Ten items all landing on the same model score trip the calibrator,
	// which must spread them across the configured band.
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(10), llmClient)

	result := svc.Run(context.Background(), 0, false)
	require.Equal(t, 10, result.Ingested)

	distinct := make(map[int]struct{})

	var sawMin, sawMax bool

	for id := int64(1); id <= 10; id++ {
		item := repo.item(id)
		require.NotNil(t, item.GlobalScore)
		require.GreaterOrEqual(t, *item.GlobalScore, score.DefaultMinScore)
		require.LessOrEqual(t, *item.GlobalScore, score.DefaultMaxScore)

		distinct[*item.GlobalScore] = struct{}{}
		sawMin = sawMin || *item.GlobalScore == score.DefaultMinScore
		sawMax = sawMax || *item.GlobalScore == score.DefaultMaxScore
	}

	require.Greater(t, len(distinct), 1, "calibration should break the collapsed scores apart")
	require.True(t, sawMin)
	require.True(t, sawMax)
}

func TestRunSmallBatchKeepsModelScores(t *testing.T) {
	repo := newFakeRepo()
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(3), llmClient)

	svc.Run(context.Background(), 0, false)

	for id := int64(1); id <= 3; id++ {
		item := repo.item(id)
		require.NotNil(t, item.GlobalScore)
		require.Equal(t, 75, *item.GlobalScore)
	}
}

func TestRunReportsStateLookupFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.statesErr = errors.New("db down")
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(2), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Zero(t, result.Ingested)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "failed to load existing states")
}

func TestRunCountsWriteFailures(t *testing.T) {
	repo := newFakeRepo()
	repo.upsertErr = errors.New("disk full")
	llmClient := &fakeLLM{}
	svc, _ := newService(testConfig(), repo, newFakeSource(2), llmClient)

	result := svc.Run(context.Background(), 0, false)

	require.Zero(t, result.Ingested)
	require.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
}
