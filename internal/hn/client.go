// Package hn fetches candidate stories from Hacker News.
//
// Two source implementations exist: Client talks to the official Firebase
// API (topstories + item endpoints), RSSSource consumes the hnrss.org front
// page feed for environments where the Firebase API is unreachable. Both
// satisfy Source.
package hn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hndaily/dailyfeed/internal/core/domain"
)

// ErrFetchFailed indicates the source list could not be retrieved. A run
// aborts on this error; there is no partial retry at the source level.
var ErrFetchFailed = errors.New("source fetch failed")

const (
	defaultTimeout = 30 * time.Second
	limiterBurst   = 5
)

// Source lists ranked candidate ids and resolves their details.
type Source interface {
	// TopStoryIDs returns up to limit ranked candidate ids.
	TopStoryIDs(ctx context.Context, limit int) ([]int64, error)

	// Item resolves one story. Absence and per-item fetch failures both
	// yield (nil, nil); only the caller's context error is returned.
	Item(ctx context.Context, id int64) (*domain.Story, error)

	// Items resolves many stories in parallel, dropping unavailable ones.
	// Result order follows the input id order.
	Items(ctx context.Context, ids []int64) []*domain.Story
}

// Client is the Firebase API source.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates an API client. rps bounds the request rate to the
// Firebase endpoint across all concurrent detail fetches.
func NewClient(baseURL string, rps float64) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), limiterBurst),
	}
}

// TopStoryIDs fetches the ranked front-page id list.
func (c *Client) TopStoryIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, c.baseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("%w: top stories: %v", ErrFetchFailed, err)
	}

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

// Item fetches one story. Missing or failing items are reported as nil, not
// as an error: a single unavailable item must never fail a run.
func (c *Client) Item(ctx context.Context, id int64) (*domain.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var story *domain.Story
	if err := c.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", c.baseURL, id), &story); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, nil
	}

	return story, nil
}

// Items resolves all ids in parallel. The shared rate limiter bounds the
// request rate; unavailable items are dropped.
func (c *Client) Items(ctx context.Context, ids []int64) []*domain.Story {
	results := make([]*domain.Story, len(ids))

	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)

		go func(i int, id int64) {
			defer wg.Done()

			story, err := c.Item(ctx, id)
			if err == nil && story != nil {
				results[i] = story
			}
		}(i, id)
	}

	wg.Wait()

	stories := make([]*domain.Story, 0, len(ids))

	for _, s := range results {
		if s != nil {
			stories = append(stories, s)
		}
	}

	return stories
}

func (c *Client) getJSON(ctx context.Context, url string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// FilterStories retains candidates that are story-typed with both a title
// and a URL.
func FilterStories(stories []*domain.Story) []*domain.Story {
	filtered := make([]*domain.Story, 0, len(stories))

	for _, s := range stories {
		if s.IsStory() {
			filtered = append(filtered, s)
		}
	}

	return filtered
}
