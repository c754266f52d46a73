package hn

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hndaily/dailyfeed/internal/core/domain"
)

const rssCacheTTL = 5 * time.Minute

var (
	pointsRe   = regexp.MustCompile(`Points:\s*(\d+)`)
	commentsRe = regexp.MustCompile(`#\s*Comments:\s*(\d+)`)
)

// RSSSource consumes the hnrss.org front-page feed. The feed carries all
// item details inline, so TopStoryIDs caches the parsed entries and the
// detail lookups are served from that cache.
type RSSSource struct {
	feedURL string
	parser  *gofeed.Parser

	mu        sync.Mutex
	cache     map[int64]*domain.Story
	fetchedAt time.Time
}

// NewRSSSource creates an RSS-backed source.
func NewRSSSource(feedURL string) *RSSSource {
	return &RSSSource{
		feedURL: feedURL,
		parser:  gofeed.NewParser(),
		cache:   make(map[int64]*domain.Story),
	}
}

// TopStoryIDs fetches and parses the feed, returning up to limit ids in feed
// order.
func (s *RSSSource) TopStoryIDs(ctx context.Context, limit int) ([]int64, error) {
	feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: rss feed: %v", ErrFetchFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[int64]*domain.Story, len(feed.Items))
	s.fetchedAt = time.Now()

	ids := make([]int64, 0, len(feed.Items))

	for _, item := range feed.Items {
		story := storyFromFeedItem(item)
		if story == nil {
			continue
		}

		s.cache[story.ID] = story
		ids = append(ids, story.ID)

		if limit > 0 && len(ids) >= limit {
			break
		}
	}

	return ids, nil
}

// Item serves a story from the last parsed feed. A stale cache counts as
// absence rather than an error.
func (s *RSSSource) Item(ctx context.Context, id int64) (*domain.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) > rssCacheTTL {
		return nil, nil
	}

	return s.cache[id], nil
}

// Items resolves ids from the cached feed, dropping unknown ones.
func (s *RSSSource) Items(ctx context.Context, ids []int64) []*domain.Story {
	stories := make([]*domain.Story, 0, len(ids))

	for _, id := range ids {
		story, err := s.Item(ctx, id)
		if err == nil && story != nil {
			stories = append(stories, story)
		}
	}

	return stories
}

// storyFromFeedItem maps one hnrss entry onto a Story. The item id lives in
// the guid/comments URL query; points and comment counts are embedded in the
// description text.
func storyFromFeedItem(item *gofeed.Item) *domain.Story {
	id := itemIDFromURL(item.GUID)
	if id == 0 {
		id = itemIDFromURL(item.Link)
	}

	if id == 0 {
		return nil
	}

	story := &domain.Story{
		ID:    id,
		Type:  "story",
		Title: item.Title,
		URL:   item.Link,
	}

	if item.Author != nil {
		story.By = item.Author.Name
	}

	if item.PublishedParsed != nil {
		story.Time = item.PublishedParsed.Unix()
	}

	if m := pointsRe.FindStringSubmatch(item.Description); len(m) == 2 {
		story.Score, _ = strconv.Atoi(m[1])
	}

	if m := commentsRe.FindStringSubmatch(item.Description); len(m) == 2 {
		story.Descendants, _ = strconv.Atoi(m[1])
	}

	return story
}

func itemIDFromURL(raw string) int64 {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}

	id, err := strconv.ParseInt(u.Query().Get("id"), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
