package domain

import "time"

// Item status constants.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Story is a candidate item fetched from the Hacker News API.
// It is an immutable snapshot taken once per ingest run.
type Story struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
}

// IsStory reports whether the item is eligible for processing:
// story-typed with both a title and a URL.
func (s *Story) IsStory() bool {
	return s != nil && s.Type == "story" && s.Title != "" && s.URL != ""
}

// FeedItem is the processing state of one story on one feed date.
// It is keyed by (Date, HNID) and overwritten on every processing attempt.
type FeedItem struct {
	HNID        int64  `json:"hn_id"`
	Date        string `json:"date"`
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Domain      string `json:"domain,omitempty"`
	By          string `json:"by,omitempty"`
	HNScore     *int   `json:"hn_score"`
	Descendants *int   `json:"descendants"`
	HNTime      *int64 `json:"hn_time"`

	FetchedAt time.Time `json:"fetched_at"`

	SummaryShort    string `json:"summary_short,omitempty"`
	SummaryLong     string `json:"summary_long,omitempty"`
	RecommendReason string `json:"recommend_reason,omitempty"`
	GlobalScore     *int   `json:"global_score"`
	Tags            string `json:"tags,omitempty"`

	UsagePromptTokens     *int `json:"usage_prompt_tokens"`
	UsageCompletionTokens *int `json:"usage_completion_tokens"`
	UsageTotalTokens      *int `json:"usage_total_tokens"`

	Status      string    `json:"status"`
	ErrorReason string    `json:"error_reason,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsComplete reports whether the record needs no further processing:
// status ok, all three summary fields present and a global score in [0,100].
func (f *FeedItem) IsComplete() bool {
	if f == nil || f.Status != StatusOK {
		return false
	}

	if f.SummaryShort == "" || f.SummaryLong == "" || f.RecommendReason == "" {
		return false
	}

	return f.GlobalScore != nil && *f.GlobalScore >= 0 && *f.GlobalScore <= 100
}

// Summary is the structured result of one summarization call.
type Summary struct {
	SummaryShort    string   `json:"summary_short"`
	SummaryLong     string   `json:"summary_long"`
	RecommendReason string   `json:"recommend_reason"`
	GlobalScore     int      `json:"global_score"`
	Tags            []string `json:"tags"`
	Usage           Usage    `json:"usage"`
}

// Usage holds token accounting reported by the model endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
