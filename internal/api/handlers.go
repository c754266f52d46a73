package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/hndaily/dailyfeed/internal/core/domain"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type feedItemView struct {
	*domain.FeedItem
	Tags []string `json:"tags"`
}

type feedResponse struct {
	Date  string         `json:"date"`
	Count int            `json:"count"`
	Items []feedItemView `json:"items"`
}

type healthResponse struct {
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type refreshRequest struct {
	Limit int  `json:"limit"`
	Force bool `json:"force"`
}

type refreshResponse struct {
	OK       bool   `json:"ok"`
	Date     string `json:"date"`
	Ingested int    `json:"ingested"`
	Failed   int    `json:"failed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "DB error: %v", err)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, 0, healthResponse{
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if !dateRe.MatchString(date) {
		s.writeJSON(w, http.StatusBadRequest, 0, errorResponse{Error: "invalid date format, use YYYY-MM-DD"})

		return
	}

	cacheSeconds := cacheSecondsArchived
	if date == s.cfg.FeedDate(time.Now()) {
		cacheSeconds = cacheSecondsToday
	}

	s.serveFeed(w, r, date, cacheSeconds)
}

func (s *Server) handleFeedToday(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, s.cfg.FeedDate(time.Now()), cacheSecondsToday)
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, date string, cacheSeconds int) {
	items, err := s.store.GetItemsByDate(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("failed to load feed")
		s.writeJSON(w, http.StatusInternalServerError, 0, errorResponse{Error: "failed to load feed"})

		return
	}

	if r.URL.Query().Has("no_cache") || r.URL.Query().Has("noCache") {
		cacheSeconds = 0
	}

	views := make([]feedItemView, len(items))

	for i, item := range items {
		views[i] = feedItemView{FeedItem: item, Tags: parseTags(item.Tags)}
	}

	s.writeJSON(w, http.StatusOK, cacheSeconds, feedResponse{
		Date:  date,
		Count: len(views),
		Items: views,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest

	// Absent or invalid body means defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)

	result := s.ingester.Run(r.Context(), req.Limit, req.Force)

	s.writeJSON(w, http.StatusOK, 0, refreshResponse{
		OK:       result.Failed == 0 && len(result.Errors) == 0,
		Date:     result.Date,
		Ingested: result.Ingested,
		Failed:   result.Failed,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status, cacheSeconds int, payload any) {
	w.Header().Set("Content-Type", "application/json")

	if cacheSeconds > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", cacheSeconds))
	}

	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func parseTags(raw string) []string {
	if raw == "" {
		return []string{}
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}

	return tags
}
