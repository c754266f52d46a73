// Package api serves the read API, the administrative refresh trigger and
// the health/metrics endpoints on a single HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hndaily/dailyfeed/internal/core/domain"
	"github.com/hndaily/dailyfeed/internal/ingest"
	"github.com/hndaily/dailyfeed/internal/platform/config"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second

	cacheSecondsToday    = 300
	cacheSecondsArchived = 3600
)

// Store is the read-side repository consumed by the API.
type Store interface {
	GetItemsByDate(ctx context.Context, date string) ([]*domain.FeedItem, error)
	Ping(ctx context.Context) error
}

// Ingester triggers an ingest run.
type Ingester interface {
	Run(ctx context.Context, limit int, force bool) *ingest.Result
}

// Server is the HTTP surface of the service.
type Server struct {
	cfg      *config.Config
	store    Store
	ingester Ingester
	logger   *zerolog.Logger
	version  string
}

// NewServer creates the HTTP server.
func NewServer(cfg *config.Config, store Store, ingester Ingester, version string, logger *zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		ingester: ingester,
		logger:   logger,
		version:  version,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/feed", s.handleFeed)
		r.Get("/feed/today", s.handleFeedToday)
		r.Post("/admin/refresh", s.handleRefresh)
	})

	return r
}

// Start runs the server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.cfg.HTTPPort).Msg("http server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}
