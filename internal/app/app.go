// Package app wires the application dependencies and exposes the runtime
// modes: serve (HTTP API plus the daily ingest scheduler) and a one-shot
// ingest run.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hndaily/dailyfeed/internal/api"
	"github.com/hndaily/dailyfeed/internal/hn"
	"github.com/hndaily/dailyfeed/internal/ingest"
	"github.com/hndaily/dailyfeed/internal/llm"
	"github.com/hndaily/dailyfeed/internal/platform/config"
	"github.com/hndaily/dailyfeed/internal/platform/worker"
	"github.com/hndaily/dailyfeed/internal/reader"
	"github.com/hndaily/dailyfeed/internal/storage"
)

// Version is the service version reported by /api/health.
const Version = "1.0.0"

// App holds the application dependencies.
type App struct {
	cfg      *config.Config
	database *storage.DB
	logger   *zerolog.Logger
}

// New creates a new App instance.
func New(cfg *config.Config, database *storage.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// newIngestService assembles the pipeline with its collaborators.
func (a *App) newIngestService() *ingest.Service {
	var source hn.Source
	if a.cfg.HNSource == "rss" {
		source = hn.NewRSSSource(a.cfg.HNRSSURL)
	} else {
		source = hn.NewClient(a.cfg.HNBaseURL, a.cfg.HNRPS)
	}

	fetcher := reader.New(a.cfg.ReaderBaseURL, a.cfg.ReaderTimeout, a.logger)
	llmClient := llm.New(a.cfg, a.logger)

	if a.cfg.LLMAPIKey == "" || a.cfg.LLMAPIKey == "mock" {
		a.logger.Warn().Msg("no LLM API key configured, using mock summarizer")
	}

	return ingest.New(a.cfg, a.database, source, fetcher, llmClient, a.logger)
}

// RunServe runs the HTTP server together with the daily ingest scheduler.
func (a *App) RunServe(ctx context.Context) error {
	a.logger.Info().Msg("starting serve mode")

	service := a.newIngestService()
	server := api.NewServer(a.cfg, a.database, service, Version, a.logger)

	go func() {
		err := worker.DailyLoop(ctx, worker.DailyConfig{
			Name:     "daily-ingest",
			Hour:     a.cfg.IngestHour,
			Location: a.cfg.Location(),
			Run: func(ctx context.Context, date string) {
				defer worker.RecoverPanic(a.logger, "scheduled ingest")

				result := service.Run(ctx, 0, false)
				a.logger.Info().
					Str("date", result.Date).
					Int("ingested", result.Ingested).
					Int("failed", result.Failed).
					Msg("scheduled ingest complete")
			},
			Logger: a.logger,
		})
		if err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("daily ingest loop stopped")
		}
	}()

	return server.Start(ctx)
}

// RunIngest performs one ingest pass and exits.
func (a *App) RunIngest(ctx context.Context, limit int, force bool) error {
	a.logger.Info().Msg("starting one-shot ingest")

	result := a.newIngestService().Run(ctx, limit, force)

	for _, msg := range result.Errors {
		a.logger.Warn().Str("date", result.Date).Msg(msg)
	}

	a.logger.Info().
		Str("date", result.Date).
		Int("ingested", result.Ingested).
		Int("failed", result.Failed).
		Msg("ingest finished")

	if result.Ingested == 0 && result.Failed == 0 && len(result.Errors) > 0 {
		return fmt.Errorf("ingest aborted: %s", result.Errors[0])
	}

	return nil
}
