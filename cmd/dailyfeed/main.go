package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hndaily/dailyfeed/internal/app"
	"github.com/hndaily/dailyfeed/internal/platform/config"
	"github.com/hndaily/dailyfeed/internal/storage"
)

func main() {
	var (
		mode  = flag.String("mode", "serve", "run mode: serve or ingest")
		limit = flag.Int("limit", 0, "ingest mode: number of top stories to process (0 = configured default)")
		force = flag.Bool("force", false, "ingest mode: reprocess items that are already complete")
	)

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := storage.New(ctx, cfg.PostgresDSN, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	if err := runMode(ctx, application, *mode, *limit, *force); err != nil {
		logger.Fatal().Err(err).Str("mode", *mode).Msg("run failed")
	}
}

func runMode(ctx context.Context, application *app.App, mode string, limit int, force bool) error {
	switch mode {
	case "serve":
		return application.RunServe(ctx)
	case "ingest":
		return application.RunIngest(ctx, limit, force)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "dailyfeed").Logger()

	if cfg.AppEnv == "local" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return logger
}
