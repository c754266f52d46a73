// Package worker provides small scheduling helpers for background loops:
// context-aware waiting, panic recovery and a daily task loop used by the
// ingest scheduler.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	checkInterval  = time.Minute
	logFieldWorker = "worker"
)

// DailyConfig configures a loop that runs a task once per local day.
type DailyConfig struct {
	// Name identifies the worker for logging.
	Name string

	// Hour is the local hour (0-23) after which the task becomes due.
	Hour int

	// Location resolves the local day boundary.
	Location *time.Location

	// Run executes the task for the given local date (YYYY-MM-DD).
	Run func(ctx context.Context, date string)

	// RunOnStart runs the task immediately if it is already due today.
	RunOnStart bool

	// Logger for the worker.
	Logger *zerolog.Logger
}

// DailyLoop runs a task once per day at or after the configured hour.
// A day is identified by its date string in the configured location, so a
// restart within the same day after a completed run still re-invokes the
// task; the task itself is expected to be idempotent per date.
// Returns a wrapped context error when the context is canceled.
func DailyLoop(ctx context.Context, cfg DailyConfig) error {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	logger.Info().Str(logFieldWorker, cfg.Name).Int("hour", cfg.Hour).Msg("starting daily loop")

	var lastDate string

	if !cfg.RunOnStart {
		// Suppress the catch-up run for today.
		lastDate = time.Now().In(loc).Format("2006-01-02")
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("daily loop %s: %w", cfg.Name, ctx.Err())
		default:
		}

		now := time.Now().In(loc)
		date := now.Format("2006-01-02")

		if date != lastDate && now.Hour() >= cfg.Hour && cfg.Run != nil {
			logger.Info().Str(logFieldWorker, cfg.Name).Str("date", date).Msg("daily task due")
			cfg.Run(ctx, date)

			lastDate = date
		}

		if err := Wait(ctx, checkInterval); err != nil {
			return err
		}
	}
}

// Wait blocks until duration elapses or context is canceled.
// Returns a wrapped context error if context is canceled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// RunWithTimeout runs fn with a timeout derived from the parent context.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(timeoutCtx)
}

// RecoverPanic recovers from panics and logs them.
// Use as: defer worker.RecoverPanic(logger, "operation name")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("operation", operation).
			Msg("recovered from panic")
	}
}
