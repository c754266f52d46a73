// Package config loads the immutable application configuration from the
// environment. Values are read once at process start and passed down; no
// package reads os.Getenv directly.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`

	// Summarizer endpoint. The base URL must expose an OpenAI-compatible
	// chat-completions API.
	LLMAPIKey       string        `env:"LLM_API_KEY"`
	LLMBaseURL      string        `env:"LLM_BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	LLMModel        string        `env:"LLM_MODEL" envDefault:"deepseek-chat"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMMaxAttempts  int           `env:"LLM_MAX_ATTEMPTS" envDefault:"3"`
	LLMRetryDelay   time.Duration `env:"LLM_RETRY_DELAY" envDefault:"2s"`
	LLMRateLimitRPS float64       `env:"LLM_RATE_LIMIT_RPS" envDefault:"2"`
	MaxOutputTokens int           `env:"MAX_OUTPUT_TOKENS" envDefault:"350"`
	Temperature     float32       `env:"TEMPERATURE" envDefault:"0.1"`

	// Source feed.
	HNBaseURL string  `env:"HN_BASE_URL" envDefault:"https://hacker-news.firebaseio.com/v0"`
	HNLimit   int     `env:"HN_LIMIT" envDefault:"30"`
	HNRPS     float64 `env:"HN_RPS" envDefault:"10"`
	HNSource  string  `env:"HN_SOURCE" envDefault:"api"` // api or rss
	HNRSSURL  string  `env:"HN_RSS_URL" envDefault:"https://hnrss.org/frontpage"`

	// Content fetching.
	ReaderBaseURL   string        `env:"READER_BASE_URL" envDefault:"https://r.jina.ai"`
	ReaderTimeout   time.Duration `env:"READER_TIMEOUT" envDefault:"30s"`
	MaxArticleChars int           `env:"MAX_ARTICLE_CHARS" envDefault:"12000"`

	// Ingestion.
	IngestConcurrency int    `env:"INGEST_CONCURRENCY" envDefault:"5"`
	IngestHour        int    `env:"INGEST_HOUR" envDefault:"7"`
	FeedTimezone      string `env:"FEED_TIMEZONE" envDefault:"Asia/Shanghai"`

	// Calibration score band.
	CalibrationMinScore int `env:"CALIBRATION_MIN_SCORE" envDefault:"30"`
	CalibrationMaxScore int `env:"CALIBRATION_MAX_SCORE" envDefault:"98"`
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location resolves the configured feed timezone, falling back to UTC on an
// unknown zone name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.FeedTimezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// FeedDate returns the feed date (YYYY-MM-DD) for the given instant in the
// configured timezone. The feed day boundary follows local midnight.
func (c *Config) FeedDate(t time.Time) string {
	return t.In(c.Location()).Format("2006-01-02")
}
