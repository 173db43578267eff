// Package config loads and validates the matchmaking core's runtime
// configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable the matchmaking core exposes.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if unset
type Config struct {
	// Scheduler
	SchedulerPeriod time.Duration `env:"LYNCUP_SCHEDULER_PERIOD" envDefault:"5s"`
	LockTTL         time.Duration `env:"LYNCUP_LOCK_TTL" envDefault:"60s"`

	// Matcher
	BatchSize int `env:"LYNCUP_BATCH_SIZE" envDefault:"50"`
	TopK      int `env:"LYNCUP_TOP_K" envDefault:"50"`
	MinGroup  int `env:"LYNCUP_MIN_GROUP" envDefault:"3"`
	MaxGroup  int `env:"LYNCUP_MAX_GROUP" envDefault:"4"`

	// EmbeddingBuilder
	ReciprocalWeight float64 `env:"LYNCUP_RECIPROCAL_WEIGHT" envDefault:"0.5"`
	EmbedDimensions  int     `env:"LYNCUP_EMBED_DIMENSIONS" envDefault:"128"`
	WalkLength       int     `env:"LYNCUP_WALK_LENGTH" envDefault:"10"`
	WalksPerNode     int     `env:"LYNCUP_WALKS_PER_NODE" envDefault:"20"`
	ReturnParamP     float64 `env:"LYNCUP_RETURN_PARAM_P" envDefault:"1.0"`
	InOutParamQ      float64 `env:"LYNCUP_INOUT_PARAM_Q" envDefault:"1.0"`
	SkipGramWindow   int     `env:"LYNCUP_SKIPGRAM_WINDOW" envDefault:"5"`
	NumTrees         int     `env:"LYNCUP_NUM_TREES" envDefault:"10"`

	// Storage / transport
	ArtifactDir      string `env:"LYNCUP_ARTIFACT_DIR" envDefault:"./data/ann"`
	NATSURL          string `env:"LYNCUP_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	LikesDatabaseURL string `env:"LYNCUP_LIKES_DATABASE_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the process
// environment. Environment variables always win over .env file values.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internally-inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	if c.MinGroup < 1 {
		return fmt.Errorf("LYNCUP_MIN_GROUP must be > 0, got %d", c.MinGroup)
	}
	if c.MaxGroup < c.MinGroup {
		return fmt.Errorf("LYNCUP_MAX_GROUP (%d) must be >= LYNCUP_MIN_GROUP (%d)", c.MaxGroup, c.MinGroup)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("LYNCUP_BATCH_SIZE must be > 0, got %d", c.BatchSize)
	}
	if c.TopK < c.MaxGroup {
		return fmt.Errorf("LYNCUP_TOP_K (%d) must be >= LYNCUP_MAX_GROUP (%d)", c.TopK, c.MaxGroup)
	}
	if c.ReciprocalWeight <= 0 || c.ReciprocalWeight > 1 {
		return fmt.Errorf("LYNCUP_RECIPROCAL_WEIGHT must be in (0,1], got %.3f", c.ReciprocalWeight)
	}
	if c.EmbedDimensions < 1 {
		return fmt.Errorf("LYNCUP_EMBED_DIMENSIONS must be > 0, got %d", c.EmbedDimensions)
	}
	if c.NumTrees < 1 {
		return fmt.Errorf("LYNCUP_NUM_TREES must be > 0, got %d", c.NumTrees)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LYNCUP_LOCK_TTL must be > 0, got %s", c.LockTTL)
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("LYNCUP_ARTIFACT_DIR is required")
	}
	if c.LikesDatabaseURL == "" {
		return fmt.Errorf("LYNCUP_LIKES_DATABASE_URL is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// LogConfig emits the resolved configuration as one structured log line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Dur("scheduler_period", c.SchedulerPeriod).
		Dur("lock_ttl", c.LockTTL).
		Int("batch_size", c.BatchSize).
		Int("top_k", c.TopK).
		Int("min_group", c.MinGroup).
		Int("max_group", c.MaxGroup).
		Float64("reciprocal_weight", c.ReciprocalWeight).
		Int("embed_dimensions", c.EmbedDimensions).
		Int("walk_length", c.WalkLength).
		Int("walks_per_node", c.WalksPerNode).
		Float64("return_param_p", c.ReturnParamP).
		Float64("inout_param_q", c.InOutParamQ).
		Int("skipgram_window", c.SkipGramWindow).
		Int("num_trees", c.NumTrees).
		Str("artifact_dir", c.ArtifactDir).
		Str("nats_url", c.NATSURL).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
