package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. Per-run values (workers, retries,
// timeout, chunk size) can be overridden by command-line flags.
type Config struct {
	CacheDir         string `envconfig:"CACHE_DIR" default:"./output"`
	CacheMaxSize     string `envconfig:"CACHE_MAX_SIZE" default:"100GB"`
	CleanupThreshold int    `envconfig:"CLEANUP_THRESHOLD" default:"90"`
	LedgerFile       string `envconfig:"LEDGER_FILE" default:".verification.db"`

	Workers    int           `envconfig:"WORKERS" default:"5"`
	MaxRetries int           `envconfig:"MAX_RETRIES" default:"5"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"30s"`
	ChunkSize  int           `envconfig:"CHUNK_SIZE" default:"8192"`

	ForceVerify bool   `envconfig:"FORCE_VERIFY" default:"false"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// CacheMaxBytes parses the configured cache limit ("100GB", "512MiB", plain bytes).
func (c *Config) CacheMaxBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.CacheMaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid cache max size %q: %w", c.CacheMaxSize, err)
	}

	return int64(n), nil
}

// CleanupThresholdFraction converts the configured percentage to a fraction.
func (c *Config) CleanupThresholdFraction() float64 {
	return float64(c.CleanupThreshold) / 100.0
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
