// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by all binaries. Flags in cmd/* default to
// these values.
type Config struct {
	PostgresDSN   string
	ClickhouseDSN string
	HTTPAddr      string
	UseMemory     bool
	Environment   string

	PriceERC20Publish int64
	PublishDeadline   time.Duration
	ReconcileInterval time.Duration

	ArchiveInterval time.Duration
	ArchiveBatch    int

	ExecutorEndpoint string
	DispatchInterval time.Duration
	DispatchBatch    int
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded, relying on environment", "err", err)
	}

	e := &envReader{}
	cfg := &Config{
		PostgresDSN:       e.str("POSTGRES_DSN", ""),
		ClickhouseDSN:     e.str("CLICKHOUSE_DSN", ""),
		HTTPAddr:          e.str("HTTP_ADDR", ":8080"),
		UseMemory:         e.boolean("USE_MEMORY", false),
		Environment:       e.str("ENVIRONMENT", "development"),
		PriceERC20Publish: e.int64("PRICE_ERC20_PUBLISH", 50),
		PublishDeadline:   e.duration("PUBLISH_DEADLINE", 30*time.Minute),
		ReconcileInterval: e.duration("RECONCILE_INTERVAL", time.Minute),
		ArchiveInterval:   e.duration("ARCHIVE_INTERVAL", 5*time.Minute),
		ArchiveBatch:      int(e.int64("ARCHIVE_BATCH", 500)),
		ExecutorEndpoint:  e.str("EXECUTOR_ENDPOINT", ""),
		DispatchInterval:  e.duration("DISPATCH_INTERVAL", 5*time.Second),
		DispatchBatch:     int(e.int64("DISPATCH_BATCH", 10)),
	}
	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.PriceERC20Publish < 0:
		return fmt.Errorf("PRICE_ERC20_PUBLISH must not be negative")
	case c.PublishDeadline <= 0:
		return fmt.Errorf("PUBLISH_DEADLINE must be positive")
	case c.ReconcileInterval <= 0, c.ArchiveInterval <= 0, c.DispatchInterval <= 0:
		return fmt.Errorf("intervals must be positive")
	case c.ArchiveBatch <= 0 || c.DispatchBatch <= 0:
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// envReader keeps the first parse error so Load can report it once.
type envReader struct {
	err error
}

func (e *envReader) str(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func (e *envReader) int64(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return n
}

func (e *envReader) boolean(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return b
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
