// Package app opens the storage backends and logger shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"token-ledger/internal/config"
	"token-ledger/internal/storage"
	chstore "token-ledger/internal/storage/clickhouse"
	"token-ledger/internal/storage/memory"
	"token-ledger/internal/storage/migrations"
	pgstore "token-ledger/internal/storage/postgres"
)

// NewLogger returns a JSON logger in production and a text logger otherwise.
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Stores bundles the transactional backend and the optional event archive.
type Stores struct {
	Backend storage.Backend
	// Archive is nil when no archive is configured.
	Archive storage.EventArchive
	// Memory is set in memory mode.
	Memory *memory.DB

	cleanup []func()
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// OpenStores connects to PostgreSQL and, when configured, ClickHouse, and
// applies migrations. In memory mode both live in process.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.UseMemory {
		db := memory.NewDB()
		logger.Warn("using in-memory storage, state is lost on exit")
		return &Stores{Backend: db, Archive: memory.NewEventArchive(), Memory: db}, nil
	}

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required (set USE_MEMORY=true for in-memory storage)")
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s := &Stores{Backend: pgstore.NewDB(pool)}
	s.cleanup = append(s.cleanup, pool.Close)

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		s.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	logger.Info("postgres ready")

	if cfg.ClickhouseDSN == "" {
		logger.Info("CLICKHOUSE_DSN not set, event archive disabled")
		return s, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	s.cleanup = append(s.cleanup, func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close clickhouse", "err", err)
		}
	})
	s.Archive = chstore.NewEventArchiveStore(conn)
	logger.Info("clickhouse archive ready")
	return s, nil
}
