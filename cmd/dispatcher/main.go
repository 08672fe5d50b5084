// Package main runs the command dispatcher on its own: it claims queued
// publish commands, submits them to the executor and applies the outcomes.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-ledger/internal/access"
	"token-ledger/internal/app"
	"token-ledger/internal/chain"
	"token-ledger/internal/config"
	"token-ledger/internal/dispatch"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/ledger"
	"token-ledger/internal/observability"
	"token-ledger/internal/publish"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	executor := flag.String("executor-endpoint", cfg.ExecutorEndpoint, "Executor JSON-RPC endpoint")
	interval := flag.Duration("interval", cfg.DispatchInterval, "Polling interval")
	batch := flag.Int("batch", cfg.DispatchBatch, "Commands claimed per poll")
	maxRetries := flag.Int("max-retries", chain.DefaultMaxRetries, "Executor retries per command")
	metricsAddr := flag.String("metrics-addr", ":9091", "Prometheus metrics HTTP address (empty to disable)")
	flag.Parse()

	logger := app.NewLogger(cfg).With("service", "dispatcher")
	slog.SetDefault(logger)

	if *executor == "" {
		logger.Error("--executor-endpoint is required")
		os.Exit(1)
	}
	if cfg.UseMemory {
		logger.Error("the standalone dispatcher needs shared storage, unset USE_MEMORY")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", "err", err)
		os.Exit(1)
	}
	defer stores.Close()

	events := eventlog.New(stores.Backend, eventlog.Options{Logger: logger})
	checker := access.NewChecker(stores.Backend, events, logger)
	queue := dispatch.NewQueue(stores.Backend, logger)
	machine, err := publish.New(publish.Options{
		Backend: stores.Backend,
		Events:  events,
		Queue:   queue,
		Pricing: ledger.DefaultPricing(cfg.PriceERC20Publish),
		Access:  checker,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("create publish machine", "err", err)
		os.Exit(1)
	}

	client := chain.NewHTTPClient(*executor, chain.WithMaxRetries(*maxRetries))
	worker := dispatch.NewWorker(queue, client, machine, dispatch.WorkerOptions{
		Interval:  *interval,
		BatchSize: *batch,
		Logger:    logger,
	})

	logger.Info("dispatcher started", "executor", *executor, "interval", *interval, "batch", *batch)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "err", err)
	}
}
