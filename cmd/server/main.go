// Package main runs the API server together with the background loops:
// - Reconciler (scheduled): expires stale publishes and refunds them
// - Archiver (scheduled): copies the event log to ClickHouse
// - Dispatcher (optional, in process): submits queued publish commands
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

	"golang.org/x/sync/errgroup"

	"token-ledger/internal/access"
	"token-ledger/internal/api"
	"token-ledger/internal/app"
	"token-ledger/internal/archive"
	"token-ledger/internal/chain"
	"token-ledger/internal/chain/stub"
	"token-ledger/internal/config"
	"token-ledger/internal/dispatch"
	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/ledger"
	"token-ledger/internal/publish"
	"token-ledger/internal/stream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP listen address")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	dispatchInProcess := flag.Bool("dispatch", true, "Run the command dispatcher in this process")
	devSession := flag.String("dev-admin-session", "", "Memory mode only: session token granted to administrator user 1")
	flag.Parse()
	cfg.HTTPAddr = *httpAddr
	cfg.UseMemory = *useMemory

	logger := app.NewLogger(cfg).With("service", "server")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dispatchInProcess, *devSession, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, dispatchInProcess bool, devSession string, logger *slog.Logger) error {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if devSession != "" {
		if err := seedAdmin(ctx, stores, devSession); err != nil {
			return err
		}
		logger.Warn("development administrator session enabled", "user_id", 1)
	}

	hub := stream.NewHub(logger)
	events := eventlog.New(stores.Backend, eventlog.Options{Publisher: hub, Logger: logger})
	checker := access.NewChecker(stores.Backend, events, logger)
	credits := ledger.New(stores.Backend, events, ledger.Options{Authorizer: checker, Logger: logger})
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
		return err
	}

	var sub chain.Submitter
	if dispatchInProcess {
		if sub, err = submitter(cfg, logger); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Services{
			Events:   events,
			Ledger:   credits,
			Publish:  machine,
			Access:   checker,
			Hub:      hub,
			Sessions: stores.Backend.Sessions(),
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	reconciler := publish.NewReconciler(machine, publish.ReconcilerOptions{
		Deadline: cfg.PublishDeadline,
		Interval: cfg.ReconcileInterval,
		Logger:   logger,
	})
	g.Go(func() error { return ignoreCanceled(reconciler.Run(ctx)) })

	if stores.Archive != nil {
		archiver := archive.New(events, stores.Archive, archive.Options{
			BatchSize: cfg.ArchiveBatch,
			Interval:  cfg.ArchiveInterval,
			Logger:    logger,
		})
		g.Go(func() error { return ignoreCanceled(archiver.Run(ctx)) })
	}

	if sub != nil {
		worker := dispatch.NewWorker(queue, sub, machine, dispatch.WorkerOptions{
			Interval:  cfg.DispatchInterval,
			BatchSize: cfg.DispatchBatch,
			Logger:    logger,
		})
		g.Go(func() error { return ignoreCanceled(worker.Run(ctx)) })
	}

	return g.Wait()
}

var errNoExecutor = errors.New("EXECUTOR_ENDPOINT is required in production (or start with -dispatch=false and run cmd/dispatcher)")

// submitter talks to the executor when one is configured. Outside production
// the stub executor confirms every command in process.
func submitter(cfg *config.Config, logger *slog.Logger) (chain.Submitter, error) {
	if cfg.ExecutorEndpoint != "" {
		return chain.NewHTTPClient(cfg.ExecutorEndpoint), nil
	}
	if cfg.IsProduction() {
		return nil, errNoExecutor
	}
	logger.Warn("EXECUTOR_ENDPOINT not set, publish commands are confirmed by the stub executor")
	return stub.NewSubmitter(), nil
}

func seedAdmin(ctx context.Context, stores *app.Stores, session string) error {
	if stores.Memory == nil {
		return errors.New("-dev-admin-session requires memory storage")
	}
	if err := stores.Memory.Grants().Put(ctx, 1, domain.Grants{Administrator: true}); err != nil {
		return err
	}
	return stores.Memory.Sessions().Put(ctx, session, 1, time.Now().Add(24*time.Hour))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
