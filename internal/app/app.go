// Package app manages the photcat daemon lifecycle: shared resources,
// per-mode HTTP servers, and the periodic maintenance loop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/photcat/photcat/internal/api/http"
	"github.com/photcat/photcat/internal/config"
	"github.com/photcat/photcat/internal/notify"
	"github.com/photcat/photcat/internal/observability"
	"github.com/photcat/photcat/internal/pipeline"
	"github.com/photcat/photcat/internal/registry"
	"github.com/photcat/photcat/internal/server"
	"github.com/photcat/photcat/internal/storage"
)

// archivePrefix is where ingest runs place catalog objects; the
// maintenance pass scans the same prefix for orphans.
const archivePrefix = "catalogs"

// App wires the photcat services together and owns their lifecycle.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Shared resources
	archive  storage.ObjectStorage
	cache    *storage.FileCache
	fetcher  *storage.Fetcher
	registry *registry.Registry
	notifier *notify.Notifier
	stats    *observability.RunStats
	runner   *pipeline.Runner
	shutdown *server.ShutdownManager

	ingestServer  *server.GracefulHTTPServer
	inspectServer *server.GracefulHTTPServer

	// Last maintenance outcome, served by /v1/maintain/report.
	reportMu   sync.Mutex
	lastReport *registry.ReconcileReport

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the configuration and prepares an App. Nothing is
// opened until Start.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}
	return &App{cfg: cfg, log: slog.Default()}, nil
}

// SetLogger replaces the default logger. Call before Start.
func (a *App) SetLogger(log *slog.Logger) { a.log = log }

// Start initializes shared resources and starts the services the
// configured mode asks for.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("initializing shared resources: %w", err)
	}

	if a.cfg.ShouldRunIngest() {
		a.startIngestService()
	}
	if a.cfg.ShouldRunInspect() {
		a.startInspectService()
	}
	if a.cfg.ShouldRunMaintain() {
		a.startMaintainService(ctx)
	}

	a.log.Info("photcat started", "mode", a.cfg.Mode)
	return nil
}

// initSharedResources opens storage, the ledger, and the runner.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.archive, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
			s3Cfg.UsePathStyle = true
		}
		a.archive, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	a.log.Info("archive storage initialized", "type", a.cfg.Storage.Type)

	cacheBudget := a.cfg.Storage.CacheMaxBytes
	if cacheBudget <= 0 {
		cacheBudget = 1 << 30
	}
	a.cache, err = storage.NewFileCache(a.cfg.Storage.CacheDir, cacheBudget)
	if err != nil {
		return fmt.Errorf("opening fetch cache: %w", err)
	}
	a.fetcher = storage.NewFetcher(a.archive, a.cache, a.cfg.Storage.CacheDir, 0)

	a.registry, err = registry.Open(a.cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("opening product ledger: %w", err)
	}
	a.log.Info("product ledger opened", "path", a.cfg.Registry.Path)

	a.notifier = notify.NewNotifier(0)
	a.stats = observability.NewRunStats()
	a.runner = pipeline.NewRunner(a.cfg, pipeline.Deps{
		Registry: a.registry,
		Archive:  a.archive,
		Fetcher:  a.fetcher,
		Notifier: a.notifier,
		Stats:    a.stats,
		Log:      a.log,
	})

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())

	// Closers run LIFO: servers register theirs later and close first,
	// leaving the ledger open until the last run has finished.
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		return a.registry.Close()
	}))
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.runner.Close()
		a.notifier.Close()
		a.cache.Close()
		return nil
	}))

	return nil
}

func (a *App) middleware() func(http.Handler) http.Handler {
	return httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.DefaultMiddleware(),
	)
}

// startIngestService serves POST /v1/ingest.
func (a *App) startIngestService() {
	mux := http.NewServeMux()
	mux.Handle("/v1/ingest", a.middleware()(httpapi.NewIngestHandler(a.runner)))
	mux.Handle("/health", httpapi.HealthHandler())

	a.ingestServer = server.NewGracefulHTTPServer(&http.Server{
		Addr:         a.cfg.HTTP.IngestAddr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}, a.shutdown)
	a.serve("ingest", a.cfg.HTTP.IngestAddr, a.ingestServer)
}

// startInspectService serves the ledger, statistics, and maintenance
// report routes.
func (a *App) startInspectService() {
	mw := a.middleware()
	products := mw(httpapi.NewProductsHandler(a.registry))

	mux := http.NewServeMux()
	mux.Handle("/v1/products", products)
	mux.Handle("/v1/products/", products)
	mux.Handle("/v1/stats", mw(httpapi.NewStatsHandler(a.stats)))
	mux.Handle("/v1/maintain/report", mw(httpapi.NewMaintainReportHandler(a)))
	mux.Handle("/health", httpapi.HealthHandler())

	a.inspectServer = server.NewGracefulHTTPServer(&http.Server{
		Addr:         a.cfg.HTTP.InspectAddr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}, a.shutdown)
	a.serve("inspect", a.cfg.HTTP.InspectAddr, a.inspectServer)
}

func (a *App) serve(name, addr string, srv *server.GracefulHTTPServer) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("HTTP server listening", "service", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil {
			a.log.Error("HTTP server failed", "service", name, "err", err)
		}
	}()
}

// startMaintainService runs reconcile and prune passes on the
// configured interval. The first pass runs immediately.
func (a *App) startMaintainService(ctx context.Context) {
	interval := a.cfg.Maintain.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	a.log.Info("maintenance loop started",
		"interval", interval, "retention_days", a.cfg.Maintain.RetentionDays)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		a.runMaintenance(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.shutdown.ShutdownCh():
				return
			case <-ticker.C:
				a.runMaintenance(ctx)
			}
		}
	}()
}

// runMaintenance performs one reconcile and prune pass.
func (a *App) runMaintenance(ctx context.Context) {
	report, err := a.registry.Reconcile(ctx, a.archive, archivePrefix)
	if err != nil {
		a.log.Error("reconciliation failed", "err", err)
		return
	}
	a.reportMu.Lock()
	a.lastReport = report
	a.reportMu.Unlock()
	if report.HasIssues() {
		a.log.Warn("ledger and storage disagree",
			"dangling", len(report.Dangling), "orphaned", len(report.Orphaned))
	}

	retention := time.Duration(a.cfg.Maintain.RetentionDays) * 24 * time.Hour
	result, err := a.registry.Prune(ctx, retention, false, a.archive)
	if err != nil {
		a.log.Error("prune failed", "err", err)
		return
	}
	if result.DeletedRows > 0 || result.DeletedObjects > 0 {
		a.log.Info("pruned superseded products",
			"rows", result.DeletedRows, "objects", result.DeletedObjects)
	}
}

// LastReport returns the most recent reconciliation report, or nil
// before the first maintenance pass.
func (a *App) LastReport() *registry.ReconcileReport {
	a.reportMu.Lock()
	defer a.reportMu.Unlock()
	return a.lastReport
}

// Runner exposes the shared pipeline runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Notifier exposes the catalog event bus.
func (a *App) Notifier() *notify.Notifier { return a.notifier }

// Stats exposes the run counters.
func (a *App) Stats() *observability.RunStats { return a.stats }

// WaitForShutdown blocks until a termination signal arrives, then runs
// the shutdown.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.log.Info("shutting down")
	if a.cancel != nil {
		a.cancel()
	}

	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		a.log.Warn("timed out waiting for service goroutines")
	}

	a.log.Info("photcat stopped")
	return err
}

// cleanup releases whatever initSharedResources managed to open.
func (a *App) cleanup() {
	if a.runner != nil {
		a.runner.Close()
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
}
