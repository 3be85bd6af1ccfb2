package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gitdeps/fetcher/internal/cache"
	"github.com/gitdeps/fetcher/internal/config"
	"github.com/gitdeps/fetcher/internal/downloader"
	"github.com/gitdeps/fetcher/internal/http/rest"
	"github.com/gitdeps/fetcher/internal/logctx"
	"github.com/gitdeps/fetcher/internal/manifest"
	"github.com/gitdeps/fetcher/internal/storage"
	"github.com/gitdeps/fetcher/internal/storage/sqlite"
	"github.com/gitdeps/fetcher/internal/telemetry"
	"github.com/gitdeps/fetcher/internal/transfer"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := newRootCmd(cfg).Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var printStats bool

	cmd := &cobra.Command{
		Use:           "gitdeps_fetcher <Commit.gitdeps.xml>",
		Short:         "Fetch, verify and cache content-addressed dependency packs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(logctx.WithLogger(ctx, slog.Default()), cfg, args[0], printStats)
		},
	}

	// Flags override the environment-derived defaults for per-run values.
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrent downloads")
	cmd.Flags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "maximum download retries per item")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request response header timeout")
	cmd.Flags().IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "download chunk size in bytes")
	cmd.Flags().StringVar(&cfg.CacheDir, "output-dir", cfg.CacheDir, "directory for downloaded files")
	cmd.Flags().BoolVar(&cfg.ForceVerify, "force-verify", cfg.ForceVerify, "verify every file regardless of ledger records")
	cmd.Flags().BoolVar(&printStats, "stats", false, "print ledger statistics after the run")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, manifestPath string, printStats bool) error {
	logger := logctx.LoggerFromContext(ctx)

	items, err := manifest.Parse(manifestPath)
	if err != nil {
		return err
	}

	logger.Info("manifest parsed", "manifest", manifestPath, "items", len(items))

	maxBytes, err := cfg.CacheMaxBytes()
	if err != nil {
		return err
	}

	// =========================================================================
	// Cache Store
	store, err := cache.New(cfg.CacheDir, maxBytes, cfg.CleanupThresholdFraction())
	if err != nil {
		return err
	}

	// =========================================================================
	// Verification Ledger
	dbPath := filepath.Join(cfg.CacheDir, cfg.LedgerFile)

	database, err := sqlite.InitDB(dbPath)
	if err != nil {
		return fmt.Errorf("ledger init error: %w", err)
	}
	defer database.Close()

	ledger := sqlite.NewVerificationRepository(database, cfg.CacheDir, dbPath, cfg.ForceVerify, logger)

	// Flush on every exit path, including cancellation, so the skip
	// optimization stays safe across runs.
	defer func() {
		if err := ledger.Flush(); err != nil {
			logger.Error("failed to flush ledger", "err", err)
		}
	}()

	// =========================================================================
	// Telemetry + Downloader
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Web.BindAddress != "",
		ServiceName: "gitdeps_fetcher",
	})
	if err != nil {
		return fmt.Errorf("telemetry error: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	client := &http.Client{
		Timeout: 0, // bodies can be large; bound the header wait instead
		Transport: otelhttp.NewTransport(&http.Transport{
			ResponseHeaderTimeout: cfg.Timeout,
			MaxIdleConnsPerHost:   cfg.Workers,
		}),
	}

	machine := transfer.NewMachine(client, store, ledger, cfg.MaxRetries, cfg.ChunkSize)
	dl := downloader.NewDownloader(machine, cfg.Workers, tel)

	var completed, succeeded atomic.Int32

	dl.OnProgress = func(done, ok, total int) {
		completed.Store(int32(done))
		succeeded.Store(int32(ok))
		logger.Info("progress", "completed", done, "successful", ok, "total", total)
	}

	// =========================================================================
	// Status server (only when a bind address is configured)
	if cfg.Web.BindAddress != "" {
		tally := func() (int, int, int) {
			return int(completed.Load()), int(succeeded.Load()), len(items)
		}

		shutdown := startStatusServer(ctx, cfg, rest.NewStatusHandler(ledger, tally, tel.Handler()))
		defer shutdown()
	}

	// =========================================================================
	// Batch
	batch := dl.DownloadBatch(ctx, items)

	fmt.Printf("Download complete: %d/%d files downloaded successfully\n", batch.Succeeded, batch.Total)

	if printStats {
		if stats, err := ledger.Statistics(); err != nil {
			logger.Error("failed to read ledger statistics", "err", err)
		} else {
			renderStatistics(stats)
		}
	}

	return ctx.Err()
}

func startStatusServer(ctx context.Context, cfg *config.Config, handler *rest.StatusHandler) func() {
	logger := logctx.LoggerFromContext(ctx)

	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      handler.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("status server listening", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server error", "err", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown status server", "err", err)

			_ = server.Close()
		}
	}
}

func renderStatistics(stats *storage.Statistics) {
	fmt.Printf("Verification records: %d\n", stats.TotalRecords)

	for _, status := range []storage.Status{storage.StatusValid, storage.StatusCorrupt, storage.StatusHashMismatch} {
		if count, ok := stats.StatusCounts[status]; ok {
			fmt.Printf("  %s: %d\n", status, count)
		}
	}

	fmt.Printf("Verified today: %d\n", stats.VerifiedToday)
	fmt.Printf("Ledger size: %s\n", humanize.Bytes(uint64(stats.StorageBytes)))
}
