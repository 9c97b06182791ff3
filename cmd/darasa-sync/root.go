package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/darasahq/darasa-sync/internal/ability"
	"github.com/darasahq/darasa-sync/internal/api"
	"github.com/darasahq/darasa-sync/internal/backup"
	"github.com/darasahq/darasa-sync/internal/config"
	"github.com/darasahq/darasa-sync/internal/history"
	"github.com/darasahq/darasa-sync/internal/tenant"
	"github.com/darasahq/darasa-sync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "darasa-sync",
	Short: "Darasa Sync - Offline Sync Service",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(schoolCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(backupCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize school manager (lazy per-school stores)
	manager, err := tenant.NewManager(cfg.Schools.RootPath, cfg.Schools.AutoProvision)
	if err != nil {
		return err
	}
	slog.Info("school manager initialized",
		"root", cfg.Schools.RootPath,
		"auto_provision", cfg.Schools.AutoProvision)

	// 5. Initialize history archiver and backup uploader
	archiver, err := history.NewArchiver(cfg.Archive)
	if err != nil {
		return err
	}
	if cfg.Archive.Bucket != "" {
		slog.Info("archiver initialized", "bucket", cfg.Archive.Bucket)
	} else {
		slog.Info("archive disabled")
	}

	uploader, err := backup.NewUploader(cfg.Archive, time.Duration(cfg.Backup.URLExpiry))
	if err != nil {
		return err
	}

	// 6. Initialize HTTP router
	handler := api.NewHandler(manager, nil, ability.NewRoleChecker(), archiver, uploader, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, manager)
	slog.Info("router initialized")

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Background workers
	var wg sync.WaitGroup
	if cfg.Retention.Enabled {
		coordinator := worker.NewRetentionCoordinator(
			worker.NewRetentionManagerAdapter(manager),
			archiver,
			time.Duration(cfg.Retention.Interval),
			time.Duration(cfg.Retention.MaxAge),
			cfg.Retention.BatchSize,
		)
		startWorker(ctx, &wg, "retention", coordinator.Run)
	}
	if cfg.Backup.Enabled {
		coordinator := worker.NewBackupCoordinator(
			worker.NewBackupManagerAdapter(manager),
			uploader,
			time.Duration(cfg.Backup.Interval),
		)
		startWorker(ctx, &wg, "backup", coordinator.Run)
	}

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for workers to complete
	wg.Wait()

	// 11c. Close school stores
	if err := manager.Close(); err != nil {
		slog.Error("school manager close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger from config. Format "text" gives
// human-readable output for development; anything else is JSON.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
