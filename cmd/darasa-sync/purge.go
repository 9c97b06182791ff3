package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/darasahq/darasa-sync/internal/config"
	"github.com/darasahq/darasa-sync/internal/history"
	"github.com/darasahq/darasa-sync/internal/tenant"
	"github.com/darasahq/darasa-sync/internal/worker"
)

var (
	purgeMaxAge    time.Duration
	purgeBatchSize int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run one retention sweep across all schools",
	Long:  "Purge aged sync history from every provisioned school, archiving batches when archive storage is configured. This is the same sweep the server runs on its retention interval.",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeMaxAge, "max-age", 0,
		"Purge history older than this (default: retention.max_age from config)")
	purgeCmd.Flags().IntVar(&purgeBatchSize, "batch-size", 0,
		"Items per purge batch (default: retention.batch_size from config)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log))

	maxAge := time.Duration(cfg.Retention.MaxAge)
	if purgeMaxAge > 0 {
		maxAge = purgeMaxAge
	}
	batchSize := cfg.Retention.BatchSize
	if purgeBatchSize > 0 {
		batchSize = purgeBatchSize
	}

	manager, err := tenant.NewManager(cfg.Schools.RootPath, false)
	if err != nil {
		return err
	}
	defer manager.Close()

	archiver, err := history.NewArchiver(cfg.Archive)
	if err != nil {
		return err
	}

	coordinator := worker.NewRetentionCoordinator(
		worker.NewRetentionManagerAdapter(manager),
		archiver,
		0, // interval unused for a one-shot sweep
		maxAge,
		batchSize,
	)
	coordinator.RunOnce(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "Retention sweep complete (max age: %s)\n", maxAge)
	return nil
}
