package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/darasahq/darasa-sync/internal/backup"
	"github.com/darasahq/darasa-sync/internal/config"
	"github.com/darasahq/darasa-sync/internal/tenant"
	"github.com/darasahq/darasa-sync/internal/worker"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup sweep across all schools",
	Long:  "Write a consistent copy of every provisioned school's database next to its store, uploading each copy when archive storage is configured. This is the same sweep the server runs on its backup interval.",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log))

	manager, err := tenant.NewManager(cfg.Schools.RootPath, false)
	if err != nil {
		return err
	}
	defer manager.Close()

	uploader, err := backup.NewUploader(cfg.Archive, time.Duration(cfg.Backup.URLExpiry))
	if err != nil {
		return err
	}

	coordinator := worker.NewBackupCoordinator(
		worker.NewBackupManagerAdapter(manager),
		uploader,
		0, // interval unused for a one-shot sweep
	)
	coordinator.RunOnce(ctx)

	fmt.Fprintln(cmd.OutOrStdout(), "Backup sweep complete")
	return nil
}
