package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darasahq/darasa-sync/internal/backup"
	"github.com/darasahq/darasa-sync/internal/tenant"
)

// lastBackupMetaKey records when a school store was last backed up.
const lastBackupMetaKey = "last_backup_at"

// BackupCapableStore is the store surface the backup worker needs.
type BackupCapableStore interface {
	Backup(ctx context.Context, destPath string) error
	SetSyncMeta(ctx context.Context, key, value string) error
}

// BackupStoreEnumerator provides access to school stores for backups.
type BackupStoreEnumerator interface {
	ListSchools(ctx context.Context) ([]tenant.SchoolInfo, error)
	// GetBackupStore returns the school's store and the path its local
	// backup copy is written to.
	GetBackupStore(ctx context.Context, schoolID string) (BackupCapableStore, string, error)
}

// BackupManagerAdapter adapts tenant.Manager to BackupStoreEnumerator.
type BackupManagerAdapter struct {
	manager *tenant.Manager
}

// NewBackupManagerAdapter creates an adapter for the given Manager.
func NewBackupManagerAdapter(manager *tenant.Manager) *BackupManagerAdapter {
	return &BackupManagerAdapter{manager: manager}
}

// ListSchools returns all schools from the underlying Manager.
func (a *BackupManagerAdapter) ListSchools(ctx context.Context) ([]tenant.SchoolInfo, error) {
	return a.manager.ListSchools(ctx)
}

// GetBackupStore returns the school's sync store and its backup location.
func (a *BackupManagerAdapter) GetBackupStore(ctx context.Context, schoolID string) (BackupCapableStore, string, error) {
	managed, err := a.manager.GetSchool(ctx, schoolID)
	if err != nil {
		return nil, "", err
	}
	s, ok := managed.Store.(BackupCapableStore)
	if !ok {
		return nil, "", fmt.Errorf("school %q store does not support backups", schoolID)
	}
	return s, managed.BackupPath(), nil
}

// BackupCoordinator periodically writes a consistent copy of every school
// store next to its database and uploads it to backup storage when
// configured.
type BackupCoordinator struct {
	manager  BackupStoreEnumerator
	uploader backup.Uploader
	interval time.Duration
}

// NewBackupCoordinator creates a backup coordinator.
func NewBackupCoordinator(manager BackupStoreEnumerator, uploader backup.Uploader, interval time.Duration) *BackupCoordinator {
	return &BackupCoordinator{
		manager:  manager,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// The first backup waits for a full ticker interval. Copying every school
// database is IO-intensive and should not compete with server startup.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("backup coordinator started",
		"component", "worker",
		"worker", "backup-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("backup coordinator stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.backupAllSchools(ctx)
		}
	}
}

// RunOnce performs a single backup sweep across all schools. Used by the
// backup command; the server uses Run instead.
func (c *BackupCoordinator) RunOnce(ctx context.Context) {
	c.backupAllSchools(ctx)
}

// backupAllSchools backs up each school, continuing on individual failures.
func (c *BackupCoordinator) backupAllSchools(ctx context.Context) {
	schools, err := c.manager.ListSchools(ctx)
	if err != nil {
		slog.Error("failed to list schools for backup",
			"component", "worker",
			"worker", "backup-coordinator",
			"error", err,
		)
		return
	}

	var succeeded, failed int

	for _, info := range schools {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}

		if c.backupSchool(ctx, info.ID) {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("backup cycle completed",
			"component", "worker",
			"worker", "backup-coordinator",
			"schools_total", len(schools),
			"schools_succeeded", succeeded,
			"schools_failed", failed,
		)
	}
}

// backupSchool writes one school's backup copy and uploads it. An upload
// failure is not fatal; the local copy is fresh and the next cycle retries
// the upload.
func (c *BackupCoordinator) backupSchool(ctx context.Context, schoolID string) bool {
	start := time.Now()

	s, destPath, err := c.manager.GetBackupStore(ctx, schoolID)
	if err != nil {
		slog.Warn("failed to get school store for backup",
			"component", "worker",
			"worker", "backup-coordinator",
			"school_id", schoolID,
			"error", err,
		)
		return false
	}

	if err := s.Backup(ctx, destPath); err != nil {
		slog.Error("backup failed for school",
			"component", "worker",
			"worker", "backup-coordinator",
			"school_id", schoolID,
			"error", err,
		)
		return false
	}

	if err := c.uploader.Upload(ctx, schoolID, destPath); err != nil {
		slog.Warn("backup upload failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"school_id", schoolID,
			"error", err,
		)
	}

	if err := s.SetSyncMeta(ctx, lastBackupMetaKey, start.UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record last backup time",
			"component", "worker",
			"worker", "backup-coordinator",
			"school_id", schoolID,
			"error", err,
		)
	}

	slog.Info("backup completed for school",
		"component", "worker",
		"worker", "backup-coordinator",
		"school_id", schoolID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return true
}
