package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/darasahq/darasa-sync/internal/history"
	"github.com/darasahq/darasa-sync/internal/store"
	"github.com/darasahq/darasa-sync/internal/tenant"
)

// lastPurgeMetaKey records when retention last purged a school store.
const lastPurgeMetaKey = "last_purge_at"

// RetentionStoreEnumerator provides access to school stores for retention.
type RetentionStoreEnumerator interface {
	ListSchools(ctx context.Context) ([]tenant.SchoolInfo, error)
	GetRetentionStore(ctx context.Context, schoolID string) (store.Store, error)
}

// RetentionManagerAdapter adapts tenant.Manager to RetentionStoreEnumerator.
type RetentionManagerAdapter struct {
	manager *tenant.Manager
}

// NewRetentionManagerAdapter creates an adapter for the given Manager.
func NewRetentionManagerAdapter(manager *tenant.Manager) *RetentionManagerAdapter {
	return &RetentionManagerAdapter{manager: manager}
}

// ListSchools returns all schools from the underlying Manager.
func (a *RetentionManagerAdapter) ListSchools(ctx context.Context) ([]tenant.SchoolInfo, error) {
	return a.manager.ListSchools(ctx)
}

// GetRetentionStore returns the school's sync store.
func (a *RetentionManagerAdapter) GetRetentionStore(ctx context.Context, schoolID string) (store.Store, error) {
	managed, err := a.manager.GetSchool(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return managed.Store, nil
}

// RetentionCoordinator purges aged queue history across all school stores.
type RetentionCoordinator struct {
	manager   RetentionStoreEnumerator
	archiver  history.Archiver
	interval  time.Duration
	maxAge    time.Duration
	batchSize int
}

// NewRetentionCoordinator creates a retention coordinator.
func NewRetentionCoordinator(
	manager RetentionStoreEnumerator,
	archiver history.Archiver,
	interval time.Duration,
	maxAge time.Duration,
	batchSize int,
) *RetentionCoordinator {
	return &RetentionCoordinator{
		manager:   manager,
		archiver:  archiver,
		interval:  interval,
		maxAge:    maxAge,
		batchSize: batchSize,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// The first purge waits for a full ticker interval. Purging is IO-intensive
// and should not spike resources during server startup.
func (c *RetentionCoordinator) Run(ctx context.Context) {
	slog.Info("retention coordinator started",
		"component", "worker",
		"worker", "retention-coordinator",
		"interval", c.interval.String(),
		"max_age", c.maxAge.String(),
		"batch_size", c.batchSize,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention coordinator stopped",
				"component", "worker",
				"worker", "retention-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.purgeAllSchools(ctx)
		}
	}
}

// RunOnce performs a single retention sweep across all schools. Used by
// the purge command; the server uses Run instead.
func (c *RetentionCoordinator) RunOnce(ctx context.Context) {
	c.purgeAllSchools(ctx)
}

// purgeAllSchools runs retention on each school, continuing on individual failures.
func (c *RetentionCoordinator) purgeAllSchools(ctx context.Context) {
	schools, err := c.manager.ListSchools(ctx)
	if err != nil {
		slog.Error("failed to list schools for retention",
			"component", "worker",
			"worker", "retention-coordinator",
			"error", err,
		)
		return
	}

	var succeeded, failed, skipped int
	var totalPurged int64

	for _, info := range schools {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}

		purged, ok := c.purgeSchool(ctx, info.ID)
		if ok {
			if purged == 0 {
				skipped++
			} else {
				succeeded++
				totalPurged += purged
			}
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("retention cycle completed",
			"component", "worker",
			"worker", "retention-coordinator",
			"schools_total", len(schools),
			"schools_succeeded", succeeded,
			"schools_failed", failed,
			"schools_skipped", skipped,
			"items_purged", totalPurged,
		)
	}
}

// purgeSchool drains aged history for a single school in batches.
// Returns: items purged, success.
func (c *RetentionCoordinator) purgeSchool(ctx context.Context, schoolID string) (int64, bool) {
	start := time.Now()
	cutoff := start.Add(-c.maxAge).UTC()

	s, err := c.manager.GetRetentionStore(ctx, schoolID)
	if err != nil {
		slog.Warn("failed to get school store for retention",
			"component", "worker",
			"worker", "retention-coordinator",
			"school_id", schoolID,
			"error", err,
		)
		return 0, false
	}

	var total int64
	for {
		result, err := history.Purge(ctx, s, c.archiver, schoolID, store.PurgeQuery{
			Before: &cutoff,
			Limit:  c.batchSize,
		})
		if err != nil {
			if ctx.Err() != nil {
				return total, false // Graceful shutdown
			}
			slog.Error("retention purge failed for school",
				"component", "worker",
				"worker", "retention-coordinator",
				"school_id", schoolID,
				"error", err,
			)
			return total, false
		}

		total += result.Purged
		if result.Purged == 0 || c.batchSize <= 0 || int(result.Purged) < c.batchSize {
			break
		}
	}

	if total == 0 {
		slog.Debug("no queue history to purge",
			"component", "worker",
			"worker", "retention-coordinator",
			"school_id", schoolID,
		)
		return 0, true
	}

	if err := s.SetSyncMeta(ctx, lastPurgeMetaKey, start.UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record last purge time",
			"component", "worker",
			"worker", "retention-coordinator",
			"school_id", schoolID,
			"error", err,
		)
	}

	slog.Info("retention completed for school",
		"component", "worker",
		"worker", "retention-coordinator",
		"school_id", schoolID,
		"items_purged", total,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return total, true
}
