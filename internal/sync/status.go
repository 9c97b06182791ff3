package sync

import (
	"context"
	"fmt"
)

// SyncStatus aggregates a user's queue counts. is_syncing reports
// whether any item is currently mid-push, which clients use to avoid
// concurrent push attempts.
func (e *Engine) SyncStatus(ctx context.Context, userID string) (Status, error) {
	counts, err := e.store.QueueStatusCounts(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("count queue items: %w", err)
	}

	pendingConflicts, err := e.store.CountPendingConflicts(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("count pending conflicts: %w", err)
	}

	lastSyncAt, err := e.store.LastSyncedAt(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("get last synced at: %w", err)
	}

	return Status{
		PendingCount:  counts.Pending,
		SyncedCount:   counts.Synced,
		FailedCount:   counts.Failed,
		ConflictCount: pendingConflicts,
		LastSyncAt:    lastSyncAt,
		IsSyncing:     counts.Syncing > 0,
	}, nil
}
