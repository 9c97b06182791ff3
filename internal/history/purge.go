package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/darasahq/darasa-sync/internal/store"
)

// Result reports one purge pass over a school's queue history.
type Result struct {
	Purged     int64  `json:"purged"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Purge archives and deletes terminal queue items matching the query.
// Items are archived before deletion; an archive failure aborts the purge
// with nothing deleted.
func Purge(ctx context.Context, s store.Store, archiver Archiver, schoolID string, q store.PurgeQuery) (Result, error) {
	items, err := s.ListHistory(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("list queue history: %w", err)
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	key, err := archiver.Archive(ctx, schoolID, items)
	if err != nil {
		return Result{}, fmt.Errorf("archive history before purge: %w", err)
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	purged, err := s.DeleteQueueItems(ctx, ids)
	if err != nil {
		return Result{ArchiveKey: key}, fmt.Errorf("delete queue history: %w", err)
	}

	slog.Info("queue history purged",
		"component", "history",
		"school_id", schoolID,
		"purged", purged,
		"archive_key", key,
	)

	return Result{Purged: purged, ArchiveKey: key}, nil
}
