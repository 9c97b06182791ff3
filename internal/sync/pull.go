package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/darasahq/darasa-sync/internal/store"
	"github.com/darasahq/darasa-sync/internal/types"
)

// Pull returns the user's synced changes after the request watermark in
// ascending synced_at order, so a client applying them sequentially
// reconstructs state correctly even if interrupted mid-page. Fetches one
// row past the page size to compute has_more without a second query; the
// total count is queried separately for progress display and may lag
// has_more under concurrent writes.
func (e *Engine) Pull(ctx context.Context, userID string, req PullRequest) (PullResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	q := store.ChangeQuery{
		UserID:      userID,
		After:       req.LastSyncTimestamp,
		EntityTypes: req.EntityTypes,
		Limit:       limit + 1,
		Offset:      offset,
	}

	items, err := e.store.ListSyncedChanges(ctx, q)
	if err != nil {
		return PullResponse{}, fmt.Errorf("list synced changes: %w", err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	total, err := e.store.CountSyncedChanges(ctx, q)
	if err != nil {
		return PullResponse{}, fmt.Errorf("count synced changes: %w", err)
	}

	changes := make([]Change, 0, len(items))
	for i := range items {
		changes = append(changes, toChange(&items[i]))
	}

	return PullResponse{
		Changes:       changes,
		HasMore:       hasMore,
		SyncTimestamp: time.Now().UTC(),
		Total:         total,
	}, nil
}

// toChange maps a queue item to its pull representation, collapsing the
// nullable columns to their effective values.
func toChange(item *types.QueueItem) Change {
	version := item.ClientVersion
	if item.ServerVersion != nil {
		version = *item.ServerVersion
	}
	timestamp := item.UpdatedAt
	if item.SyncedAt != nil {
		timestamp = *item.SyncedAt
	}
	return Change{
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Operation:  item.Operation,
		Payload:    item.Payload,
		Version:    version,
		Timestamp:  timestamp,
	}
}
