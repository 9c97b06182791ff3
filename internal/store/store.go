package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/darasahq/darasa-sync/internal/types"
)

// ChangeQuery filters the synced-change feed served to pull requests.
// A nil After means "from the beginning of history".
type ChangeQuery struct {
	UserID      string
	After       *time.Time
	EntityTypes []string
	Limit       int
	Offset      int
}

// ConflictQuery filters conflict listings.
type ConflictQuery struct {
	UserID             string
	ResolutionStatus   *types.ResolutionStatus
	EntityType         string
	HasVersionConflict *bool
	Limit              int
	Offset             int
}

// PurgeQuery selects terminal queue items (synced, failed) for history purging.
// An empty UserID selects all users; a nil Before selects regardless of age.
type PurgeQuery struct {
	UserID string
	Before *time.Time
	Limit  int
}

// Resolution carries one conflict resolution to apply atomically.
type Resolution struct {
	ConflictID string
	Status     types.ResolutionStatus
	MergedData json.RawMessage
	ResolvedBy string
	ResolvedAt time.Time
}

// Store defines the interface contract for sync queue, conflict, and metadata storage.
type Store interface {
	InsertQueueItem(ctx context.Context, item *types.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*types.QueueItem, error)
	GetQueueItemByClientOp(ctx context.Context, userID, clientOperationID string) (*types.QueueItem, error)
	MarkQueueItemSynced(ctx context.Context, id string, serverVersion int64, syncedAt time.Time) error
	MarkQueueItemFailed(ctx context.Context, id string, message string) error
	MarkQueueItemConflict(ctx context.Context, id string, serverVersion int64, conflict *types.Conflict) error
	LatestSyncedForEntity(ctx context.Context, entityType, entityID string) (*types.QueueItem, error)
	ListSyncedChanges(ctx context.Context, q ChangeQuery) ([]types.QueueItem, error)
	CountSyncedChanges(ctx context.Context, q ChangeQuery) (int64, error)
	QueueStatusCounts(ctx context.Context, userID string) (*types.StatusCounts, error)
	LastSyncedAt(ctx context.Context, userID string) (*time.Time, error)
	ListHistory(ctx context.Context, q PurgeQuery) ([]types.QueueItem, error)
	DeleteQueueItems(ctx context.Context, ids []string) (int64, error)

	GetConflict(ctx context.Context, id string) (*types.Conflict, error)
	GetConflictByQueueItem(ctx context.Context, queueItemID string) (*types.Conflict, error)
	ListConflicts(ctx context.Context, q ConflictQuery) ([]types.Conflict, int64, error)
	ApplyResolution(ctx context.Context, r Resolution) (*types.Conflict, error)
	CountPendingConflicts(ctx context.Context, userID string) (int64, error)

	GetSyncMeta(ctx context.Context, key string) (string, error)
	SetSyncMeta(ctx context.Context, key, value string) error

	Close() error
}
