package store

import (
	"context"
	"time"

	"github.com/darasahq/darasa-sync/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var _ Store = (*mockStore)(nil)

func (m *mockStore) InsertQueueItem(ctx context.Context, item *types.QueueItem) error {
	return nil
}
func (m *mockStore) GetQueueItem(ctx context.Context, id string) (*types.QueueItem, error) {
	return nil, nil
}
func (m *mockStore) GetQueueItemByClientOp(ctx context.Context, userID, clientOperationID string) (*types.QueueItem, error) {
	return nil, nil
}
func (m *mockStore) MarkQueueItemSynced(ctx context.Context, id string, serverVersion int64, syncedAt time.Time) error {
	return nil
}
func (m *mockStore) MarkQueueItemFailed(ctx context.Context, id string, message string) error {
	return nil
}
func (m *mockStore) MarkQueueItemConflict(ctx context.Context, id string, serverVersion int64, conflict *types.Conflict) error {
	return nil
}
func (m *mockStore) LatestSyncedForEntity(ctx context.Context, entityType, entityID string) (*types.QueueItem, error) {
	return nil, nil
}
func (m *mockStore) ListSyncedChanges(ctx context.Context, q ChangeQuery) ([]types.QueueItem, error) {
	return nil, nil
}
func (m *mockStore) CountSyncedChanges(ctx context.Context, q ChangeQuery) (int64, error) {
	return 0, nil
}
func (m *mockStore) QueueStatusCounts(ctx context.Context, userID string) (*types.StatusCounts, error) {
	return nil, nil
}
func (m *mockStore) LastSyncedAt(ctx context.Context, userID string) (*time.Time, error) {
	return nil, nil
}
func (m *mockStore) ListHistory(ctx context.Context, q PurgeQuery) ([]types.QueueItem, error) {
	return nil, nil
}
func (m *mockStore) DeleteQueueItems(ctx context.Context, ids []string) (int64, error) {
	return 0, nil
}
func (m *mockStore) GetConflict(ctx context.Context, id string) (*types.Conflict, error) {
	return nil, nil
}
func (m *mockStore) GetConflictByQueueItem(ctx context.Context, queueItemID string) (*types.Conflict, error) {
	return nil, nil
}
func (m *mockStore) ListConflicts(ctx context.Context, q ConflictQuery) ([]types.Conflict, int64, error) {
	return nil, 0, nil
}
func (m *mockStore) ApplyResolution(ctx context.Context, r Resolution) (*types.Conflict, error) {
	return nil, nil
}
func (m *mockStore) CountPendingConflicts(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}
func (m *mockStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	return "", nil
}
func (m *mockStore) SetSyncMeta(ctx context.Context, key, value string) error {
	return nil
}
func (m *mockStore) Close() error {
	return nil
}
