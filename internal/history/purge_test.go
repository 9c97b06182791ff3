package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/darasahq/darasa-sync/internal/store"
	"github.com/darasahq/darasa-sync/internal/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s store.Store, id, userID string, status types.QueueStatus, updatedAt time.Time) {
	t.Helper()
	item := &types.QueueItem{
		ID:                id,
		UserID:            userID,
		ClientOperationID: "op-" + id,
		EntityType:        "attendance",
		EntityID:          "e-" + id,
		Operation:         types.OperationUpdate,
		Payload:           json.RawMessage(`{"present":true}`),
		ClientVersion:     1,
		Status:            status,
		ClientTimestamp:   updatedAt,
		CreatedAt:         updatedAt,
		UpdatedAt:         updatedAt,
	}
	if status == types.StatusSynced {
		sv := int64(1)
		at := updatedAt
		item.ServerVersion = &sv
		item.SyncedAt = &at
	}
	if err := s.InsertQueueItem(context.Background(), item); err != nil {
		t.Fatalf("seed queue item %s: %v", id, err)
	}
}

// recordingArchiver implements Archiver for testing.
type recordingArchiver struct {
	items []types.QueueItem
	key   string
	err   error
	calls int
}

func (a *recordingArchiver) Archive(ctx context.Context, schoolID string, items []types.QueueItem) (string, error) {
	a.calls++
	a.items = append(a.items, items...)
	if a.err != nil {
		return "", a.err
	}
	return a.key, nil
}

func TestPurge_DeletesTerminalItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedItem(t, s, "q1", "user-1", types.StatusSynced, now)
	seedItem(t, s, "q2", "user-1", types.StatusFailed, now)
	seedItem(t, s, "q3", "user-2", types.StatusSynced, now)
	seedItem(t, s, "q4", "user-1", types.StatusPending, now)

	archiver := &recordingArchiver{key: "greenwood/history/batch.jsonl"}
	result, err := Purge(ctx, s, archiver, "greenwood", store.PurgeQuery{})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	if result.Purged != 3 {
		t.Errorf("Purged = %d, want 3", result.Purged)
	}
	if result.ArchiveKey != "greenwood/history/batch.jsonl" {
		t.Errorf("ArchiveKey = %q, want the archiver key", result.ArchiveKey)
	}
	if archiver.calls != 1 {
		t.Errorf("Archive called %d times, want 1", archiver.calls)
	}
	if len(archiver.items) != 3 {
		t.Errorf("archived %d items, want 3", len(archiver.items))
	}

	// Terminal items are gone, the pending item survives.
	if _, err := s.GetQueueItem(ctx, "q1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetQueueItem(q1) = %v, want ErrNotFound", err)
	}
	if _, err := s.GetQueueItem(ctx, "q4"); err != nil {
		t.Errorf("GetQueueItem(q4) error = %v, pending item should survive", err)
	}
}

func TestPurge_EmptyHistory(t *testing.T) {
	s := newTestStore(t)

	archiver := &recordingArchiver{key: "unused"}
	result, err := Purge(context.Background(), s, archiver, "greenwood", store.PurgeQuery{})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	if result.Purged != 0 || result.ArchiveKey != "" {
		t.Errorf("Purge() on empty history = %+v, want zero result", result)
	}
	if archiver.calls != 0 {
		t.Errorf("Archive called %d times, want 0", archiver.calls)
	}
}

func TestPurge_ArchiveFailureAborts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "q1", "user-1", types.StatusSynced, time.Now().UTC())

	archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
	_, err := Purge(ctx, s, archiver, "greenwood", store.PurgeQuery{})
	if err == nil {
		t.Fatal("Purge() expected error when archive fails, got nil")
	}
	if !errors.Is(err, archiver.err) {
		t.Errorf("expected wrapped archive error, got %v", err)
	}

	// Nothing deleted.
	if _, err := s.GetQueueItem(ctx, "q1"); err != nil {
		t.Errorf("GetQueueItem(q1) error = %v, item should survive a failed archive", err)
	}
}

func TestPurge_BeforeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedItem(t, s, "q-old", "user-1", types.StatusSynced, now.Add(-48*time.Hour))
	seedItem(t, s, "q-new", "user-1", types.StatusSynced, now)

	cutoff := now.Add(-24 * time.Hour)
	result, err := Purge(ctx, s, &recordingArchiver{}, "greenwood", store.PurgeQuery{Before: &cutoff})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	if result.Purged != 1 {
		t.Errorf("Purged = %d, want 1", result.Purged)
	}
	if _, err := s.GetQueueItem(ctx, "q-old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetQueueItem(q-old) = %v, want ErrNotFound", err)
	}
	if _, err := s.GetQueueItem(ctx, "q-new"); err != nil {
		t.Errorf("GetQueueItem(q-new) error = %v, recent item should survive", err)
	}
}

func TestPurge_UserFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedItem(t, s, "q1", "user-1", types.StatusSynced, now)
	seedItem(t, s, "q2", "user-2", types.StatusSynced, now)

	result, err := Purge(ctx, s, &recordingArchiver{}, "greenwood", store.PurgeQuery{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	if result.Purged != 1 {
		t.Errorf("Purged = %d, want 1", result.Purged)
	}
	if _, err := s.GetQueueItem(ctx, "q2"); err != nil {
		t.Errorf("GetQueueItem(q2) error = %v, other user's item should survive", err)
	}
}

func TestPurge_LimitBoundsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		seedItem(t, s, "q"+string(rune('a'+i)), "user-1", types.StatusSynced,
			now.Add(time.Duration(i)*time.Minute))
	}

	archiver := &recordingArchiver{}
	result, err := Purge(ctx, s, archiver, "greenwood", store.PurgeQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	if result.Purged != 2 {
		t.Errorf("Purged = %d, want 2", result.Purged)
	}
	// Oldest items go first.
	if len(archiver.items) != 2 || archiver.items[0].ID != "qa" || archiver.items[1].ID != "qb" {
		ids := make([]string, len(archiver.items))
		for i, item := range archiver.items {
			ids[i] = item.ID
		}
		t.Errorf("archived ids = %v, want [qa qb]", ids)
	}
}

func TestPurge_RemovesAttachedConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A resolved conflict rides along with its synced queue item.
	seedItem(t, s, "q1", "user-1", types.StatusSyncing, now)
	conflict := &types.Conflict{
		ID:               "c1",
		QueueItemID:      "q1",
		UserID:           "user-1",
		EntityType:       "attendance",
		EntityID:         "e-q1",
		ClientVersion:    1,
		ServerVersion:    2,
		ResolutionStatus: types.ResolutionPending,
		CreatedAt:        now,
	}
	if err := s.MarkQueueItemConflict(ctx, "q1", 2, conflict); err != nil {
		t.Fatalf("MarkQueueItemConflict() error = %v", err)
	}
	if _, err := s.ApplyResolution(ctx, store.Resolution{
		ConflictID: "c1",
		Status:     types.ResolutionAcceptedServer,
		ResolvedBy: "user-1",
		ResolvedAt: now,
	}); err != nil {
		t.Fatalf("ApplyResolution() error = %v", err)
	}

	result, err := Purge(ctx, s, &recordingArchiver{}, "greenwood", store.PurgeQuery{})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if result.Purged != 1 {
		t.Errorf("Purged = %d, want 1", result.Purged)
	}

	if _, err := s.GetConflict(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetConflict(c1) = %v, want ErrNotFound after purge", err)
	}
}
