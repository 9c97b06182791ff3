// Package sync implements the offline sync engine: push processing with
// optimistic-locking conflict detection, the synced-change pull feed,
// conflict resolution, and per-user status aggregation.
//
// Entity payloads are opaque JSON throughout. The engine records what
// clients synced and which versions won; applying entity state is the
// caller's concern.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/darasahq/darasa-sync/internal/entity"
	"github.com/darasahq/darasa-sync/internal/store"
	"github.com/darasahq/darasa-sync/internal/types"
)

// Engine orchestrates sync operations against one school's store.
type Engine struct {
	store    store.Store
	detector *Detector
}

// NewEngine creates an engine backed by s. The entity resolver supplies
// authoritative server snapshots for conflict records when the queue
// history has no payload to show; pass nil if no entity store is wired.
func NewEngine(s store.Store, entities entity.Resolver) *Engine {
	return &Engine{
		store:    s,
		detector: NewDetector(s, entities),
	}
}

// Push processes a batch of client operations for userID. Operations are
// applied sequentially in submission order, each one isolated: a failure
// records a failed result and processing continues. The returned
// response buckets every operation into synced, conflicts, or failed.
func (e *Engine) Push(ctx context.Context, userID string, req PushRequest) PushResponse {
	resp := PushResponse{
		Synced:    []SyncedResult{},
		Conflicts: []ConflictResult{},
		Failed:    []FailedResult{},
	}

	for _, op := range req.Operations {
		e.pushOne(ctx, userID, op, &resp)
	}

	resp.SyncTimestamp = time.Now().UTC()
	resp.Message = fmt.Sprintf("Processed %d operations: %d synced, %d conflicts, %d failed",
		len(req.Operations), len(resp.Synced), len(resp.Conflicts), len(resp.Failed))
	return resp
}

func (e *Engine) pushOne(ctx context.Context, userID string, op PushOperation, resp *PushResponse) {
	if err := ValidateOperation(op); err != nil {
		resp.Failed = append(resp.Failed, FailedResult{
			ClientOperationID: op.ClientOperationID,
			Error:             err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	item := &types.QueueItem{
		ID:                ulid.Make().String(),
		UserID:            userID,
		ClientOperationID: op.ClientOperationID,
		EntityType:        op.EntityType,
		EntityID:          op.EntityID,
		Operation:         op.Operation,
		Payload:           op.Payload,
		ClientVersion:     op.ClientVersion,
		Status:            types.StatusSyncing,
		ClientTimestamp:   op.ClientTimestamp.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := e.store.InsertQueueItem(ctx, item)
	if errors.Is(err, store.ErrDuplicateOperation) {
		e.replay(ctx, userID, op.ClientOperationID, resp)
		return
	}
	if err != nil {
		resp.Failed = append(resp.Failed, FailedResult{
			ClientOperationID: op.ClientOperationID,
			Error:             fmt.Sprintf("persist operation: %s", err),
		})
		return
	}

	e.finalize(ctx, item, resp)
}

// finalize moves a syncing item to its terminal state: conflict when the
// version check flags it, synced otherwise. CREATE operations and
// operations without an entity id skip the check entirely; there is no
// prior server state to be stale against.
func (e *Engine) finalize(ctx context.Context, item *types.QueueItem, resp *PushResponse) {
	needsCheck := item.EntityID != "" &&
		(item.Operation == types.OperationUpdate || item.Operation == types.OperationDelete)
	if !needsCheck {
		e.markSynced(ctx, item, resp)
		return
	}

	det, err := e.detector.Detect(ctx, item.EntityType, item.EntityID, item.ClientVersion)
	if err != nil {
		e.markFailed(ctx, item, fmt.Sprintf("conflict check: %s", err), resp)
		return
	}
	if !det.Conflict {
		e.markSynced(ctx, item, resp)
		return
	}

	conflict := e.buildConflict(item, det)
	err = e.store.MarkQueueItemConflict(ctx, item.ID, det.ServerVersion, conflict)
	if errors.Is(err, store.ErrInvalidTransition) {
		e.replay(ctx, item.UserID, item.ClientOperationID, resp)
		return
	}
	if err != nil {
		e.markFailed(ctx, item, fmt.Sprintf("record conflict: %s", err), resp)
		return
	}

	resp.Conflicts = append(resp.Conflicts, ConflictResult{
		ClientOperationID: item.ClientOperationID,
		QueueItemID:       item.ID,
		ConflictID:        conflict.ID,
		EntityType:        item.EntityType,
		EntityID:          item.EntityID,
		ClientVersion:     item.ClientVersion,
		ServerVersion:     det.ServerVersion,
		ServerData:        det.ServerData,
	})
}

func (e *Engine) markSynced(ctx context.Context, item *types.QueueItem, resp *PushResponse) {
	syncedAt := time.Now().UTC()
	err := e.store.MarkQueueItemSynced(ctx, item.ID, item.ClientVersion, syncedAt)
	if errors.Is(err, store.ErrInvalidTransition) {
		e.replay(ctx, item.UserID, item.ClientOperationID, resp)
		return
	}
	if err != nil {
		e.markFailed(ctx, item, fmt.Sprintf("mark synced: %s", err), resp)
		return
	}

	resp.Synced = append(resp.Synced, SyncedResult{
		ClientOperationID: item.ClientOperationID,
		QueueItemID:       item.ID,
		EntityType:        item.EntityType,
		EntityID:          item.EntityID,
		ServerVersion:     item.ClientVersion,
		SyncedAt:          syncedAt,
	})
}

func (e *Engine) markFailed(ctx context.Context, item *types.QueueItem, message string, resp *PushResponse) {
	if err := e.store.MarkQueueItemFailed(ctx, item.ID, message); err != nil {
		slog.Warn("failed to record operation failure",
			"component", "sync",
			"queue_item_id", item.ID,
			"error", err,
		)
	}
	resp.Failed = append(resp.Failed, FailedResult{
		ClientOperationID: item.ClientOperationID,
		QueueItemID:       item.ID,
		Error:             message,
	})
}

// replay reports the outcome already recorded for a client operation id
// that was pushed before. Retried batches see the original results
// instead of duplicate processing.
func (e *Engine) replay(ctx context.Context, userID, clientOpID string, resp *PushResponse) {
	item, err := e.store.GetQueueItemByClientOp(ctx, userID, clientOpID)
	if err != nil {
		resp.Failed = append(resp.Failed, FailedResult{
			ClientOperationID: clientOpID,
			Error:             fmt.Sprintf("load previous attempt: %s", err),
		})
		return
	}

	switch item.Status {
	case types.StatusSynced:
		serverVersion := item.ClientVersion
		if item.ServerVersion != nil {
			serverVersion = *item.ServerVersion
		}
		syncedAt := item.UpdatedAt
		if item.SyncedAt != nil {
			syncedAt = *item.SyncedAt
		}
		resp.Synced = append(resp.Synced, SyncedResult{
			ClientOperationID: clientOpID,
			QueueItemID:       item.ID,
			EntityType:        item.EntityType,
			EntityID:          item.EntityID,
			ServerVersion:     serverVersion,
			SyncedAt:          syncedAt,
		})

	case types.StatusConflict:
		c, err := e.store.GetConflictByQueueItem(ctx, item.ID)
		if err != nil {
			resp.Failed = append(resp.Failed, FailedResult{
				ClientOperationID: clientOpID,
				QueueItemID:       item.ID,
				Error:             fmt.Sprintf("load conflict: %s", err),
			})
			return
		}
		resp.Conflicts = append(resp.Conflicts, ConflictResult{
			ClientOperationID: clientOpID,
			QueueItemID:       item.ID,
			ConflictID:        c.ID,
			EntityType:        c.EntityType,
			EntityID:          c.EntityID,
			ClientVersion:     c.ClientVersion,
			ServerVersion:     c.ServerVersion,
			ServerData:        c.ServerData,
		})

	case types.StatusFailed:
		resp.Failed = append(resp.Failed, FailedResult{
			ClientOperationID: clientOpID,
			QueueItemID:       item.ID,
			Error:             item.ErrorMessage,
		})

	default:
		// Still in flight: a previous push crashed before finalizing, or a
		// concurrent retry holds it. Resume with the stored fields; the
		// status guard arbitrates if someone else finishes first.
		e.finalize(ctx, item, resp)
	}
}

func (e *Engine) buildConflict(item *types.QueueItem, det Detection) *types.Conflict {
	details, _ := json.Marshal(map[string]any{
		"reason":         "version_mismatch",
		"operation":      item.Operation,
		"client_version": item.ClientVersion,
		"server_version": det.ServerVersion,
	})

	return &types.Conflict{
		ID:               ulid.Make().String(),
		QueueItemID:      item.ID,
		UserID:           item.UserID,
		EntityType:       item.EntityType,
		EntityID:         item.EntityID,
		ClientVersion:    item.ClientVersion,
		ServerVersion:    det.ServerVersion,
		ClientData:       item.Payload,
		ServerData:       det.ServerData,
		ResolutionStatus: types.ResolutionPending,
		Details:          details,
		CreatedAt:        time.Now().UTC(),
	}
}
