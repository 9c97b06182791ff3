package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/darasahq/darasa-sync/internal/types"
)

// queueItemColumns is the canonical column list for sync_queue selects,
// matching the scan order in scanQueueItem.
const queueItemColumns = `id, user_id, client_operation_id, entity_type, entity_id, operation,
	payload, client_version, server_version, status, error_message,
	client_timestamp, created_at, updated_at, synced_at`

const insertQueueItemSQL = `
	INSERT INTO sync_queue (id, user_id, client_operation_id, entity_type, entity_id, operation,
		payload, client_version, server_version, status, error_message,
		client_timestamp, created_at, updated_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// queueItemArgs returns the SQL arguments for inserting a QueueItem.
func queueItemArgs(item *types.QueueItem) []any {
	var serverVersion any
	if item.ServerVersion != nil {
		serverVersion = *item.ServerVersion
	}
	return []any{
		item.ID, item.UserID, item.ClientOperationID, item.EntityType,
		nullableString(item.EntityID), string(item.Operation),
		nullablePayload(item.Payload), item.ClientVersion, serverVersion,
		string(item.Status), nullableString(item.ErrorMessage),
		fmtTime(item.ClientTimestamp), fmtTime(item.CreatedAt), fmtTime(item.UpdatedAt),
		nullableTime(item.SyncedAt),
	}
}

// InsertQueueItem records a new queue item. A second insert carrying the same
// (user_id, client_operation_id) pair returns ErrDuplicateOperation.
func (s *SQLiteStore) InsertQueueItem(ctx context.Context, item *types.QueueItem) error {
	_, err := s.db.ExecContext(ctx, insertQueueItemSQL, queueItemArgs(item)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("queue item %s/%s: %w", item.UserID, item.ClientOperationID, ErrDuplicateOperation)
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// GetQueueItem retrieves a queue item by ID.
func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*types.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM sync_queue
		WHERE id = ?
	`, id)

	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	return item, nil
}

// GetQueueItemByClientOp retrieves a queue item by its client-assigned operation ID.
// Push replay detection depends on this lookup.
func (s *SQLiteStore) GetQueueItemByClientOp(ctx context.Context, userID, clientOperationID string) (*types.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM sync_queue
		WHERE user_id = ? AND client_operation_id = ?
	`, userID, clientOperationID)

	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client operation %s: %w", clientOperationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	return item, nil
}

// MarkQueueItemSynced finalizes an in-flight item as synced, recording the
// authoritative server version and sync time.
func (s *SQLiteStore) MarkQueueItemSynced(ctx context.Context, id string, serverVersion int64, syncedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, server_version = ?, synced_at = ?, updated_at = ?, error_message = NULL
		WHERE id = ? AND status = ?
	`, string(types.StatusSynced), serverVersion, fmtTime(syncedAt), fmtTime(time.Now()), id, string(types.StatusSyncing))
	if err != nil {
		return fmt.Errorf("mark queue item synced: %w", err)
	}
	return checkTransition(ctx, s.db, result, id)
}

// MarkQueueItemFailed finalizes an in-flight item as failed with an error message.
func (s *SQLiteStore) MarkQueueItemFailed(ctx context.Context, id string, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(types.StatusFailed), message, fmtTime(time.Now()), id, string(types.StatusSyncing))
	if err != nil {
		return fmt.Errorf("mark queue item failed: %w", err)
	}
	return checkTransition(ctx, s.db, result, id)
}

// MarkQueueItemConflict parks an in-flight item in conflict status and records
// the conflict atomically. The item and its conflict record commit together.
func (s *SQLiteStore) MarkQueueItemConflict(ctx context.Context, id string, serverVersion int64, conflict *types.Conflict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, server_version = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(types.StatusConflict), serverVersion, fmtTime(time.Now()), id, string(types.StatusSyncing))
	if err != nil {
		return fmt.Errorf("mark queue item conflict: %w", err)
	}
	if err := checkTransition(ctx, tx, result, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, insertConflictSQL, conflictArgs(conflict)...); err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rowQuerier lets transition checks run against either the pool or an open
// transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkTransition classifies a zero-row UPDATE as either a missing item or a
// guard violation. Status transitions only move forward, so updating an item
// that already left the expected state is refused.
func checkTransition(ctx context.Context, q rowQuerier, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM sync_queue WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check queue item: %w", err)
	}
	return fmt.Errorf("queue item %s: %w", id, ErrInvalidTransition)
}

// LatestSyncedForEntity returns the most recently synced queue item for an
// entity across all users in the store. Conflict detection derives the
// authoritative server version from this record.
func (s *SQLiteStore) LatestSyncedForEntity(ctx context.Context, entityType, entityID string) (*types.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND status = ?
		ORDER BY synced_at DESC, id DESC
		LIMIT 1
	`, entityType, entityID, string(types.StatusSynced))

	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s/%s: %w", entityType, entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	return item, nil
}

// changeQueryWhere builds the WHERE clause shared by ListSyncedChanges and
// CountSyncedChanges.
func changeQueryWhere(q ChangeQuery) (string, []any) {
	clauses := []string{"user_id = ?", "status = ?", "synced_at IS NOT NULL"}
	args := []any{q.UserID, string(types.StatusSynced)}

	if q.After != nil {
		clauses = append(clauses, "synced_at > ?")
		args = append(args, fmtTime(*q.After))
	}
	if len(q.EntityTypes) > 0 {
		placeholders := strings.Repeat("?, ", len(q.EntityTypes))
		clauses = append(clauses, "entity_type IN ("+placeholders[:len(placeholders)-2]+")")
		for _, et := range q.EntityTypes {
			args = append(args, et)
		}
	}

	return strings.Join(clauses, " AND "), args
}

// ListSyncedChanges returns synced items matching the query in ascending
// synced_at order, with the item ID breaking ties deterministically.
func (s *SQLiteStore) ListSyncedChanges(ctx context.Context, q ChangeQuery) ([]types.QueueItem, error) {
	where, args := changeQueryWhere(q)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM sync_queue
		WHERE `+where+`
		ORDER BY synced_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query synced changes: %w", err)
	}
	defer rows.Close()

	items := make([]types.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CountSyncedChanges returns the total number of synced items matching the
// query, ignoring limit and offset.
func (s *SQLiteStore) CountSyncedChanges(ctx context.Context, q ChangeQuery) (int64, error) {
	where, args := changeQueryWhere(q)

	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE `+where,
		args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count synced changes: %w", err)
	}
	return count, nil
}

// QueueStatusCounts tallies a user's queue items by status.
func (s *SQLiteStore) QueueStatusCounts(ctx context.Context, userID string) (*types.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_queue WHERE user_id = ? GROUP BY status
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := &types.StatusCounts{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch types.QueueStatus(status) {
		case types.StatusPending:
			counts.Pending = count
		case types.StatusSyncing:
			counts.Syncing = count
		case types.StatusSynced:
			counts.Synced = count
		case types.StatusConflict:
			counts.Conflict = count
		case types.StatusFailed:
			counts.Failed = count
		}
	}
	return counts, rows.Err()
}

// LastSyncedAt returns the most recent synced_at for a user, or nil when the
// user has never completed a sync.
func (s *SQLiteStore) LastSyncedAt(ctx context.Context, userID string) (*time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(synced_at) FROM sync_queue WHERE user_id = ? AND status = ?
	`, userID, string(types.StatusSynced)).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("get last synced at: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := parseTime("synced_at", last.String)
	return &t, nil
}

// ListHistory returns terminal queue items matching the purge query in
// ascending updated_at order.
func (s *SQLiteStore) ListHistory(ctx context.Context, q PurgeQuery) ([]types.QueueItem, error) {
	clauses := []string{"status IN (?, ?)"}
	args := []any{string(types.StatusSynced), string(types.StatusFailed)}

	if q.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Before != nil {
		clauses = append(clauses, "updated_at < ?")
		args = append(args, fmtTime(*q.Before))
	}

	query := `
		SELECT ` + queueItemColumns + `
		FROM sync_queue
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY updated_at ASC`
	if q.Limit > 0 {
		query += `
		LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]types.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteQueueItems removes queue items by ID, in chunks to stay under the
// SQLite bind variable limit. Conflict records cascade with their items.
func (s *SQLiteStore) DeleteQueueItems(ctx context.Context, ids []string) (int64, error) {
	const chunkSize = 500

	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?, ", len(chunk))
		placeholders = placeholders[:len(placeholders)-2]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		// Conflicts go first so the delete never depends on connection-level
		// foreign key enforcement.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sync_conflicts WHERE queue_item_id IN (`+placeholders+`)`,
			args...); err != nil {
			return 0, fmt.Errorf("delete conflicts: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM sync_queue WHERE id IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return 0, fmt.Errorf("delete queue items: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("get rows affected: %w", err)
		}
		total += rows
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return total, nil
}
