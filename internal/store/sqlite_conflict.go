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

// conflictColumns is the canonical column list for sync_conflicts selects,
// matching the scan order in scanConflict.
const conflictColumns = `id, queue_item_id, user_id, entity_type, entity_id,
	client_version, server_version, client_data, server_data, merged_data,
	resolution_status, details, created_at, resolved_at, resolved_by`

const insertConflictSQL = `
	INSERT INTO sync_conflicts (id, queue_item_id, user_id, entity_type, entity_id,
		client_version, server_version, client_data, server_data, merged_data,
		resolution_status, details, created_at, resolved_at, resolved_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// conflictArgs returns the SQL arguments for inserting a Conflict.
func conflictArgs(c *types.Conflict) []any {
	return []any{
		c.ID, c.QueueItemID, c.UserID, c.EntityType, c.EntityID,
		c.ClientVersion, c.ServerVersion,
		nullablePayload(c.ClientData), nullablePayload(c.ServerData), nullablePayload(c.MergedData),
		string(c.ResolutionStatus), nullablePayload(c.Details),
		fmtTime(c.CreatedAt), nullableTime(c.ResolvedAt), nullableString(c.ResolvedBy),
	}
}

// GetConflict retrieves a conflict by ID.
func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*types.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflicts
		WHERE id = ?
	`, id)

	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	return c, nil
}

// GetConflictByQueueItem retrieves the conflict tied to a queue item.
// Conflicts are 1:1 with the queue item that triggered them.
func (s *SQLiteStore) GetConflictByQueueItem(ctx context.Context, queueItemID string) (*types.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflicts
		WHERE queue_item_id = ?
	`, queueItemID)

	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict for queue item %s: %w", queueItemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	return c, nil
}

// conflictQueryWhere builds the WHERE clause shared by the list query and its count.
func conflictQueryWhere(q ConflictQuery) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{q.UserID}

	if q.ResolutionStatus != nil {
		clauses = append(clauses, "resolution_status = ?")
		args = append(args, string(*q.ResolutionStatus))
	}
	if q.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, q.EntityType)
	}
	if q.HasVersionConflict != nil {
		if *q.HasVersionConflict {
			clauses = append(clauses, "server_version > client_version")
		} else {
			clauses = append(clauses, "server_version <= client_version")
		}
	}

	return strings.Join(clauses, " AND "), args
}

// ListConflicts returns conflicts matching the query, newest first, along with
// the total matching count.
func (s *SQLiteStore) ListConflicts(ctx context.Context, q ConflictQuery) ([]types.Conflict, int64, error) {
	where, args := conflictQueryWhere(q)

	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_conflicts WHERE `+where,
		args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count conflicts: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflicts
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]types.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, total, rows.Err()
}

// ApplyResolution resolves a pending conflict and flips its queue item from
// conflict to synced in one transaction. Resolving an already-resolved conflict
// returns ErrConflictResolved; entity state is never rewritten here.
func (s *SQLiteStore) ApplyResolution(ctx context.Context, r Resolution) (*types.Conflict, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET resolution_status = ?, merged_data = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolution_status = ?
	`, string(r.Status), nullablePayload(r.MergedData), fmtTime(r.ResolvedAt),
		nullableString(r.ResolvedBy), r.ConflictID, string(types.ResolutionPending))
	if err != nil {
		return nil, fmt.Errorf("update conflict: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sync_conflicts WHERE id = ?`, r.ConflictID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conflict %s: %w", r.ConflictID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("check conflict: %w", err)
		}
		return nil, fmt.Errorf("conflict %s: %w", r.ConflictID, ErrConflictResolved)
	}

	// The queue item re-enters the synced feed so a subsequent pull surfaces
	// the resolution outcome.
	result, err = tx.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, synced_at = ?, updated_at = ?
		WHERE id = (SELECT queue_item_id FROM sync_conflicts WHERE id = ?) AND status = ?
	`, string(types.StatusSynced), fmtTime(r.ResolvedAt), fmtTime(time.Now()),
		r.ConflictID, string(types.StatusConflict))
	if err != nil {
		return nil, fmt.Errorf("update queue item: %w", err)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("conflict %s: queue item not in conflict status", r.ConflictID)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflicts
		WHERE id = ?
	`, r.ConflictID)
	resolved, err := scanConflict(row)
	if err != nil {
		return nil, fmt.Errorf("scan resolved conflict: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return resolved, nil
}

// CountPendingConflicts returns the number of unresolved conflicts for a user.
func (s *SQLiteStore) CountPendingConflicts(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_conflicts WHERE user_id = ? AND resolution_status = ?
	`, userID, string(types.ResolutionPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending conflicts: %w", err)
	}
	return count, nil
}
