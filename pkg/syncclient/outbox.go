package syncclient

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const lastPullKey = "last_pull_at"

// Outbox persists queued operations until a push confirms them. Rows
// survive restarts; a mutation queued offline is pushed whenever the
// server next becomes reachable.
type Outbox struct {
	db *sql.DB
}

// NewOutbox opens (or creates) the local outbox database.
func NewOutbox(dbPath string) (*Outbox, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	o := &Outbox{db: db}
	if err := o.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return o, nil
}

// Close closes the database connection
func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		operation TEXT NOT NULL,
		payload TEXT,
		base_version INTEGER NOT NULL DEFAULT 0,
		queued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_queued_at ON outbox(queued_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := o.db.Exec(schema)
	return err
}

// Enqueue stores a new operation and assigns its client operation ID.
func (o *Outbox) Enqueue(params QueueParams) (*QueuedOperation, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	var payload any
	if params.Payload != nil {
		payload = string(params.Payload)
	}

	_, err := o.db.Exec(`
		INSERT INTO outbox (id, entity_type, entity_id, operation, payload, base_version, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, params.EntityType, params.EntityID, params.Operation, payload, params.BaseVersion, now.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}

	return &QueuedOperation{
		ID:          id,
		EntityType:  params.EntityType,
		EntityID:    params.EntityID,
		Operation:   params.Operation,
		Payload:     params.Payload,
		BaseVersion: params.BaseVersion,
		QueuedAt:    now,
	}, nil
}

// Pending returns queued operations oldest first. A limit of 0 returns
// everything.
func (o *Outbox) Pending(limit int) ([]QueuedOperation, error) {
	// rowid breaks queued_at ties, preserving insertion order within
	// a second.
	query := `
		SELECT id, entity_type, entity_id, operation, payload, base_version, queued_at, attempts, last_error
		FROM outbox
		ORDER BY queued_at, rowid
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := o.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []QueuedOperation
	for rows.Next() {
		var op QueuedOperation
		var entityID, payload, queuedAt, lastError sql.NullString

		if err := rows.Scan(&op.ID, &op.EntityType, &entityID, &op.Operation, &payload, &op.BaseVersion, &queuedAt, &op.Attempts, &lastError); err != nil {
			return nil, err
		}

		op.EntityID = entityID.String
		op.LastError = lastError.String
		if payload.Valid {
			op.Payload = json.RawMessage(payload.String)
		}
		if queuedAt.Valid {
			t, _ := time.Parse(time.RFC3339, queuedAt.String)
			op.QueuedAt = t
		}

		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// Remove deletes confirmed operations from the outbox.
func (o *Outbox) Remove(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	query := "DELETE FROM outbox WHERE id IN ("
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	_, err := o.db.Exec(query, args...)
	return err
}

// MarkFailed records a refused push. The operation stays queued so the
// caller can fix and retry it, or Remove it.
func (o *Outbox) MarkFailed(id, message string) error {
	_, err := o.db.Exec(`
		UPDATE outbox SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, message, id)
	return err
}

// LastPull returns the pull watermark, nil before the first pull.
func (o *Outbox) LastPull() (*time.Time, error) {
	var value string
	err := o.db.QueryRow("SELECT value FROM metadata WHERE key = ?", lastPullKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("corrupt pull watermark: %w", err)
	}
	return &t, nil
}

// SetLastPull advances the pull watermark.
func (o *Outbox) SetLastPull(t time.Time) error {
	_, err := o.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastPullKey, t.UTC().Format(time.RFC3339Nano))
	return err
}

// Stats returns outbox statistics.
func (o *Outbox) Stats() OutboxStats {
	var stats OutboxStats
	o.db.QueryRow("SELECT COUNT(*) FROM outbox").Scan(&stats.QueuedCount)
	o.db.QueryRow("SELECT COUNT(*) FROM outbox WHERE attempts > 0").Scan(&stats.FailedCount)

	if t, err := o.LastPull(); err == nil {
		stats.LastPullAt = t
	}

	return stats
}
