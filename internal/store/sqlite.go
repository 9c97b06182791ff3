package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/darasahq/darasa-sync/internal/types"
	_ "modernc.org/sqlite"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Padding the fractional
// part keeps TEXT timestamp columns lexicographically sortable, which the
// pull watermark comparison relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore represents the SQLite-backed sync database for one school.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each pooled connection to :memory: would open its own empty database,
	// so pin the pool to a single connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Backup writes a consistent copy of the database to destPath.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	if dir := filepath.Dir(destPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}

	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale backup: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into backup: %w", err)
	}
	return nil
}

// GetSyncMeta retrieves a sync metadata value by key.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

// SetSyncMeta sets a sync metadata value.
func (s *SQLiteStore) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}

// fmtTime formats a timestamp for storage. All stored times are UTC.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp, logging rather than failing on bad data.
func parseTime(column, value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		slog.Warn("sync store: failed to parse timestamp", "column", column, "value", value, "error", err)
		return time.Time{}
	}
	return t
}

// nullableString converts an optional string to a sql-friendly value.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

// nullableTime converts an optional timestamp to a sql-friendly value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// scanQueueItem scans a row into a QueueItem, handling NULL columns and timestamps.
func scanQueueItem(scanner interface{ Scan(...any) error }) (*types.QueueItem, error) {
	var item types.QueueItem
	var entityID, payload, errorMessage, syncedAt sql.NullString
	var serverVersion sql.NullInt64
	var clientTimestamp, createdAt, updatedAt string

	err := scanner.Scan(
		&item.ID,
		&item.UserID,
		&item.ClientOperationID,
		&item.EntityType,
		&entityID,
		&item.Operation,
		&payload,
		&item.ClientVersion,
		&serverVersion,
		&item.Status,
		&errorMessage,
		&clientTimestamp,
		&createdAt,
		&updatedAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	if entityID.Valid {
		item.EntityID = entityID.String
	}
	if payload.Valid {
		item.Payload = json.RawMessage(payload.String)
	}
	if serverVersion.Valid {
		v := serverVersion.Int64
		item.ServerVersion = &v
	}
	if errorMessage.Valid {
		item.ErrorMessage = errorMessage.String
	}
	item.ClientTimestamp = parseTime("client_timestamp", clientTimestamp)
	item.CreatedAt = parseTime("created_at", createdAt)
	item.UpdatedAt = parseTime("updated_at", updatedAt)
	if syncedAt.Valid {
		t := parseTime("synced_at", syncedAt.String)
		item.SyncedAt = &t
	}

	return &item, nil
}

// scanConflict scans a row into a Conflict, handling NULL columns and timestamps.
func scanConflict(scanner interface{ Scan(...any) error }) (*types.Conflict, error) {
	var c types.Conflict
	var clientData, serverData, mergedData, details sql.NullString
	var resolvedAt, resolvedBy sql.NullString
	var createdAt string

	err := scanner.Scan(
		&c.ID,
		&c.QueueItemID,
		&c.UserID,
		&c.EntityType,
		&c.EntityID,
		&c.ClientVersion,
		&c.ServerVersion,
		&clientData,
		&serverData,
		&mergedData,
		&c.ResolutionStatus,
		&details,
		&createdAt,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if clientData.Valid {
		c.ClientData = json.RawMessage(clientData.String)
	}
	if serverData.Valid {
		c.ServerData = json.RawMessage(serverData.String)
	}
	if mergedData.Valid {
		c.MergedData = json.RawMessage(mergedData.String)
	}
	if details.Valid {
		c.Details = json.RawMessage(details.String)
	}
	c.CreatedAt = parseTime("created_at", createdAt)
	if resolvedAt.Valid {
		t := parseTime("resolved_at", resolvedAt.String)
		c.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		c.ResolvedBy = resolvedBy.String
	}

	return &c, nil
}
