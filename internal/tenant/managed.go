package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/darasahq/darasa-sync/internal/store"
)

// dbFileName is the SQLite database file inside each school directory.
const dbFileName = "sync.db"

// backupFileName is the local backup copy written next to the database.
const backupFileName = "backup.db"

// ManagedSchool wraps one school's sync store with metadata and access
// tracking.
type ManagedSchool struct {
	ID       string
	Store    store.Store
	Meta     *SchoolMeta
	BasePath string

	mu        sync.Mutex
	metaDirty bool
}

// NewManagedSchool opens a school store from an existing directory.
func NewManagedSchool(id, basePath string) (*ManagedSchool, error) {
	metaPath := filepath.Join(basePath, "meta.yaml")
	meta, err := LoadSchoolMeta(metaPath)
	if err != nil {
		return nil, fmt.Errorf("load school metadata: %w", err)
	}

	sqliteStore, err := store.NewSQLiteStore(filepath.Join(basePath, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("open school database: %w", err)
	}

	return &ManagedSchool{
		ID:       id,
		Store:    sqliteStore,
		Meta:     meta,
		BasePath: basePath,
	}, nil
}

// BackupPath returns where the school's local backup copy is written.
func (m *ManagedSchool) BackupPath() string {
	return filepath.Join(m.BasePath, backupFileName)
}

// TouchAccessed updates the last_accessed timestamp. Metadata is saved
// to disk on flush, not on every access.
func (m *ManagedSchool) TouchAccessed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Meta.LastAccessed = time.Now().UTC()
	m.metaDirty = true
}

// FlushMeta saves metadata to disk if dirty.
func (m *ManagedSchool) FlushMeta() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.metaDirty {
		return nil
	}

	metaPath := filepath.Join(m.BasePath, "meta.yaml")
	if err := SaveSchoolMeta(metaPath, m.Meta); err != nil {
		return err
	}

	m.metaDirty = false
	return nil
}

// Close closes the underlying store and flushes metadata.
func (m *ManagedSchool) Close() error {
	if err := m.FlushMeta(); err != nil {
		slog.Warn("failed to flush school metadata", "school_id", m.ID, "error", err)
	}
	return m.Store.Close()
}

// SchemaVersion returns the schema version from the database, or 0 if it
// cannot be read.
func (m *ManagedSchool) SchemaVersion(ctx context.Context) int {
	version, err := m.Store.GetSyncMeta(ctx, "schema_version")
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(version)
	return v
}
