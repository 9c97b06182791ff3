// Package tenant manages per-school sync stores. Each school is an
// isolated SQLite database under the data root, provisioned with a
// meta.yaml and loaded lazily on first request.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager manages isolated school stores with lazy loading.
type Manager struct {
	rootPath string

	// autoProvision creates unknown schools on first access instead of
	// returning ErrSchoolNotFound. Development convenience; production
	// deployments provision schools explicitly.
	autoProvision bool

	mu      sync.RWMutex
	schools map[string]*ManagedSchool
}

// NewManager creates a manager rooted at rootPath, creating the
// directory if needed.
func NewManager(rootPath string, autoProvision bool) (*Manager, error) {
	if strings.HasPrefix(rootPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		rootPath = filepath.Join(home, rootPath[2:])
	}

	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create schools root directory: %w", err)
	}

	return &Manager{
		rootPath:      rootPath,
		autoProvision: autoProvision,
		schools:       make(map[string]*ManagedSchool),
	}, nil
}

// GetSchool returns the store for the given school, loading it if
// necessary. Unknown schools return ErrSchoolNotFound unless
// auto-provisioning is enabled.
func (m *Manager) GetSchool(ctx context.Context, schoolID string) (*ManagedSchool, error) {
	if err := ValidateSchoolID(schoolID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if managed, ok := m.schools[schoolID]; ok {
		m.mu.RUnlock()
		managed.TouchAccessed()
		return managed, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if managed, ok := m.schools[schoolID]; ok {
		managed.TouchAccessed()
		return managed, nil
	}

	schoolPath := m.schoolPath(schoolID)
	if _, err := os.Stat(schoolPath); os.IsNotExist(err) {
		if !m.autoProvision {
			return nil, ErrSchoolNotFound
		}
		if err := m.createSchoolDir(schoolID, schoolID, "Auto-provisioned"); err != nil {
			return nil, err
		}
	}

	managed, err := NewManagedSchool(schoolID, schoolPath)
	if err != nil {
		return nil, fmt.Errorf("load school %q: %w", schoolID, err)
	}
	m.schools[schoolID] = managed

	slog.Info("school store loaded",
		"component", "tenant",
		"action", "school_loaded",
		"school_id", schoolID,
	)

	managed.TouchAccessed()
	return managed, nil
}

// CreateSchool provisions a new school store. Returns ErrSchoolExists if
// the school directory already exists.
func (m *Manager) CreateSchool(ctx context.Context, schoolID, name, description string) (*ManagedSchool, error) {
	if err := ValidateSchoolID(schoolID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	schoolPath := m.schoolPath(schoolID)
	if _, err := os.Stat(schoolPath); err == nil {
		return nil, ErrSchoolExists
	}

	if err := m.createSchoolDir(schoolID, name, description); err != nil {
		return nil, err
	}

	managed, err := NewManagedSchool(schoolID, schoolPath)
	if err != nil {
		return nil, fmt.Errorf("load new school %q: %w", schoolID, err)
	}
	m.schools[schoolID] = managed

	slog.Info("school store created",
		"component", "tenant",
		"action", "school_created",
		"school_id", schoolID,
	)

	return managed, nil
}

// DeleteSchool removes a school store and all its data.
func (m *Manager) DeleteSchool(ctx context.Context, schoolID string) error {
	if err := ValidateSchoolID(schoolID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	schoolPath := m.schoolPath(schoolID)
	if _, err := os.Stat(schoolPath); os.IsNotExist(err) {
		return ErrSchoolNotFound
	}

	if managed, ok := m.schools[schoolID]; ok {
		if err := managed.Close(); err != nil {
			slog.Warn("error closing school before deletion",
				"school_id", schoolID, "error", err)
		}
		delete(m.schools, schoolID)
	}

	if err := os.RemoveAll(schoolPath); err != nil {
		return fmt.Errorf("remove school directory: %w", err)
	}

	slog.Info("school store deleted",
		"component", "tenant",
		"action", "school_deleted",
		"school_id", schoolID,
	)

	return nil
}

// ListSchools returns metadata for all provisioned schools.
func (m *Manager) ListSchools(ctx context.Context) ([]SchoolInfo, error) {
	entries, err := os.ReadDir(m.rootPath)
	if err != nil {
		return nil, fmt.Errorf("read schools directory: %w", err)
	}

	var result []SchoolInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		basePath := filepath.Join(m.rootPath, entry.Name())
		metaPath := filepath.Join(basePath, "meta.yaml")
		if _, err := os.Stat(metaPath); err != nil {
			continue
		}

		info, err := m.schoolInfo(entry.Name(), basePath)
		if err != nil {
			slog.Warn("error reading school metadata",
				"school_id", entry.Name(), "error", err)
			continue
		}
		result = append(result, info)
	}

	return result, nil
}

// SchoolInfo returns summary metadata for one school without opening its
// store or provisioning anything.
func (m *Manager) SchoolInfo(ctx context.Context, schoolID string) (SchoolInfo, error) {
	if err := ValidateSchoolID(schoolID); err != nil {
		return SchoolInfo{}, err
	}

	basePath := m.schoolPath(schoolID)
	if _, err := os.Stat(filepath.Join(basePath, "meta.yaml")); err != nil {
		return SchoolInfo{}, fmt.Errorf("school %q: %w", schoolID, ErrSchoolNotFound)
	}

	return m.schoolInfo(schoolID, basePath)
}

// LoadedSchools returns the currently loaded schools. Background workers
// iterate these without forcing every school on disk open.
func (m *Manager) LoadedSchools() []*ManagedSchool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ManagedSchool, 0, len(m.schools))
	for _, managed := range m.schools {
		out = append(out, managed)
	}
	return out
}

// schoolInfo collects summary information about a single school.
func (m *Manager) schoolInfo(schoolID, basePath string) (SchoolInfo, error) {
	meta, err := LoadSchoolMeta(filepath.Join(basePath, "meta.yaml"))
	if err != nil {
		return SchoolInfo{}, err
	}

	var sizeBytes int64
	if info, err := os.Stat(filepath.Join(basePath, dbFileName)); err == nil {
		sizeBytes = info.Size()
	}

	return SchoolInfo{
		ID:           schoolID,
		Name:         meta.Name,
		Created:      meta.Created,
		LastAccessed: meta.LastAccessed,
		Description:  meta.Description,
		SizeBytes:    sizeBytes,
	}, nil
}

func (m *Manager) schoolPath(schoolID string) string {
	return filepath.Join(m.rootPath, schoolID)
}

// createSchoolDir creates a new school directory with metadata.
func (m *Manager) createSchoolDir(schoolID, name, description string) error {
	schoolPath := m.schoolPath(schoolID)

	if err := os.MkdirAll(schoolPath, 0755); err != nil {
		return fmt.Errorf("create school directory: %w", err)
	}

	meta := NewSchoolMeta(name, description)
	if err := SaveSchoolMeta(filepath.Join(schoolPath, "meta.yaml"), meta); err != nil {
		os.RemoveAll(schoolPath)
		return fmt.Errorf("write school metadata: %w", err)
	}

	return nil
}

// Close closes all loaded school stores.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for id, managed := range m.schools {
		if err := managed.Close(); err != nil {
			slog.Error("error closing school store", "school_id", id, "error", err)
			lastErr = err
		}
	}

	return lastErr
}
