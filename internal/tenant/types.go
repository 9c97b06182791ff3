package tenant

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SchoolMeta contains school-level metadata persisted in meta.yaml.
type SchoolMeta struct {
	// Name is the human-readable school name.
	Name string `yaml:"name,omitempty"`
	// Created is when the school store was first provisioned.
	Created time.Time `yaml:"created"`
	// LastAccessed is when the school store was last touched.
	LastAccessed time.Time `yaml:"last_accessed"`
	// Description is an optional free-form note.
	Description string `yaml:"description,omitempty"`
}

// SchoolInfo contains summary information about a school store.
type SchoolInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	Description  string    `json:"description,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
}

// NewSchoolMeta creates metadata for a newly provisioned school.
func NewSchoolMeta(name, description string) *SchoolMeta {
	now := time.Now().UTC()
	return &SchoolMeta{
		Name:         name,
		Created:      now,
		LastAccessed: now,
		Description:  description,
	}
}

// LoadSchoolMeta reads school metadata from a file path.
func LoadSchoolMeta(path string) (*SchoolMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta SchoolMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse school metadata: %w", err)
	}

	return &meta, nil
}

// SaveSchoolMeta writes school metadata to a file path.
func SaveSchoolMeta(path string, meta *SchoolMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal school metadata: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
