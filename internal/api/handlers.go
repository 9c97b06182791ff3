package api

import (
	"encoding/json"
	"net/http"

	"github.com/darasahq/darasa-sync/internal/ability"
	"github.com/darasahq/darasa-sync/internal/backup"
	"github.com/darasahq/darasa-sync/internal/entity"
	"github.com/darasahq/darasa-sync/internal/history"
	"github.com/darasahq/darasa-sync/internal/tenant"
	"github.com/darasahq/darasa-sync/internal/types"
	"github.com/darasahq/darasa-sync/migrations"
)

// Handler implements the API handlers
type Handler struct {
	manager   *tenant.Manager
	entities  entity.Resolver
	abilities ability.Checker
	archiver  history.Archiver
	uploader  backup.Uploader
	apiKey    string
	version   string
}

// NewHandler creates a new Handler. The entity resolver may be nil when
// no entity store is wired; conflict records then carry queue-history
// server data only. A nil uploader behaves like unconfigured backup
// storage.
func NewHandler(manager *tenant.Manager, entities entity.Resolver, abilities ability.Checker, archiver history.Archiver, uploader backup.Uploader, apiKey, version string) *Handler {
	if uploader == nil {
		uploader = &backup.NoopUploader{}
	}
	return &Handler{
		manager:   manager,
		entities:  entities,
		abilities: abilities,
		archiver:  archiver,
		uploader:  uploader,
		apiKey:    apiKey,
		version:   version,
	}
}

// Health returns the health status. SchoolCount reports the school
// stores currently open in memory, not every school on disk.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		SchemaVersion: migrations.SchemaVersion,
	}
	if h.manager != nil {
		resp.SchoolCount = len(h.manager.LoadedSchools())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
