package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/darasahq/darasa-sync/internal/backup"
	"github.com/darasahq/darasa-sync/internal/tenant"
)

// ListSchoolsResponse is the body of GET /api/v1/schools.
type ListSchoolsResponse struct {
	Schools []tenant.SchoolInfo `json:"schools"`
	Total   int                 `json:"total"`
}

// CreateSchoolRequest is the body of POST /api/v1/schools.
type CreateSchoolRequest struct {
	SchoolID    string `json:"school_id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateSchoolResponse is the body of a successful school creation.
type CreateSchoolResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
}

// ListSchools handles GET /api/v1/schools
func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "School storage unavailable")
		return
	}

	schools, err := h.manager.ListSchools(r.Context())
	if err != nil {
		slog.Error("school listing failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to list schools")
		return
	}
	if schools == nil {
		schools = []tenant.SchoolInfo{}
	}

	resp := ListSchoolsResponse{
		Schools: schools,
		Total:   len(schools),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CreateSchool handles POST /api/v1/schools
func (h *Handler) CreateSchool(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "School storage unavailable")
		return
	}

	var req CreateSchoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	if req.SchoolID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "school_id is required")
		return
	}
	if req.Name == "" {
		req.Name = req.SchoolID
	}

	school, err := h.manager.CreateSchool(r.Context(), req.SchoolID, req.Name, req.Description)
	if err != nil {
		MapSchoolError(w, r, err)
		return
	}

	resp := CreateSchoolResponse{
		ID:          school.ID,
		Name:        school.Meta.Name,
		Description: school.Meta.Description,
		Created:     school.Meta.Created,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// GetSchoolInfo handles GET /api/v1/schools/{school_id}
func (h *Handler) GetSchoolInfo(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "School storage unavailable")
		return
	}

	schoolID := chi.URLParam(r, "school_id")
	info, err := h.manager.SchoolInfo(r.Context(), schoolID)
	if err != nil {
		MapSchoolError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// backupCapable is the store surface backup streaming needs.
type backupCapable interface {
	Backup(ctx context.Context, destPath string) error
}

// DownloadBackup handles GET /api/v1/schools/{school_id}/backup. When
// backup storage is configured the response redirects to a pre-signed
// download URL; otherwise a fresh backup is generated and streamed from
// the school's local copy.
func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "School storage unavailable")
		return
	}

	schoolID := chi.URLParam(r, "school_id")
	managed, err := h.manager.GetSchool(r.Context(), schoolID)
	if err != nil {
		MapSchoolError(w, r, err)
		return
	}

	if presigned, _, err := h.uploader.PresignedURL(r.Context(), schoolID); err == nil {
		http.Redirect(w, r, presigned, http.StatusFound)
		return
	} else if !errors.Is(err, backup.ErrNotConfigured) {
		slog.Warn("pre-signed backup URL failed, streaming locally",
			"component", "api", "school_id", schoolID, "error", err)
	}

	s, ok := managed.Store.(backupCapable)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Backups are not supported for this school")
		return
	}

	path := managed.BackupPath()
	if err := s.Backup(r.Context(), path); err != nil {
		slog.Error("backup generation failed", "component", "api", "school_id", schoolID, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to generate backup")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Error("backup open failed", "component", "api", "school_id", schoolID, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read backup")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, f); err != nil {
		slog.Warn("backup stream interrupted", "component", "api", "school_id", schoolID, "error", err)
	}
}

// DeleteSchool handles DELETE /api/v1/schools/{school_id}. Deletion is
// irreversible, so the request must carry confirm=true.
func (h *Handler) DeleteSchool(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "School storage unavailable")
		return
	}

	if r.URL.Query().Get("confirm") != "true" {
		WriteProblem(w, r, http.StatusBadRequest, "Deleting a school requires confirm=true")
		return
	}

	schoolID := chi.URLParam(r, "school_id")
	if err := h.manager.DeleteSchool(r.Context(), schoolID); err != nil {
		MapSchoolError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
