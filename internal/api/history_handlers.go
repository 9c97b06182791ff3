package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/darasahq/darasa-sync/internal/history"
	"github.com/darasahq/darasa-sync/internal/store"
)

// PurgeHistoryResponse reports the outcome of a history purge.
type PurgeHistoryResponse struct {
	DeletedCount int64  `json:"deleted_count"`
	ArchiveKey   string `json:"archive_key,omitempty"`
	Message      string `json:"message"`
}

// PurgeHistory handles DELETE /api/v1/sync/history. It removes the
// caller's synced and failed queue items, optionally bounded by
// before_date, archiving them first when an archiver is configured.
// Pending and conflicted items always survive.
func (h *Handler) PurgeHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	q := store.PurgeQuery{UserID: p.UserID}
	if v := r.URL.Query().Get("before_date"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "invalid before_date parameter: must be an RFC 3339 timestamp")
			return
		}
		q.Before = &ts
	}

	result, err := history.Purge(ctx, s, h.archiver, p.SchoolID, q)
	if err != nil {
		slog.Error("history purge failed",
			"component", "api",
			"action", "history_purge_failed",
			"school_id", p.SchoolID,
			"user_id", p.UserID,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to purge sync history")
		return
	}

	resp := PurgeHistoryResponse{
		DeletedCount: result.Purged,
		ArchiveKey:   result.ArchiveKey,
		Message:      fmt.Sprintf("Purged %d history items", result.Purged),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	slog.Info("history purged",
		"component", "api",
		"action", "history_purge",
		"school_id", p.SchoolID,
		"user_id", p.UserID,
		"deleted", result.Purged,
		"archive_key", result.ArchiveKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
