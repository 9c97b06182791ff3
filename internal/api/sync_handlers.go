package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	darasasync "github.com/darasahq/darasa-sync/internal/sync"
)

// MaxPushOperations is the maximum operations per push request. Larger
// backlogs are pushed in successive batches.
const MaxPushOperations = 500

// SyncPush handles POST /api/v1/sync/push
func (h *Handler) SyncPush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	// 1. Parse request
	var req darasasync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	// 2. Validate request structure
	if err := validatePushRequest(req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// 3. Process the batch. Always 200; per-operation failures are
	// reported inline in the failed bucket, never as an HTTP error.
	eng := darasasync.NewEngine(s, h.entities)
	resp := eng.Push(ctx, p.UserID, req)

	// 4. Return response
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	slog.Info("push completed",
		"component", "api",
		"action", "sync_push",
		"school_id", p.SchoolID,
		"user_id", p.UserID,
		"operations", len(req.Operations),
		"synced", len(resp.Synced),
		"conflicts", len(resp.Conflicts),
		"failed", len(resp.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// validatePushRequest validates the push request structure. Per-operation
// field validation happens in the engine so one malformed operation
// fails alone.
func validatePushRequest(req darasasync.PushRequest) error {
	if len(req.Operations) == 0 {
		return fmt.Errorf("operations array is required")
	}
	if len(req.Operations) > MaxPushOperations {
		return fmt.Errorf("operations exceeds maximum of %d", MaxPushOperations)
	}
	return nil
}

// SyncPull handles POST /api/v1/sync/pull
func (h *Handler) SyncPull(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	// 1. Parse request
	var req darasasync.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	// 2. Query the synced-change feed
	eng := darasasync.NewEngine(s, h.entities)
	resp, err := eng.Pull(ctx, p.UserID, req)
	if err != nil {
		slog.Error("pull failed",
			"component", "api",
			"action", "sync_pull_failed",
			"school_id", p.SchoolID,
			"user_id", p.UserID,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}

	// 3. Return response
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	slog.Info("pull served",
		"component", "api",
		"action", "sync_pull",
		"school_id", p.SchoolID,
		"user_id", p.UserID,
		"changes", len(resp.Changes),
		"has_more", resp.HasMore,
		"total", resp.Total,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	eng := darasasync.NewEngine(s, h.entities)
	status, err := eng.SyncStatus(ctx, p.UserID)
	if err != nil {
		slog.Error("status aggregation failed",
			"component", "api",
			"action", "sync_status_failed",
			"school_id", p.SchoolID,
			"user_id", p.UserID,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
