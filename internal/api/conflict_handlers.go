package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	darasasync "github.com/darasahq/darasa-sync/internal/sync"
	"github.com/darasahq/darasa-sync/internal/types"
)

// MaxBulkResolutions is the maximum resolutions per bulk request.
const MaxBulkResolutions = 100

// ListConflicts handles GET /api/v1/sync/conflicts
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	q, err := parseConflictListQuery(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	eng := darasasync.NewEngine(s, h.entities)
	page, err := eng.ListConflicts(ctx, p.UserID, q)
	if err != nil {
		slog.Error("conflict listing failed",
			"component", "api",
			"action", "conflict_list_failed",
			"school_id", p.SchoolID,
			"user_id", p.UserID,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// parseConflictListQuery extracts and validates query parameters for
// GET /sync/conflicts.
func parseConflictListQuery(r *http.Request) (darasasync.ConflictListQuery, error) {
	var q darasasync.ConflictListQuery
	query := r.URL.Query()

	if v := query.Get("status"); v != "" {
		rs := types.ResolutionStatus(v)
		switch rs {
		case types.ResolutionPending, types.ResolutionAcceptedClient,
			types.ResolutionAcceptedServer, types.ResolutionMerged:
			q.ResolutionStatus = &rs
		default:
			return q, fmt.Errorf("invalid status parameter: %q", v)
		}
	}

	q.EntityType = query.Get("entity_type")

	if v := query.Get("has_version_conflict"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("invalid has_version_conflict parameter: must be a boolean")
		}
		q.HasVersionConflict = &b
	}

	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, fmt.Errorf("invalid limit parameter: must be a positive integer")
		}
		q.Limit = n
	}

	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset parameter: must be >= 0")
		}
		q.Offset = n
	}

	return q, nil
}

// ResolveConflict handles PATCH /api/v1/sync/conflicts/resolve
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	var req darasasync.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	eng := darasasync.NewEngine(s, h.entities)
	result, err := eng.Resolve(ctx, p.UserID, req)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)

	slog.Info("conflict resolved",
		"component", "api",
		"action", "conflict_resolve",
		"school_id", p.SchoolID,
		"user_id", p.UserID,
		"conflict_id", result.ConflictID,
		"resolution", string(result.ResolutionStatus),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ResolveConflictsBulk handles PATCH /api/v1/sync/conflicts/resolve-bulk
func (h *Handler) ResolveConflictsBulk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	p := MustPrincipalFromContext(ctx)
	s := MustSchoolStoreFromContext(ctx)

	// 1. Parse request
	var req darasasync.BulkResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	// 2. Validate request structure
	if len(req.Resolutions) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "resolutions array is required")
		return
	}
	if len(req.Resolutions) > MaxBulkResolutions {
		WriteProblem(w, r, http.StatusBadRequest,
			fmt.Sprintf("resolutions exceeds maximum of %d", MaxBulkResolutions))
		return
	}

	// 3. Apply resolutions. Always 200; per-item refusals are reported
	// inline in the failed bucket.
	eng := darasasync.NewEngine(s, h.entities)
	resp := eng.ResolveBulk(ctx, p.UserID, req)

	// 4. Return response
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	slog.Info("bulk resolve completed",
		"component", "api",
		"action", "conflict_resolve_bulk",
		"school_id", p.SchoolID,
		"user_id", p.UserID,
		"resolutions", len(req.Resolutions),
		"resolved", len(resp.Resolved),
		"failed", len(resp.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
