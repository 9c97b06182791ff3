package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/darasahq/darasa-sync/internal/store"
	"github.com/darasahq/darasa-sync/internal/types"
)

// Resolve applies a user-chosen resolution to a pending conflict and
// flips the associated queue item from conflict to synced with a fresh
// synced_at, so the next pull surfaces the outcome like any other
// change. The engine does not rewrite entity state; the caller applies
// the accepted or merged payload itself.
//
// Fails with store.ErrNotFound for an unknown conflict id,
// ErrPermissionDenied when the conflict belongs to another user, and
// store.ErrConflictResolved when it was already resolved. Resolving
// twice must fail, not silently succeed, to avoid double-application.
func (e *Engine) Resolve(ctx context.Context, userID string, req ResolveRequest) (ResolveResult, error) {
	if err := ValidateResolution(req); err != nil {
		return ResolveResult{}, err
	}

	c, err := e.store.GetConflict(ctx, req.ConflictID)
	if err != nil {
		return ResolveResult{}, err
	}
	if c.UserID != userID {
		return ResolveResult{}, fmt.Errorf("conflict %s: %w", req.ConflictID, ErrPermissionDenied)
	}

	res := store.Resolution{
		ConflictID: req.ConflictID,
		Status:     req.Resolution,
		ResolvedBy: userID,
		ResolvedAt: time.Now().UTC(),
	}
	if req.Resolution == types.ResolutionMerged {
		res.MergedData = req.MergedData
	}

	resolved, err := e.store.ApplyResolution(ctx, res)
	if err != nil {
		return ResolveResult{}, err
	}

	resolvedAt := res.ResolvedAt
	if resolved.ResolvedAt != nil {
		resolvedAt = *resolved.ResolvedAt
	}
	return ResolveResult{
		ConflictID:       resolved.ID,
		ResolutionStatus: resolved.ResolutionStatus,
		ResolvedAt:       resolvedAt,
		Message:          fmt.Sprintf("Conflict resolved as %s", resolved.ResolutionStatus),
	}, nil
}

// ConflictListQuery filters a user's conflict listing.
type ConflictListQuery struct {
	ResolutionStatus   *types.ResolutionStatus
	EntityType         string
	HasVersionConflict *bool
	Limit              int
	Offset             int
}

// ConflictPage is one page of a conflict listing.
type ConflictPage struct {
	Conflicts []types.Conflict `json:"conflicts"`
	Total     int64            `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// ListConflicts returns a page of the user's conflicts, newest first,
// with the total match count.
func (e *Engine) ListConflicts(ctx context.Context, userID string, q ConflictListQuery) (ConflictPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	conflicts, total, err := e.store.ListConflicts(ctx, store.ConflictQuery{
		UserID:             userID,
		ResolutionStatus:   q.ResolutionStatus,
		EntityType:         q.EntityType,
		HasVersionConflict: q.HasVersionConflict,
		Limit:              limit,
		Offset:             offset,
	})
	if err != nil {
		return ConflictPage{}, fmt.Errorf("list conflicts: %w", err)
	}

	return ConflictPage{
		Conflicts: conflicts,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

// ResolveBulk applies resolutions independently, collecting per-item
// outcomes. One refused resolution never aborts its siblings.
func (e *Engine) ResolveBulk(ctx context.Context, userID string, req BulkResolveRequest) BulkResolveResponse {
	resp := BulkResolveResponse{
		Resolved: []ResolveResult{},
		Failed:   []ResolveFailure{},
	}

	for _, r := range req.Resolutions {
		result, err := e.Resolve(ctx, userID, r)
		if err != nil {
			resp.Failed = append(resp.Failed, ResolveFailure{
				ConflictID: r.ConflictID,
				Error:      err.Error(),
			})
			continue
		}
		resp.Resolved = append(resp.Resolved, result)
	}

	resp.Message = fmt.Sprintf("Resolved %d of %d conflicts", len(resp.Resolved), len(req.Resolutions))
	return resp
}
