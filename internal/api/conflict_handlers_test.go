package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	darasasync "github.com/darasahq/darasa-sync/internal/sync"
	"github.com/darasahq/darasa-sync/internal/types"
)

// seedConflict pushes a create, an update, then a stale update for the
// given entity, returning the conflict id the last push produced.
func seedConflict(t *testing.T, router http.Handler, prefix, entityType, entityID string) string {
	t.Helper()
	doPush(t, router, pushOp(prefix+"-1", entityType, entityID, types.OperationCreate, 1, `{"v":1}`))
	doPush(t, router, pushOp(prefix+"-2", entityType, entityID, types.OperationUpdate, 2, `{"v":2}`))
	resp := doPush(t, router, pushOp(prefix+"-3", entityType, entityID, types.OperationUpdate, 1, `{"v":3}`))
	if len(resp.Conflicts) != 1 {
		t.Fatalf("seed conflict: expected 1 conflict, got synced=%d conflicts=%d failed=%v",
			len(resp.Synced), len(resp.Conflicts), resp.Failed)
	}
	return resp.Conflicts[0].ConflictID
}

// --- List Tests ---

func TestListConflicts_ReturnsPage(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	seedConflict(t, router, "op", "students", "s1")

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}

	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}
	if len(page.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(page.Conflicts))
	}
	if page.Limit != darasasync.DefaultPullLimit {
		t.Errorf("limit = %d, want default %d", page.Limit, darasasync.DefaultPullLimit)
	}
	if page.Offset != 0 {
		t.Errorf("offset = %d, want 0", page.Offset)
	}

	c := page.Conflicts[0]
	if c.EntityType != "students" || c.EntityID != "s1" {
		t.Errorf("conflict entity = %s/%s, want students/s1", c.EntityType, c.EntityID)
	}
	if c.ClientVersion != 1 || c.ServerVersion != 2 {
		t.Errorf("versions = %d/%d, want 1/2", c.ClientVersion, c.ServerVersion)
	}
	if c.ResolutionStatus != types.ResolutionPending {
		t.Errorf("resolution_status = %q, want pending", c.ResolutionStatus)
	}
}

func TestListConflicts_Empty(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	if page.Total != 0 || len(page.Conflicts) != 0 {
		t.Errorf("expected empty page, got total=%d len=%d", page.Total, len(page.Conflicts))
	}
}

func TestListConflicts_StatusFilter(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	resolvedID := seedConflict(t, router, "op-a", "students", "s1")
	seedConflict(t, router, "op-b", "grades", "g1")

	// Resolve the first conflict
	body := makeJSONBody(t, darasasync.ResolveRequest{ConflictID: resolvedID, Resolution: types.ResolutionAcceptedClient})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d: %s", w.Code, w.Body.String())
	}

	// Pending filter returns only the unresolved one
	req = authedRequest(http.MethodGet, "/api/v1/sync/conflicts?status=pending", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("pending filter: total = %d, want 1", page.Total)
	}
	if page.Conflicts[0].EntityType != "grades" {
		t.Errorf("pending conflict entity_type = %q, want grades", page.Conflicts[0].EntityType)
	}

	// Resolved filter returns only the resolved one
	req = authedRequest(http.MethodGet, "/api/v1/sync/conflicts?status=accepted_client", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("accepted_client filter: total = %d, want 1", page.Total)
	}
	if page.Conflicts[0].ID != resolvedID {
		t.Errorf("resolved conflict id = %q, want %q", page.Conflicts[0].ID, resolvedID)
	}
}

func TestListConflicts_EntityTypeFilter(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	seedConflict(t, router, "op-a", "students", "s1")
	seedConflict(t, router, "op-b", "grades", "g1")

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts?entity_type=grades", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
	if page.Conflicts[0].EntityType != "grades" {
		t.Errorf("entity_type = %q, want grades", page.Conflicts[0].EntityType)
	}
}

func TestListConflicts_LimitClamped(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts?limit=500", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	if page.Limit != darasasync.MaxPullLimit {
		t.Errorf("limit = %d, want clamped to %d", page.Limit, darasasync.MaxPullLimit)
	}
}

func TestListConflicts_InvalidStatus(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts?status=bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Detail != `invalid status parameter: "bogus"` {
		t.Errorf("detail = %q", p.Detail)
	}
}

func TestListConflicts_InvalidLimit(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	for _, v := range []string{"0", "-5", "abc"} {
		req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts?limit="+v, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want %d", v, w.Code, http.StatusBadRequest)
		}
	}
}

func TestListConflicts_InvalidHasVersionConflict(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts?has_version_conflict=maybe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListConflicts_ScopedToUser(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	seedConflict(t, router, "op", "students", "s1")

	req := authedRequest(http.MethodGet, "/api/v1/sync/conflicts", nil)
	req.Header.Set(HeaderUserID, "user-2")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("total = %d, want 0 for other user", page.Total)
	}
}

// --- Resolve Tests ---

func TestResolveConflict_AcceptClient(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	body := makeJSONBody(t, darasasync.ResolveRequest{ConflictID: conflictID, Resolution: types.ResolutionAcceptedClient})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var result darasasync.ResolveResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode resolve result: %v", err)
	}
	if result.ConflictID != conflictID {
		t.Errorf("conflict_id = %q, want %q", result.ConflictID, conflictID)
	}
	if result.ResolutionStatus != types.ResolutionAcceptedClient {
		t.Errorf("resolution_status = %q, want accepted_client", result.ResolutionStatus)
	}
	if result.ResolvedAt.IsZero() {
		t.Error("resolved_at is zero")
	}
	if result.Message != "Conflict resolved as accepted_client" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestResolveConflict_Merged(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	body := makeJSONBody(t, darasasync.ResolveRequest{
		ConflictID: conflictID,
		Resolution: types.ResolutionMerged,
		MergedData: json.RawMessage(`{"v":2,"note":"kept both edits"}`),
	})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var result darasasync.ResolveResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode resolve result: %v", err)
	}
	if result.ResolutionStatus != types.ResolutionMerged {
		t.Errorf("resolution_status = %q, want merged", result.ResolutionStatus)
	}
}

func TestResolveConflict_MergedRequiresData(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	body := makeJSONBody(t, darasasync.ResolveRequest{ConflictID: conflictID, Resolution: types.ResolutionMerged})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}

	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(p.Errors) != 1 || p.Errors[0].Field != "merged_data" {
		t.Errorf("errors = %+v, want one merged_data error", p.Errors)
	}
}

func TestResolveConflict_InvalidResolution(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	body := strings.NewReader(fmt.Sprintf(`{"conflict_id":%q,"resolution":"overwrite"}`, conflictID))
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}

	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(p.Errors) != 1 || p.Errors[0].Field != "resolution" {
		t.Errorf("errors = %+v, want one resolution error", p.Errors)
	}
}

func TestResolveConflict_NotFound(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	seedConflict(t, router, "op", "students", "s1")

	body := makeJSONBody(t, darasasync.ResolveRequest{ConflictID: "no-such-conflict", Resolution: types.ResolutionAcceptedServer})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestResolveConflict_AlreadyResolved(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	resolve := func() *httptest.ResponseRecorder {
		body := makeJSONBody(t, darasasync.ResolveRequest{ConflictID: conflictID, Resolution: types.ResolutionAcceptedServer})
		req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := resolve(); w.Code != http.StatusOK {
		t.Fatalf("first resolve: status = %d: %s", w.Code, w.Body.String())
	}

	// Resolving twice fails rather than silently succeeding
	w := resolve()
	if w.Code != http.StatusConflict {
		t.Errorf("second resolve: status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestResolveConflict_OtherUsersConflict(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	body := makeJSONBody(t, darasasync.ResolveRequest{ConflictID: conflictID, Resolution: types.ResolutionAcceptedClient})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", body)
	req.Header.Set(HeaderUserID, "user-2")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestResolveConflict_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", strings.NewReader(`{broken`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- Bulk Resolve Tests ---

func TestResolveConflictsBulk_MixedOutcome(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))
	conflictID := seedConflict(t, router, "op", "students", "s1")

	body := makeJSONBody(t, darasasync.BulkResolveRequest{Resolutions: []darasasync.ResolveRequest{
		{ConflictID: conflictID, Resolution: types.ResolutionAcceptedServer},
		{ConflictID: "no-such-conflict", Resolution: types.ResolutionAcceptedServer},
	}})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve-bulk", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp darasasync.BulkResolveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode bulk response: %v", err)
	}

	if len(resp.Resolved) != 1 {
		t.Errorf("resolved = %d, want 1", len(resp.Resolved))
	}
	if len(resp.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(resp.Failed))
	}
	if resp.Failed[0].ConflictID != "no-such-conflict" {
		t.Errorf("failed conflict_id = %q, want no-such-conflict", resp.Failed[0].ConflictID)
	}
	if resp.Message != "Resolved 1 of 2 conflicts" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestResolveConflictsBulk_Empty(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve-bulk", strings.NewReader(`{"resolutions":[]}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Detail != "resolutions array is required" {
		t.Errorf("detail = %q", p.Detail)
	}
}

func TestResolveConflictsBulk_TooMany(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	resolutions := make([]darasasync.ResolveRequest, MaxBulkResolutions+1)
	for i := range resolutions {
		resolutions[i] = darasasync.ResolveRequest{
			ConflictID: fmt.Sprintf("c-%d", i),
			Resolution: types.ResolutionAcceptedServer,
		}
	}

	body := makeJSONBody(t, darasasync.BulkResolveRequest{Resolutions: resolutions})
	req := authedRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve-bulk", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
