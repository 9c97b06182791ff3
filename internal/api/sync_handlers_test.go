package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	darasasync "github.com/darasahq/darasa-sync/internal/sync"
	"github.com/darasahq/darasa-sync/internal/types"
)

// --- Request Validation Tests ---

func TestValidatePushRequest_Valid(t *testing.T) {
	req := darasasync.PushRequest{
		Operations: []darasasync.PushOperation{
			pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`),
		},
	}
	if err := validatePushRequest(req); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidatePushRequest_EmptyOperations(t *testing.T) {
	err := validatePushRequest(darasasync.PushRequest{Operations: []darasasync.PushOperation{}})
	if err == nil {
		t.Fatal("expected error for empty operations")
	}
	if err.Error() != "operations array is required" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestValidatePushRequest_TooManyOperations(t *testing.T) {
	req := darasasync.PushRequest{Operations: make([]darasasync.PushOperation, MaxPushOperations+1)}
	if err := validatePushRequest(req); err == nil {
		t.Fatal("expected error for too many operations")
	}
}

// --- Helpers ---

var testClientTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func pushOp(opID, entityType, entityID string, kind types.OperationKind, version int64, payload string) darasasync.PushOperation {
	op := darasasync.PushOperation{
		ClientOperationID: opID,
		EntityType:        entityType,
		EntityID:          entityID,
		Operation:         kind,
		ClientVersion:     version,
		ClientTimestamp:   testClientTime,
	}
	if payload != "" {
		op.Payload = json.RawMessage(payload)
	}
	return op
}

func makeJSONBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return bytes.NewBuffer(b)
}

func doPush(t *testing.T, router http.Handler, ops ...darasasync.PushOperation) darasasync.PushResponse {
	t.Helper()
	body := makeJSONBody(t, darasasync.PushRequest{Operations: ops})
	req := authedRequest(http.MethodPost, "/api/v1/sync/push", body)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("push: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp darasasync.PushResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	return resp
}

// --- Push Tests ---

func TestSyncPush_SingleCreate(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	resp := doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`))

	if len(resp.Synced) != 1 {
		t.Fatalf("expected 1 synced, got %d (failed: %v)", len(resp.Synced), resp.Failed)
	}
	got := resp.Synced[0]
	if got.ClientOperationID != "op-1" {
		t.Errorf("client_operation_id = %q, want op-1", got.ClientOperationID)
	}
	if got.QueueItemID == "" {
		t.Error("queue_item_id is empty")
	}
	if got.EntityType != "students" {
		t.Errorf("entity_type = %q, want students", got.EntityType)
	}
	if got.ServerVersion != 1 {
		t.Errorf("server_version = %d, want 1", got.ServerVersion)
	}
	if got.SyncedAt.IsZero() {
		t.Error("synced_at is zero")
	}
	if resp.SyncTimestamp.IsZero() {
		t.Error("sync_timestamp is zero")
	}
	if resp.Message != "Processed 1 operations: 1 synced, 0 conflicts, 0 failed" {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

func TestSyncPush_VersionConflict(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	// Establish server state at version 2
	doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha","grade":7}`))
	doPush(t, router, pushOp("op-2", "students", "s1", types.OperationUpdate, 2, `{"name":"Asha","grade":8}`))

	// Stale update against version 2
	resp := doPush(t, router, pushOp("op-3", "students", "s1", types.OperationUpdate, 1, `{"name":"Asha","grade":9}`))

	if len(resp.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d (synced: %v, failed: %v)", len(resp.Conflicts), resp.Synced, resp.Failed)
	}
	c := resp.Conflicts[0]
	if c.ClientOperationID != "op-3" {
		t.Errorf("client_operation_id = %q, want op-3", c.ClientOperationID)
	}
	if c.ConflictID == "" {
		t.Error("conflict_id is empty")
	}
	if c.ClientVersion != 1 {
		t.Errorf("client_version = %d, want 1", c.ClientVersion)
	}
	if c.ServerVersion != 2 {
		t.Errorf("server_version = %d, want 2", c.ServerVersion)
	}

	// Server data shows the winning state
	var serverData map[string]any
	if err := json.Unmarshal(c.ServerData, &serverData); err != nil {
		t.Fatalf("unmarshal server_data: %v", err)
	}
	if serverData["grade"] != float64(8) {
		t.Errorf("server_data.grade = %v, want 8", serverData["grade"])
	}
}

func TestSyncPush_EqualVersionIsNotConflict(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`))

	// Same version as server: accepted, not stale
	resp := doPush(t, router, pushOp("op-2", "students", "s1", types.OperationUpdate, 1, `{"name":"Asha N"}`))

	if len(resp.Conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(resp.Conflicts))
	}
	if len(resp.Synced) != 1 {
		t.Errorf("expected 1 synced, got %d", len(resp.Synced))
	}
}

func TestSyncPush_MixedBatch(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	resp := doPush(t, router,
		pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`),
		pushOp("op-2", "students", "s2", "RENAME", 1, `{"name":"Benji"}`),
	)

	if len(resp.Synced) != 1 {
		t.Errorf("expected 1 synced, got %d", len(resp.Synced))
	}
	if len(resp.Failed) != 1 {
		t.Fatalf("expected 1 failed, got %d", len(resp.Failed))
	}
	if resp.Failed[0].ClientOperationID != "op-2" {
		t.Errorf("failed op = %q, want op-2", resp.Failed[0].ClientOperationID)
	}
	if !strings.Contains(resp.Failed[0].Error, "operation_type") {
		t.Errorf("failed error = %q, want mention of operation_type", resp.Failed[0].Error)
	}
	if resp.Message != "Processed 2 operations: 1 synced, 0 conflicts, 1 failed" {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

func TestSyncPush_IdempotentReplay(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	first := doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`))
	if len(first.Synced) != 1 {
		t.Fatalf("expected 1 synced on first push, got %d", len(first.Synced))
	}

	// Retrying the same client operation returns the recorded outcome
	// instead of processing it twice.
	second := doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`))
	if len(second.Synced) != 1 {
		t.Fatalf("expected 1 synced on replay, got %d (failed: %v)", len(second.Synced), second.Failed)
	}
	if second.Synced[0].QueueItemID != first.Synced[0].QueueItemID {
		t.Errorf("replay queue_item_id = %q, want original %q",
			second.Synced[0].QueueItemID, first.Synced[0].QueueItemID)
	}

	// The queue holds one item, not two
	statusReq := authedRequest(http.MethodGet, "/api/v1/sync/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, statusReq)

	var status darasasync.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.SyncedCount != 1 {
		t.Errorf("synced_count = %d, want 1", status.SyncedCount)
	}
}

func TestSyncPush_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodPost, "/api/v1/sync/push", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSyncPush_EmptyOperations(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodPost, "/api/v1/sync/push", strings.NewReader(`{"operations":[]}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Detail != "operations array is required" {
		t.Errorf("detail = %q, want 'operations array is required'", p.Detail)
	}
}

func TestSyncPush_TooManyOperations(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	ops := make([]darasasync.PushOperation, MaxPushOperations+1)
	for i := range ops {
		ops[i] = pushOp(fmt.Sprintf("op-%d", i), "students", fmt.Sprintf("s%d", i), types.OperationCreate, 1, `{"n":1}`)
	}

	req := authedRequest(http.MethodPost, "/api/v1/sync/push", makeJSONBody(t, darasasync.PushRequest{Operations: ops}))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSyncPush_MissingSchoolHeader(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	body := makeJSONBody(t, darasasync.PushRequest{Operations: []darasasync.PushOperation{
		pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`),
	}})
	req := authedRequest(http.MethodPost, "/api/v1/sync/push", body)
	req.Header.Del(HeaderSchoolID)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestSyncPush_MissingAuth(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	body := makeJSONBody(t, darasasync.PushRequest{Operations: []darasasync.PushOperation{
		pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`),
	}})
	req := authedRequest(http.MethodPost, "/api/v1/sync/push", body)
	req.Header.Del("Authorization")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- Pull Tests ---

func TestSyncPull_ReturnsSyncedChanges(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router,
		pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`),
		pushOp("op-2", "grades", "g1", types.OperationCreate, 1, `{"score":87}`),
	)

	req := authedRequest(http.MethodPost, "/api/v1/sync/pull", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp darasasync.PullResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}

	if len(resp.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(resp.Changes))
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	if resp.HasMore {
		t.Error("has_more = true, want false")
	}
	if resp.SyncTimestamp.IsZero() {
		t.Error("sync_timestamp is zero")
	}

	// Oldest first, so clients can apply sequentially
	if resp.Changes[0].EntityID != "s1" {
		t.Errorf("changes[0].entity_id = %q, want s1", resp.Changes[0].EntityID)
	}
	if resp.Changes[0].Version != 1 {
		t.Errorf("changes[0].version = %d, want 1", resp.Changes[0].Version)
	}
}

func TestSyncPull_WatermarkFiltersChanges(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`))

	// Watermark in the past: change is returned
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	req := authedRequest(http.MethodPost, "/api/v1/sync/pull",
		strings.NewReader(fmt.Sprintf(`{"last_sync_timestamp":%q}`, past)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp darasasync.PullResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(resp.Changes) != 1 {
		t.Errorf("past watermark: expected 1 change, got %d", len(resp.Changes))
	}

	// Watermark in the future: nothing newer
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	req = authedRequest(http.MethodPost, "/api/v1/sync/pull",
		strings.NewReader(fmt.Sprintf(`{"last_sync_timestamp":%q}`, future)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(resp.Changes) != 0 {
		t.Errorf("future watermark: expected 0 changes, got %d", len(resp.Changes))
	}
	if resp.Total != 0 {
		t.Errorf("future watermark: total = %d, want 0", resp.Total)
	}
}

func TestSyncPull_EntityTypeFilter(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router,
		pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`),
		pushOp("op-2", "grades", "g1", types.OperationCreate, 1, `{"score":87}`),
	)

	req := authedRequest(http.MethodPost, "/api/v1/sync/pull",
		strings.NewReader(`{"entity_types":["students"]}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp darasasync.PullResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}

	if len(resp.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(resp.Changes))
	}
	if resp.Changes[0].EntityType != "students" {
		t.Errorf("entity_type = %q, want students", resp.Changes[0].EntityType)
	}
}

func TestSyncPull_Pagination(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router,
		pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"n":1}`),
		pushOp("op-2", "students", "s2", types.OperationCreate, 1, `{"n":2}`),
		pushOp("op-3", "students", "s3", types.OperationCreate, 1, `{"n":3}`),
	)

	// First page
	req := authedRequest(http.MethodPost, "/api/v1/sync/pull", strings.NewReader(`{"limit":2}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp darasasync.PullResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(resp.Changes) != 2 {
		t.Fatalf("first page: expected 2 changes, got %d", len(resp.Changes))
	}
	if !resp.HasMore {
		t.Error("first page: has_more = false, want true")
	}
	if resp.Total != 3 {
		t.Errorf("first page: total = %d, want 3", resp.Total)
	}

	// Second page
	req = authedRequest(http.MethodPost, "/api/v1/sync/pull", strings.NewReader(`{"limit":2,"offset":2}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(resp.Changes) != 1 {
		t.Fatalf("second page: expected 1 change, got %d", len(resp.Changes))
	}
	if resp.HasMore {
		t.Error("second page: has_more = true, want false")
	}
}

func TestSyncPull_EmptyBodyRejected(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodPost, "/api/v1/sync/pull", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (pull requires a JSON body, {} at minimum)", w.Code, http.StatusBadRequest)
	}
}

func TestSyncPull_ScopedToUser(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"name":"Asha"}`))

	// Same school, different user: sees nothing
	req := authedRequest(http.MethodPost, "/api/v1/sync/pull", strings.NewReader(`{}`))
	req.Header.Set(HeaderUserID, "user-2")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp darasasync.PullResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(resp.Changes) != 0 {
		t.Errorf("expected 0 changes for other user, got %d", len(resp.Changes))
	}
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0", resp.Total)
	}
}

// --- Status Tests ---

func TestSyncStatus_EmptyQueue(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	req := authedRequest(http.MethodGet, "/api/v1/sync/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var status darasasync.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if status.PendingCount != 0 || status.SyncedCount != 0 || status.FailedCount != 0 || status.ConflictCount != 0 {
		t.Errorf("expected all-zero counts, got %+v", status)
	}
	if status.LastSyncAt != nil {
		t.Errorf("last_sync_at = %v, want null", status.LastSyncAt)
	}
	if status.IsSyncing {
		t.Error("is_syncing = true, want false")
	}
}

func TestSyncStatus_ReflectsQueueStates(t *testing.T) {
	router := newTestRouter(t, newTestManager(t))

	doPush(t, router, pushOp("op-1", "students", "s1", types.OperationCreate, 1, `{"grade":7}`))
	doPush(t, router, pushOp("op-2", "students", "s1", types.OperationUpdate, 2, `{"grade":8}`))
	// Stale update lands as a conflict
	doPush(t, router, pushOp("op-3", "students", "s1", types.OperationUpdate, 1, `{"grade":9}`))

	req := authedRequest(http.MethodGet, "/api/v1/sync/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var status darasasync.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if status.SyncedCount != 2 {
		t.Errorf("synced_count = %d, want 2", status.SyncedCount)
	}
	if status.ConflictCount != 1 {
		t.Errorf("conflict_count = %d, want 1", status.ConflictCount)
	}
	if status.PendingCount != 0 {
		t.Errorf("pending_count = %d, want 0", status.PendingCount)
	}
	if status.FailedCount != 0 {
		t.Errorf("failed_count = %d, want 0", status.FailedCount)
	}
	if status.LastSyncAt == nil {
		t.Error("last_sync_at is null, want timestamp")
	}
	if status.IsSyncing {
		t.Error("is_syncing = true, want false")
	}
}
