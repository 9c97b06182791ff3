package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/darasahq/darasa-sync/internal/ability"
	"github.com/darasahq/darasa-sync/internal/api"
	"github.com/darasahq/darasa-sync/internal/history"
	darasasync "github.com/darasahq/darasa-sync/internal/sync"
	"github.com/darasahq/darasa-sync/internal/tenant"
	"github.com/darasahq/darasa-sync/internal/types"
)

const testAPIKey = "e2e-test-api-key"

// --- Sync Test Environment Setup ---

// setupSyncEnv builds the full production router against a school manager
// rooted in a temp directory. Auto-provisioning is on, so any school id a
// test names springs into being on first request. The role checker is the
// real one; tests pick roles the way the gateway would forward them.
func setupSyncEnv(t *testing.T) (*tenant.Manager, http.Handler) {
	t.Helper()

	manager, err := tenant.NewManager(filepath.Join(t.TempDir(), "schools"), true)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	handler := api.NewHandler(manager, nil, ability.NewRoleChecker(), &history.NoopArchiver{}, nil, testAPIKey, "1.0.0")
	return manager, api.NewRouter(handler, manager)
}

// --- HTTP Helpers ---

// principalRequest builds a request carrying gateway auth plus principal
// headers for userID acting in schoolID with the given roles.
func principalRequest(method, target, userID, schoolID, roles string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set(api.HeaderUserID, userID)
	req.Header.Set(api.HeaderSchoolID, schoolID)
	req.Header.Set(api.HeaderRoles, roles)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func marshalBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return bytes.NewBuffer(b)
}

// doPush submits operations as a teacher and fails the test on any
// transport-level error. Per-operation outcomes land in the response.
func doPush(t *testing.T, router http.Handler, userID, schoolID string, ops []darasasync.PushOperation) darasasync.PushResponse {
	t.Helper()

	req := principalRequest(http.MethodPost, "/api/v1/sync/push", userID, schoolID, "teacher",
		marshalBody(t, darasasync.PushRequest{Operations: ops}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("push: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp darasasync.PushResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	return resp
}

// doPull fetches one page of the user's synced-change feed.
func doPull(t *testing.T, router http.Handler, userID, schoolID string, pullReq darasasync.PullRequest) darasasync.PullResponse {
	t.Helper()

	req := principalRequest(http.MethodPost, "/api/v1/sync/pull", userID, schoolID, "teacher",
		marshalBody(t, pullReq))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pull: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp darasasync.PullResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	return resp
}

// pullEverything walks the pull feed from the beginning of history in
// pages of pageSize and returns all changes.
func pullEverything(t *testing.T, router http.Handler, userID, schoolID string, pageSize int) []darasasync.Change {
	t.Helper()

	var all []darasasync.Change
	offset := 0
	for pages := 0; ; pages++ {
		if pages > 20 {
			t.Fatal("too many pull pages, possible infinite loop")
		}
		resp := doPull(t, router, userID, schoolID, darasasync.PullRequest{Limit: pageSize, Offset: offset})
		all = append(all, resp.Changes...)
		if !resp.HasMore || len(resp.Changes) == 0 {
			break
		}
		offset += len(resp.Changes)
	}
	return all
}

// fetchStatus reads the user's queue counters.
func fetchStatus(t *testing.T, router http.Handler, userID, schoolID string) darasasync.Status {
	t.Helper()

	req := principalRequest(http.MethodGet, "/api/v1/sync/status", userID, schoolID, "teacher", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status darasasync.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	return status
}

// fetchConflicts lists the user's conflicts. query is a raw query string
// such as "?status=pending", or empty for no filter.
func fetchConflicts(t *testing.T, router http.Handler, userID, schoolID, query string) darasasync.ConflictPage {
	t.Helper()

	req := principalRequest(http.MethodGet, "/api/v1/sync/conflicts"+query, userID, schoolID, "teacher", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("list conflicts: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page darasasync.ConflictPage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode conflict page: %v", err)
	}
	return page
}

// resolveRaw applies one resolution and returns the raw recorder so tests
// can assert refusal codes.
func resolveRaw(t *testing.T, router http.Handler, userID, schoolID string, req darasasync.ResolveRequest) *httptest.ResponseRecorder {
	t.Helper()

	httpReq := principalRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve", userID, schoolID, "teacher",
		marshalBody(t, req))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

// resolveOK applies one resolution that is expected to succeed.
func resolveOK(t *testing.T, router http.Handler, userID, schoolID string, req darasasync.ResolveRequest) darasasync.ResolveResult {
	t.Helper()

	w := resolveRaw(t, router, userID, schoolID, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result darasasync.ResolveResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode resolve result: %v", err)
	}
	return result
}

// resolveBulk applies a batch of resolutions.
func resolveBulk(t *testing.T, router http.Handler, userID, schoolID string, req darasasync.BulkResolveRequest) darasasync.BulkResolveResponse {
	t.Helper()

	httpReq := principalRequest(http.MethodPatch, "/api/v1/sync/conflicts/resolve-bulk", userID, schoolID, "teacher",
		marshalBody(t, req))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("bulk resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp darasasync.BulkResolveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode bulk resolve response: %v", err)
	}
	return resp
}

// doPurge deletes the user's sync history. query is a raw query string
// such as "?before_date=...", or empty for an unbounded purge.
func doPurge(t *testing.T, router http.Handler, userID, schoolID, query string) api.PurgeHistoryResponse {
	t.Helper()

	req := principalRequest(http.MethodDelete, "/api/v1/sync/history"+query, userID, schoolID, "teacher", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("purge: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.PurgeHistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode purge response: %v", err)
	}
	return resp
}

// --- Payload and Operation Builders ---

// studentPayload builds a student record as a client would serialize it.
func studentPayload(t *testing.T, id, firstName string, version int64) json.RawMessage {
	t.Helper()
	payload := map[string]any{
		"id":         id,
		"first_name": firstName,
		"last_name":  "Mwangi",
		"class":      "4B",
		"version":    version,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal student payload: %v", err)
	}
	return json.RawMessage(b)
}

// gradePayload builds a grade record for entity-type filter tests.
func gradePayload(t *testing.T, id, studentID string, score int) json.RawMessage {
	t.Helper()
	payload := map[string]any{
		"id":         id,
		"student_id": studentID,
		"subject":    "Mathematics",
		"score":      score,
		"term":       "2026-T2",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal grade payload: %v", err)
	}
	return json.RawMessage(b)
}

func createOp(entityType, entityID string, payload json.RawMessage) darasasync.PushOperation {
	return darasasync.PushOperation{
		ClientOperationID: uuid.NewString(),
		EntityType:        entityType,
		EntityID:          entityID,
		Operation:         types.OperationCreate,
		Payload:           payload,
		ClientVersion:     1,
		ClientTimestamp:   time.Now().UTC(),
	}
}

// updateOp proposes version as the entity's next version; the server
// flags the operation as conflicted when a higher version already synced.
func updateOp(entityType, entityID string, payload json.RawMessage, version int64) darasasync.PushOperation {
	return darasasync.PushOperation{
		ClientOperationID: uuid.NewString(),
		EntityType:        entityType,
		EntityID:          entityID,
		Operation:         types.OperationUpdate,
		Payload:           payload,
		ClientVersion:     version,
		ClientTimestamp:   time.Now().UTC(),
	}
}

func deleteOp(entityType, entityID string, version int64) darasasync.PushOperation {
	return darasasync.PushOperation{
		ClientOperationID: uuid.NewString(),
		EntityType:        entityType,
		EntityID:          entityID,
		Operation:         types.OperationDelete,
		ClientVersion:     version,
		ClientTimestamp:   time.Now().UTC(),
	}
}

// pushStudents creates n students (student-001..student-n) for userID and
// fails the test unless every operation syncs.
func pushStudents(t *testing.T, router http.Handler, userID, schoolID string, n int) darasasync.PushResponse {
	t.Helper()

	ops := make([]darasasync.PushOperation, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("student-%03d", i+1)
		ops[i] = createOp("student", id, studentPayload(t, id, fmt.Sprintf("Student %d", i+1), 1))
	}
	resp := doPush(t, router, userID, schoolID, ops)
	if len(resp.Synced) != n {
		t.Fatalf("pushStudents: expected %d synced, got %d synced, %d conflicts, %d failed",
			n, len(resp.Synced), len(resp.Conflicts), len(resp.Failed))
	}
	return resp
}

// --- Assertion Helpers ---

func entityIDSet(changes []darasasync.Change) map[string]bool {
	ids := make(map[string]bool, len(changes))
	for _, c := range changes {
		ids[c.EntityID] = true
	}
	return ids
}

func requireBuckets(t *testing.T, resp darasasync.PushResponse, synced, conflicts, failed int) {
	t.Helper()
	if len(resp.Synced) != synced || len(resp.Conflicts) != conflicts || len(resp.Failed) != failed {
		t.Fatalf("push buckets = %d synced, %d conflicts, %d failed; want %d/%d/%d",
			len(resp.Synced), len(resp.Conflicts), len(resp.Failed), synced, conflicts, failed)
	}
}
