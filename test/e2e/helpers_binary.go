//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/darasahq/darasa-sync/internal/api"
	"github.com/darasahq/darasa-sync/pkg/syncclient"

	_ "modernc.org/sqlite"
)

// syncServer manages a running darasa-sync server process.
type syncServer struct {
	cmd     *exec.Cmd
	dataDir string
	port    int
	apiKey  string
	logFile *os.File
}

// startServer launches a server binary on a fresh data directory and a
// free port, and waits for it to pass health checks.
func startServer(t *testing.T) *syncServer {
	t.Helper()
	requireServer(t)

	s := &syncServer{
		dataDir: t.TempDir(),
		port:    freePort(t),
		apiKey:  testAPIKey,
	}
	s.start(t)
	return s
}

func (s *syncServer) start(t *testing.T) {
	t.Helper()

	logFile, err := os.OpenFile(s.logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open server log: %v", err)
	}
	s.logFile = logFile

	cmd := exec.Command(serverBin)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DARASA_SYNC_PORT=%d", s.port),
		"DARASA_SYNC_API_KEY="+s.apiKey,
		"DARASA_SYNC_SCHOOLS_ROOT="+filepath.Join(s.dataDir, "schools"),
		"DARASA_SYNC_AUTO_PROVISION=true",
		"DARASA_SYNC_RETENTION_ENABLED=false",
		// Point at a nonexistent file so a config file on the host
		// cannot leak into the test environment.
		"DARASA_SYNC_CONFIG_PATH="+filepath.Join(s.dataDir, "nonexistent.yaml"),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	s.cmd = cmd
	t.Cleanup(func() { s.stop(t) })

	s.waitHealthy(t)
}

// stop shuts the process down gracefully. Safe to call twice.
func (s *syncServer) stop(t *testing.T) {
	t.Helper()
	if s.cmd == nil {
		return
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.cmd = nil

	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}

// restartOnSameData stops the server and starts a new process against
// the same data directory and port.
func (s *syncServer) restartOnSameData(t *testing.T) {
	t.Helper()
	s.stop(t)
	// Give the OS a moment to release the port.
	time.Sleep(200 * time.Millisecond)
	s.start(t)
}

func (s *syncServer) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

func (s *syncServer) logPath() string {
	return filepath.Join(s.dataDir, "server.log")
}

func (s *syncServer) waitHealthy(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(s.baseURL() + "/api/v1/health")
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server not healthy after 10s, see %s", s.logPath())
}

// do sends an authenticated request to the server. A non-nil body is
// JSON-encoded. The caller owns the response body.
func (s *syncServer) do(t *testing.T, method, path, userID, schoolID, roles string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, s.baseURL()+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set(api.HeaderUserID, userID)
	if schoolID != "" {
		req.Header.Set(api.HeaderSchoolID, schoolID)
	}
	req.Header.Set(api.HeaderRoles, roles)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// createSchool provisions a school through the admin API.
func (s *syncServer) createSchool(t *testing.T, schoolID string) {
	t.Helper()

	resp := s.do(t, http.MethodPost, "/api/v1/schools", "admin-e2e", "", "admin",
		api.CreateSchoolRequest{SchoolID: schoolID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create school %s: status %d: %s", schoolID, resp.StatusCode, b)
	}
	io.Copy(io.Discard, resp.Body)
}

// schoolDB opens the school's database file directly for state
// inspection alongside the running server.
func (s *syncServer) schoolDB(t *testing.T, schoolID string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(s.dataDir, "schools", schoolID, "sync.db"))
	if err != nil {
		t.Fatalf("open school db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

// freePort reserves an ephemeral port and releases it for the server.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// --- Devices ---

// device is one offline-capable installation backed by its own outbox
// file. Several devices sharing a user id model the same person on
// multiple machines.
type device struct {
	client    *syncclient.Client
	localPath string
	userID    string
}

// openDevice connects a client for userID using the outbox at
// localPath. Reopening an existing path simulates an app restart on
// the same installation.
func openDevice(t *testing.T, srv *syncServer, schoolID, userID, localPath string, opts ...func(*syncclient.Config)) *device {
	t.Helper()

	cfg := syncclient.Config{
		LocalPath: localPath,
		ServerURL: srv.baseURL(),
		APIKey:    srv.apiKey,
		UserID:    userID,
		SchoolID:  schoolID,
		Roles:     []string{"teacher"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := syncclient.New(cfg)
	if err != nil {
		t.Fatalf("syncclient.New: %v", err)
	}
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize client: %v", err)
	}
	t.Cleanup(func() { client.Shutdown() })

	return &device{client: client, localPath: localPath, userID: userID}
}

// newDevice opens a device on a fresh outbox file.
func newDevice(t *testing.T, srv *syncServer, schoolID, userID string, opts ...func(*syncclient.Config)) *device {
	t.Helper()
	return openDevice(t, srv, schoolID, userID, filepath.Join(t.TempDir(), "outbox.db"), opts...)
}

func (d *device) queueCreate(t *testing.T, entityType, entityID string, payload json.RawMessage) {
	t.Helper()
	if _, err := d.client.Queue(syncclient.QueueParams{
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   syncclient.OperationCreate,
		Payload:     payload,
		BaseVersion: 1,
	}); err != nil {
		t.Fatalf("queue create %s: %v", entityID, err)
	}
}

func (d *device) queueUpdate(t *testing.T, entityType, entityID string, payload json.RawMessage, version int64) {
	t.Helper()
	if _, err := d.client.Queue(syncclient.QueueParams{
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   syncclient.OperationUpdate,
		Payload:     payload,
		BaseVersion: version,
	}); err != nil {
		t.Fatalf("queue update %s: %v", entityID, err)
	}
}

func (d *device) queueDelete(t *testing.T, entityType, entityID string, version int64) {
	t.Helper()
	if _, err := d.client.Queue(syncclient.QueueParams{
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   syncclient.OperationDelete,
		BaseVersion: version,
	}); err != nil {
		t.Fatalf("queue delete %s: %v", entityID, err)
	}
}

func (d *device) push(t *testing.T) *syncclient.PushReport {
	t.Helper()
	report, err := d.client.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	return report
}

func (d *device) pull(t *testing.T) *syncclient.PullReport {
	t.Helper()
	report, err := d.client.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	return report
}

// --- Raw Wire Helpers ---

// pushRaw submits operations with caller-chosen operation ids,
// bypassing any outbox. Replay tests need stable ids across calls.
func pushRaw(t *testing.T, srv *syncServer, schoolID, userID string, ops []syncclient.PushOperation) syncclient.PushResponse {
	t.Helper()

	resp := srv.do(t, http.MethodPost, "/api/v1/sync/push", userID, schoolID, "teacher",
		syncclient.PushRequest{Operations: ops})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("push: status %d: %s", resp.StatusCode, b)
	}
	var out syncclient.PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	return out
}

// pullAll walks userID's full feed from the beginning of history,
// independent of any device watermark.
func pullAll(t *testing.T, srv *syncServer, schoolID, userID string) []syncclient.Change {
	t.Helper()

	var all []syncclient.Change
	offset := 0
	for pages := 0; ; pages++ {
		if pages > 20 {
			t.Fatal("too many pull pages, possible infinite loop")
		}
		resp := srv.do(t, http.MethodPost, "/api/v1/sync/pull", userID, schoolID, "teacher",
			syncclient.PullRequest{Limit: 200, Offset: offset})
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			t.Fatalf("pull: status %d: %s", resp.StatusCode, b)
		}
		var page syncclient.PullResponse
		err := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode pull response: %v", err)
		}
		all = append(all, page.Changes...)
		if !page.HasMore || len(page.Changes) == 0 {
			break
		}
		offset += len(page.Changes)
	}
	return all
}
