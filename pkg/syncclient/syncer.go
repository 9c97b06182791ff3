package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Principal headers set on every request. The server trusts these
// values; authentication happens at the gateway via the API key.
const (
	headerUserID   = "X-Sync-User-ID"
	headerSchoolID = "X-Sync-School-ID"
	headerRoles    = "X-Sync-Roles"
)

// Server-side request caps.
const (
	maxPushBatch = 500
	maxPullPage  = 200
)

// Syncer handles HTTP communication with the sync server.
type Syncer struct {
	serverURL string
	apiKey    string
	userID    string
	schoolID  string
	roles     []string
	client    *http.Client
}

// NewSyncer creates a new Syncer
func NewSyncer(config Config) *Syncer {
	return &Syncer{
		serverURL: strings.TrimRight(config.ServerURL, "/"),
		apiKey:    config.APIKey,
		userID:    config.UserID,
		schoolID:  config.SchoolID,
		roles:     config.Roles,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks connectivity to the sync server.
func (s *Syncer) Ping(ctx context.Context) error {
	if s.serverURL == "" {
		return fmt.Errorf("server URL not configured")
	}

	resp, err := s.sendRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}

	return nil
}

// Health fetches the server health report.
func (s *Syncer) Health(ctx context.Context) (*Health, error) {
	resp, err := s.sendRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return nil, err
	}

	var out Health
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Push submits operations for sync. Per-operation outcomes land in the
// response buckets; an error return means the whole request failed.
func (s *Syncer) Push(ctx context.Context, ops []PushOperation) (*PushResponse, error) {
	resp, err := s.sendRequest(ctx, http.MethodPost, "/api/v1/sync/push", PushRequest{Operations: ops})
	if err != nil {
		return nil, err
	}

	var out PushResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pull fetches one page of synced changes.
func (s *Syncer) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	resp, err := s.sendRequest(ctx, http.MethodPost, "/api/v1/sync/pull", req)
	if err != nil {
		return nil, err
	}

	var out PullResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the user's queue counters.
func (s *Syncer) Status(ctx context.Context) (*Status, error) {
	resp, err := s.sendRequest(ctx, http.MethodGet, "/api/v1/sync/status", nil)
	if err != nil {
		return nil, err
	}

	var out Status
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conflicts lists the user's version conflicts.
func (s *Syncer) Conflicts(ctx context.Context, opts ConflictListOptions) (*ConflictPage, error) {
	path := "/api/v1/sync/conflicts"

	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.EntityType != "" {
		q.Set("entity_type", opts.EntityType)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := s.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var out ConflictPage
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve applies one conflict resolution.
func (s *Syncer) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	resp, err := s.sendRequest(ctx, http.MethodPatch, "/api/v1/sync/conflicts/resolve", req)
	if err != nil {
		return nil, err
	}

	var out ResolveResult
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveBulk applies multiple resolutions in one request.
func (s *Syncer) ResolveBulk(ctx context.Context, req BulkResolveRequest) (*BulkResolveResponse, error) {
	resp, err := s.sendRequest(ctx, http.MethodPatch, "/api/v1/sync/conflicts/resolve-bulk", req)
	if err != nil {
		return nil, err
	}

	var out BulkResolveResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// sendRequest sends an authenticated request to the sync server.
func (s *Syncer) sendRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.serverURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, s.userID)
	req.Header.Set(headerSchoolID, s.schoolID)
	if len(s.roles) > 0 {
		req.Header.Set(headerRoles, strings.Join(s.roles, ","))
	}

	return s.client.Do(req)
}

// decodeResponse decodes a JSON body, converting problem responses into
// an *APIError.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			Status: resp.StatusCode,
			Title:  http.StatusText(resp.StatusCode),
		}
		// Best effort; a non-JSON body keeps the status defaults.
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
