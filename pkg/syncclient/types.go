package syncclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation kinds accepted by the sync server.
const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
)

// Resolution choices for version conflicts.
const (
	ResolutionPending        = "pending"
	ResolutionAcceptedClient = "accepted_client"
	ResolutionAcceptedServer = "accepted_server"
	ResolutionMerged         = "merged"
)

// Config holds the sync client configuration
type Config struct {
	LocalPath    string        // Local outbox database path
	ServerURL    string        // Sync server base URL
	APIKey       string        // Gateway API key
	UserID       string        // Acting user, sent as X-Sync-User-ID
	SchoolID     string        // Tenant school, sent as X-Sync-School-ID
	Roles        []string      // Principal roles, sent as X-Sync-Roles
	SyncInterval time.Duration // Background sync interval (default: 5 minutes)
	AutoSync     bool          // Enable automatic background sync
	OfflineMode  bool          // Queue locally, never touch the network
}

// QueueParams describes a local mutation to queue for sync.
type QueueParams struct {
	EntityType  string          // e.g. "student", "grade"
	EntityID    string          // Empty for creates
	Operation   string          // OperationCreate, OperationUpdate or OperationDelete
	Payload     json.RawMessage // Full entity state, nil for deletes
	BaseVersion int64           // Last server version seen for this entity
}

// QueuedOperation is one outbox row awaiting push.
type QueuedOperation struct {
	ID          string
	EntityType  string
	EntityID    string
	Operation   string
	Payload     json.RawMessage
	BaseVersion int64
	QueuedAt    time.Time
	Attempts    int
	LastError   string
}

// PushOperation is one queued mutation on the wire.
type PushOperation struct {
	ClientOperationID string          `json:"client_operation_id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id,omitempty"`
	Operation         string          `json:"operation_type"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	ClientVersion     int64           `json:"client_version"`
	ClientTimestamp   time.Time       `json:"client_timestamp"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	Operations []PushOperation `json:"operations"`
}

// SyncedResult reports one operation accepted as the new server state.
type SyncedResult struct {
	ClientOperationID string    `json:"client_operation_id"`
	QueueItemID       string    `json:"queue_item_id"`
	EntityType        string    `json:"entity_type"`
	EntityID          string    `json:"entity_id,omitempty"`
	ServerVersion     int64     `json:"server_version"`
	SyncedAt          time.Time `json:"synced_at"`
}

// ConflictResult reports one operation parked behind a version conflict.
type ConflictResult struct {
	ClientOperationID string          `json:"client_operation_id"`
	QueueItemID       string          `json:"queue_item_id"`
	ConflictID        string          `json:"conflict_id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	ClientVersion     int64           `json:"client_version"`
	ServerVersion     int64           `json:"server_version"`
	ServerData        json.RawMessage `json:"server_data,omitempty"`
}

// FailedResult reports one operation the server refused.
type FailedResult struct {
	ClientOperationID string `json:"client_operation_id"`
	QueueItemID       string `json:"queue_item_id,omitempty"`
	Error             string `json:"error"`
}

// PushResponse is the body of the push reply.
type PushResponse struct {
	Synced        []SyncedResult   `json:"synced"`
	Conflicts     []ConflictResult `json:"conflicts"`
	Failed        []FailedResult   `json:"failed"`
	SyncTimestamp time.Time        `json:"sync_timestamp"`
	Message       string           `json:"message"`
}

// PullRequest is the body of POST /sync/pull. A nil LastSyncTimestamp
// requests the full history.
type PullRequest struct {
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp,omitempty"`
	EntityTypes       []string   `json:"entity_types,omitempty"`
	Limit             int        `json:"limit,omitempty"`
	Offset            int        `json:"offset,omitempty"`
}

// Change is one synced mutation served by pull.
type Change struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int64           `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PullResponse is the body of the pull reply.
type PullResponse struct {
	Changes       []Change  `json:"changes"`
	HasMore       bool      `json:"has_more"`
	SyncTimestamp time.Time `json:"sync_timestamp"`
	Total         int64     `json:"total"`
}

// Status summarizes the user's server-side queue.
type Status struct {
	PendingCount  int64      `json:"pending_count"`
	SyncedCount   int64      `json:"synced_count"`
	FailedCount   int64      `json:"failed_count"`
	ConflictCount int64      `json:"conflict_count"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	IsSyncing     bool       `json:"is_syncing"`
}

// Conflict is one version conflict recorded by the server.
type Conflict struct {
	ID               string          `json:"id"`
	QueueItemID      string          `json:"queue_item_id"`
	UserID           string          `json:"user_id"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	ClientVersion    int64           `json:"client_version"`
	ServerVersion    int64           `json:"server_version"`
	ClientData       json.RawMessage `json:"client_data,omitempty"`
	ServerData       json.RawMessage `json:"server_data,omitempty"`
	MergedData       json.RawMessage `json:"merged_data,omitempty"`
	ResolutionStatus string          `json:"resolution_status"`
	Details          json.RawMessage `json:"details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
}

// ConflictPage is one page of conflicts from GET /sync/conflicts.
type ConflictPage struct {
	Conflicts []Conflict `json:"conflicts"`
	Total     int64      `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// ConflictListOptions filters GET /sync/conflicts.
type ConflictListOptions struct {
	Status     string // Resolution status filter
	EntityType string
	Limit      int
	Offset     int
}

// ResolveRequest carries one conflict resolution choice.
type ResolveRequest struct {
	ConflictID string          `json:"conflict_id"`
	Resolution string          `json:"resolution"`
	MergedData json.RawMessage `json:"merged_data,omitempty"`
}

// ResolveResult reports a successfully applied resolution.
type ResolveResult struct {
	ConflictID       string    `json:"conflict_id"`
	ResolutionStatus string    `json:"resolution_status"`
	ResolvedAt       time.Time `json:"resolved_at"`
	Message          string    `json:"message"`
}

// ResolveFailure reports one resolution the server refused.
type ResolveFailure struct {
	ConflictID string `json:"conflict_id"`
	Error      string `json:"error"`
}

// BulkResolveRequest is the body of PATCH /sync/conflicts/resolve-bulk.
type BulkResolveRequest struct {
	Resolutions []ResolveRequest `json:"resolutions"`
}

// BulkResolveResponse collects per-item outcomes of a bulk resolve.
type BulkResolveResponse struct {
	Resolved []ResolveResult  `json:"resolved"`
	Failed   []ResolveFailure `json:"failed"`
	Message  string           `json:"message"`
}

// Health is the server health report.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SchoolCount   int    `json:"school_count"`
	SchemaVersion int    `json:"schema_version"`
}

// APIError is a problem response from the server (RFC 7807).
type APIError struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Title)
}

// PushReport summarizes one outbox drain.
type PushReport struct {
	Synced    []SyncedResult
	Conflicts []ConflictResult
	Failed    []FailedResult
	Duration  time.Duration
}

// PullReport summarizes one pull cycle.
type PullReport struct {
	Changes   []Change
	Watermark time.Time
	Duration  time.Duration
}

// OutboxStats holds local outbox statistics.
type OutboxStats struct {
	QueuedCount int
	FailedCount int // queued operations with at least one refused push
	LastPullAt  *time.Time
}

// HealthStatus reports client-side connectivity health.
type HealthStatus struct {
	LocalOutbox     bool
	ServerReachable bool
	LastError       string
}
