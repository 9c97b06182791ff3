package sync

import (
	"encoding/json"
	"time"

	"github.com/darasahq/darasa-sync/internal/types"
)

// Pagination bounds for the pull feed.
const (
	DefaultPullLimit = 50
	MaxPullLimit     = 200
)

// PushOperation is one client-queued mutation submitted for sync.
type PushOperation struct {
	ClientOperationID string              `json:"client_operation_id"`
	EntityType        string              `json:"entity_type"`
	EntityID          string              `json:"entity_id,omitempty"`
	Operation         types.OperationKind `json:"operation_type"`
	Payload           json.RawMessage     `json:"payload,omitempty"`
	ClientVersion     int64               `json:"client_version"`
	ClientTimestamp   time.Time           `json:"client_timestamp"`
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

// FailedResult reports one operation that could not be processed.
// QueueItemID is empty when the operation was rejected before persisting.
type FailedResult struct {
	ClientOperationID string `json:"client_operation_id"`
	QueueItemID       string `json:"queue_item_id,omitempty"`
	Error             string `json:"error"`
}

// PushResponse is the body of the push reply. Every operation lands in
// exactly one of the three buckets; the response is HTTP 200 even when
// some operations failed.
type PushResponse struct {
	Synced        []SyncedResult   `json:"synced"`
	Conflicts     []ConflictResult `json:"conflicts"`
	Failed        []FailedResult   `json:"failed"`
	SyncTimestamp time.Time        `json:"sync_timestamp"`
	Message       string           `json:"message"`
}

// PullRequest is the body of POST /sync/pull. A nil LastSyncTimestamp
// means "from the beginning of history".
type PullRequest struct {
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp,omitempty"`
	EntityTypes       []string   `json:"entity_types,omitempty"`
	Limit             int        `json:"limit,omitempty"`
	Offset            int        `json:"offset,omitempty"`
}

// Change is one synced mutation served to a pulling client. Version and
// Timestamp are the effective values: server_version falling back to
// client_version, synced_at falling back to updated_at.
type Change struct {
	EntityType string              `json:"entity_type"`
	EntityID   string              `json:"entity_id,omitempty"`
	Operation  types.OperationKind `json:"operation"`
	Payload    json.RawMessage     `json:"payload,omitempty"`
	Version    int64               `json:"version"`
	Timestamp  time.Time           `json:"timestamp"`
}

// PullResponse is the body of the pull reply.
type PullResponse struct {
	Changes       []Change  `json:"changes"`
	HasMore       bool      `json:"has_more"`
	SyncTimestamp time.Time `json:"sync_timestamp"`
	Total         int64     `json:"total"`
}

// Status summarizes a user's queue for GET /sync/status. ConflictCount
// counts pending conflicts only, not all-time conflicts.
type Status struct {
	PendingCount  int64      `json:"pending_count"`
	SyncedCount   int64      `json:"synced_count"`
	FailedCount   int64      `json:"failed_count"`
	ConflictCount int64      `json:"conflict_count"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	IsSyncing     bool       `json:"is_syncing"`
}

// ResolveRequest carries one conflict resolution choice.
type ResolveRequest struct {
	ConflictID string                 `json:"conflict_id"`
	Resolution types.ResolutionStatus `json:"resolution"`
	MergedData json.RawMessage        `json:"merged_data,omitempty"`
}

// ResolveResult reports a successfully applied resolution.
type ResolveResult struct {
	ConflictID       string                 `json:"conflict_id"`
	ResolutionStatus types.ResolutionStatus `json:"resolution_status"`
	ResolvedAt       time.Time              `json:"resolved_at"`
	Message          string                 `json:"message"`
}

// ResolveFailure reports one resolution that was refused.
type ResolveFailure struct {
	ConflictID string `json:"conflict_id"`
	Error      string `json:"error"`
}

// BulkResolveRequest is the body of PATCH /sync/conflicts/resolve-bulk.
type BulkResolveRequest struct {
	Resolutions []ResolveRequest `json:"resolutions"`
}

// BulkResolveResponse collects per-item outcomes of a bulk resolve.
// Like push, failures are reported inline rather than as an HTTP error.
type BulkResolveResponse struct {
	Resolved []ResolveResult  `json:"resolved"`
	Failed   []ResolveFailure `json:"failed"`
	Message  string           `json:"message"`
}
