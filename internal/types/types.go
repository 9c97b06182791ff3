package types

import (
	"encoding/json"
	"time"
)

// OperationKind represents the kind of entity mutation a client queued offline.
type OperationKind string

const (
	OperationCreate OperationKind = "CREATE"
	OperationUpdate OperationKind = "UPDATE"
	OperationDelete OperationKind = "DELETE"
)

// QueueStatus represents the lifecycle state of a queued sync operation.
type QueueStatus string

const (
	StatusPending  QueueStatus = "pending"
	StatusSyncing  QueueStatus = "syncing"
	StatusSynced   QueueStatus = "synced"
	StatusConflict QueueStatus = "conflict"
	StatusFailed   QueueStatus = "failed"
)

// Terminal reports whether the status is an end state eligible for history purging.
// Conflicted items are excluded until resolved; syncing items are in flight.
func (s QueueStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// ResolutionStatus represents how (or whether) a conflict has been resolved.
type ResolutionStatus string

const (
	ResolutionPending        ResolutionStatus = "pending"
	ResolutionAcceptedClient ResolutionStatus = "accepted_client"
	ResolutionAcceptedServer ResolutionStatus = "accepted_server"
	ResolutionMerged         ResolutionStatus = "merged"
)

// QueueItem represents one client operation recorded in the sync queue.
// The payload is opaque to the engine; only versions and identity are interpreted.
type QueueItem struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	ClientOperationID string          `json:"client_operation_id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id,omitempty"`
	Operation         OperationKind   `json:"operation"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	ClientVersion     int64           `json:"client_version"`
	ServerVersion     *int64          `json:"server_version,omitempty"`
	Status            QueueStatus     `json:"status"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	ClientTimestamp   time.Time       `json:"client_timestamp"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	SyncedAt          *time.Time      `json:"synced_at,omitempty"`
}

// Conflict represents a detected version conflict awaiting (or holding) a resolution.
// Each conflict is tied 1:1 to the queue item whose push detected it.
type Conflict struct {
	ID               string           `json:"id"`
	QueueItemID      string           `json:"queue_item_id"`
	UserID           string           `json:"user_id"`
	EntityType       string           `json:"entity_type"`
	EntityID         string           `json:"entity_id"`
	ClientVersion    int64            `json:"client_version"`
	ServerVersion    int64            `json:"server_version"`
	ClientData       json.RawMessage  `json:"client_data,omitempty"`
	ServerData       json.RawMessage  `json:"server_data,omitempty"`
	MergedData       json.RawMessage  `json:"merged_data,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	Details          json.RawMessage  `json:"details,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
}

// Resolved reports whether the conflict has left the pending state.
func (c *Conflict) Resolved() bool {
	return c.ResolutionStatus != ResolutionPending
}

// StatusCounts holds per-status queue item tallies for one user.
type StatusCounts struct {
	Pending  int64 `json:"pending"`
	Syncing  int64 `json:"syncing"`
	Synced   int64 `json:"synced"`
	Conflict int64 `json:"conflict"`
	Failed   int64 `json:"failed"`
}

// Principal identifies the authenticated caller a sync request acts for.
// Identity is established upstream (API gateway); the engine trusts these values.
type Principal struct {
	UserID   string   `json:"user_id"`
	SchoolID string   `json:"school_id"`
	Roles    []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SchoolCount   int    `json:"school_count"`
	SchemaVersion int    `json:"schema_version"`
}
