// Package syncclient is an offline-first client for the Darasa sync
// server. Mutations queue in a local outbox and drain to the server
// when connectivity allows.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Client is the sync client for a single user and school.
type Client struct {
	config Config
	outbox *Outbox
	syncer *Syncer

	mu       sync.RWMutex
	closed   bool
	syncDone chan struct{}
}

// New creates a new sync client
func New(config Config) (*Client, error) {
	if config.LocalPath == "" {
		return nil, errors.New("LocalPath is required")
	}
	if config.ServerURL != "" {
		if config.UserID == "" {
			return nil, errors.New("UserID is required when ServerURL is set")
		}
		if config.SchoolID == "" {
			return nil, errors.New("SchoolID is required when ServerURL is set")
		}
	}

	// Set defaults
	if config.SyncInterval == 0 {
		config.SyncInterval = 5 * time.Minute
	}

	outbox, err := NewOutbox(config.LocalPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:   config,
		outbox:   outbox,
		syncer:   NewSyncer(config),
		syncDone: make(chan struct{}),
	}

	return c, nil
}

// Initialize checks server connectivity and starts background sync.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("client is closed")
	}

	if !c.config.OfflineMode && c.config.ServerURL != "" {
		if err := c.syncer.Ping(ctx); err != nil {
			// Unreachable server is not fatal; operations queue
			// locally until it returns.
			_ = err
		}
	}

	// Start background sync if enabled
	if c.config.AutoSync && !c.config.OfflineMode {
		go c.syncLoop()
	}

	return nil
}

// Shutdown pushes remaining operations and closes the outbox.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.syncDone)

	// Final push
	if !c.config.OfflineMode && c.config.ServerURL != "" {
		_, _ = c.drain(context.Background())
	}

	return c.outbox.Close()
}

// Queue records a local mutation for later push.
func (c *Client) Queue(params QueueParams) (*QueuedOperation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}

	if params.EntityType == "" {
		return nil, errors.New("EntityType is required")
	}
	switch params.Operation {
	case OperationCreate, OperationUpdate, OperationDelete:
	default:
		return nil, fmt.Errorf("unknown operation %q", params.Operation)
	}

	return c.outbox.Enqueue(params)
}

// Push drains the outbox to the server. Synced and conflicted
// operations leave the outbox; refused operations stay queued with
// their error recorded.
func (c *Client) Push(ctx context.Context) (*PushReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}
	if c.config.OfflineMode || c.config.ServerURL == "" {
		return &PushReport{}, nil
	}

	return c.drain(ctx)
}

func (c *Client) drain(ctx context.Context) (*PushReport, error) {
	start := time.Now()
	report := &PushReport{}

	for {
		pending, err := c.outbox.Pending(maxPushBatch)
		if err != nil {
			return report, err
		}
		if len(pending) == 0 {
			break
		}

		ops := make([]PushOperation, len(pending))
		for i, q := range pending {
			ops[i] = PushOperation{
				ClientOperationID: q.ID,
				EntityType:        q.EntityType,
				EntityID:          q.EntityID,
				Operation:         q.Operation,
				Payload:           q.Payload,
				ClientVersion:     q.BaseVersion,
				ClientTimestamp:   q.QueuedAt,
			}
		}

		resp, err := c.syncer.Push(ctx, ops)
		if err != nil {
			return report, err
		}

		// Conflicted operations are parked server-side; resolution
		// continues there, not in the outbox.
		confirmed := make([]string, 0, len(resp.Synced)+len(resp.Conflicts))
		for _, r := range resp.Synced {
			confirmed = append(confirmed, r.ClientOperationID)
		}
		for _, r := range resp.Conflicts {
			confirmed = append(confirmed, r.ClientOperationID)
		}
		if err := c.outbox.Remove(confirmed...); err != nil {
			return report, err
		}

		for _, f := range resp.Failed {
			_ = c.outbox.MarkFailed(f.ClientOperationID, f.Error)
		}

		report.Synced = append(report.Synced, resp.Synced...)
		report.Conflicts = append(report.Conflicts, resp.Conflicts...)
		report.Failed = append(report.Failed, resp.Failed...)

		// Refused operations stay queued; stop rather than re-push
		// them in a tight loop.
		if len(resp.Failed) > 0 {
			break
		}
		if len(pending) < maxPushBatch {
			break
		}
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Pull fetches changes synced since the last pull and advances the
// local watermark.
func (c *Client) Pull(ctx context.Context) (*PullReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}
	if c.config.OfflineMode || c.config.ServerURL == "" {
		return &PullReport{}, nil
	}

	return c.pull(ctx)
}

func (c *Client) pull(ctx context.Context) (*PullReport, error) {
	start := time.Now()

	since, err := c.outbox.LastPull()
	if err != nil {
		return nil, err
	}

	report := &PullReport{}
	offset := 0
	for {
		resp, err := c.syncer.Pull(ctx, PullRequest{
			LastSyncTimestamp: since,
			Limit:             maxPullPage,
			Offset:            offset,
		})
		if err != nil {
			return report, err
		}

		if report.Watermark.IsZero() {
			// The first page's server timestamp becomes the new
			// watermark; anything synced while paging reappears on
			// the next pull.
			report.Watermark = resp.SyncTimestamp
		}

		report.Changes = append(report.Changes, resp.Changes...)

		if !resp.HasMore || len(resp.Changes) == 0 {
			break
		}
		offset += len(resp.Changes)
	}

	if !report.Watermark.IsZero() {
		if err := c.outbox.SetLastPull(report.Watermark); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Status returns the user's server-side queue counters.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}
	if c.config.OfflineMode || c.config.ServerURL == "" {
		return nil, errors.New("client is in offline mode")
	}

	return c.syncer.Status(ctx)
}

// Conflicts lists the user's version conflicts.
func (c *Client) Conflicts(ctx context.Context, opts ConflictListOptions) (*ConflictPage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}
	if c.config.OfflineMode || c.config.ServerURL == "" {
		return nil, errors.New("client is in offline mode")
	}

	return c.syncer.Conflicts(ctx, opts)
}

// Resolve applies one conflict resolution.
func (c *Client) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}
	if c.config.OfflineMode || c.config.ServerURL == "" {
		return nil, errors.New("client is in offline mode")
	}

	return c.syncer.Resolve(ctx, req)
}

// ResolveBulk applies multiple resolutions in one request.
func (c *Client) ResolveBulk(ctx context.Context, req BulkResolveRequest) (*BulkResolveResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errors.New("client is closed")
	}
	if c.config.OfflineMode || c.config.ServerURL == "" {
		return nil, errors.New("client is in offline mode")
	}

	return c.syncer.ResolveBulk(ctx, req)
}

// Stats returns local outbox statistics.
func (c *Client) Stats() OutboxStats {
	return c.outbox.Stats()
}

// HealthCheck reports local and server connectivity health.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		LocalOutbox:     true,
		ServerReachable: false,
	}

	if c.config.OfflineMode || c.config.ServerURL == "" {
		return status
	}

	if err := c.syncer.Ping(ctx); err != nil {
		status.LastError = err.Error()
	} else {
		status.ServerReachable = true
	}

	return status
}

func (c *Client) syncLoop() {
	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.syncDone:
			return
		case <-ticker.C:
			c.mu.RLock()
			if !c.closed {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				_, _ = c.drain(ctx)
				_, _ = c.pull(ctx)
				cancel()
			}
			c.mu.RUnlock()
		}
	}
}
