// Package entity defines the engine's view of server-side domain entity
// state. The sync engine treats entity payloads opaquely; a Resolver only
// supplies the authoritative JSON snapshot captured into conflict records
// when the conflicting queue history carries no payload of its own.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("entity not found")

// Resolver looks up the current server-side snapshot of a domain entity.
// Implementations live outside this module (the school management backend
// owns entity tables); the engine only consumes the interface.
type Resolver interface {
	Resolve(ctx context.Context, entityType, entityID string) (json.RawMessage, error)
}

// NoopResolver reports every entity as unknown. Used when no entity backend
// is wired; conflict records then fall back to queue history snapshots.
type NoopResolver struct{}

var _ Resolver = NoopResolver{}

func (NoopResolver) Resolve(ctx context.Context, entityType, entityID string) (json.RawMessage, error) {
	return nil, ErrNotFound
}

// StaticResolver serves snapshots from an in-memory map, keyed by
// type and id. Intended for tests and local development.
type StaticResolver struct {
	mu        sync.RWMutex
	snapshots map[string]json.RawMessage
}

var _ Resolver = (*StaticResolver)(nil)

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{snapshots: make(map[string]json.RawMessage)}
}

// Put stores or replaces a snapshot.
func (r *StaticResolver) Put(entityType, entityID string, data json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[entityType+"/"+entityID] = data
}

func (r *StaticResolver) Resolve(ctx context.Context, entityType, entityID string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.snapshots[entityType+"/"+entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}
