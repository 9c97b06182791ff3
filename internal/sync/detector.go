package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/darasahq/darasa-sync/internal/entity"
	"github.com/darasahq/darasa-sync/internal/store"
)

// Detection is the outcome of a version check for one entity.
type Detection struct {
	Conflict      bool
	ServerVersion int64
	ServerData    json.RawMessage
}

// Detector compares a client-submitted version against the last synced
// state for an entity. This is a point-in-time check with no locking;
// concurrent pushes touching the same entity are arbitrated by whichever
// commits a synced record first.
type Detector struct {
	store    store.Store
	entities entity.Resolver
}

func NewDetector(s store.Store, entities entity.Resolver) *Detector {
	if entities == nil {
		entities = entity.NoopResolver{}
	}
	return &Detector{store: s, entities: entities}
}

// Detect reports whether clientVersion is stale for the given entity.
// The authoritative server version is taken from the most recently
// synced queue item: its server_version, falling back to its
// client_version for records synced before an explicit server increment
// existed. No prior synced record means first write wins.
func (d *Detector) Detect(ctx context.Context, entityType, entityID string, clientVersion int64) (Detection, error) {
	prior, err := d.store.LatestSyncedForEntity(ctx, entityType, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return Detection{}, nil
	}
	if err != nil {
		return Detection{}, fmt.Errorf("look up synced state for %s/%s: %w", entityType, entityID, err)
	}

	serverVersion := prior.ClientVersion
	if prior.ServerVersion != nil {
		serverVersion = *prior.ServerVersion
	}

	det := Detection{
		Conflict:      clientVersion < serverVersion,
		ServerVersion: serverVersion,
		ServerData:    prior.Payload,
	}

	// A prior DELETE leaves no payload snapshot. Ask the entity store for
	// the authoritative state so the conflict record has a server side to
	// show; an unknown entity just leaves ServerData empty.
	if det.Conflict && len(det.ServerData) == 0 {
		data, err := d.entities.Resolve(ctx, entityType, entityID)
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			return Detection{}, fmt.Errorf("resolve entity %s/%s: %w", entityType, entityID, err)
		}
		det.ServerData = data
	}

	return det, nil
}
