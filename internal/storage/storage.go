// Package storage persists the device registry (areas, devices, entities)
// and the append-only entity state history.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/model"
)

var (
	// ErrNotFound reports that the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReferentialIntegrity reports a write referencing a record that
	// does not exist, such as a device pointing at an unknown area.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
)

// Store is the persistence surface shared by all backends.
//
// Upserts verify that referenced records exist before writing: an area's
// parent, a device's area, and an entity's device must already be stored,
// while a nil parent or area is always accepted. Entity states are
// append-only; LatestEntityState returns the state with the greatest
// last_updated timestamp, and EntityStateHistory returns states most
// recent first, optionally filtered to last_changed >= since and capped
// at limit entries.
type Store interface {
	ListAreas(ctx context.Context) ([]model.Area, error)
	UpsertArea(ctx context.Context, area model.Area) error
	GetArea(ctx context.Context, id uuid.UUID) (model.Area, error)

	ListDevices(ctx context.Context) ([]model.Device, error)
	UpsertDevice(ctx context.Context, device model.Device) error
	GetDevice(ctx context.Context, id uuid.UUID) (model.Device, error)

	ListEntities(ctx context.Context) ([]model.Entity, error)
	UpsertEntity(ctx context.Context, entity model.Entity) error
	GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error)

	SetEntityState(ctx context.Context, state model.EntityState) error
	LatestEntityState(ctx context.Context, entityID uuid.UUID) (model.EntityState, error)
	EntityStateHistory(ctx context.Context, entityID uuid.UUID, since *time.Time, limit int) ([]model.EntityState, error)
}
