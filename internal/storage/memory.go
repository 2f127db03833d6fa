package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/model"
)

// Memory is an in-process Store backed by maps. It is safe for concurrent
// use and is the default backend when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	areas    map[uuid.UUID]model.Area
	devices  map[uuid.UUID]model.Device
	entities map[uuid.UUID]model.Entity
	states   map[uuid.UUID][]model.EntityState
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		areas:    make(map[uuid.UUID]model.Area),
		devices:  make(map[uuid.UUID]model.Device),
		entities: make(map[uuid.UUID]model.Entity),
		states:   make(map[uuid.UUID][]model.EntityState),
	}
}

func (s *Memory) ListAreas(_ context.Context) ([]model.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	areas := make([]model.Area, 0, len(s.areas))
	for _, a := range s.areas {
		areas = append(areas, a)
	}
	return areas, nil
}

func (s *Memory) UpsertArea(_ context.Context, area model.Area) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if area.Parent != nil {
		if _, ok := s.areas[*area.Parent]; !ok {
			return fmt.Errorf("parent area not found: %s: %w", *area.Parent, ErrReferentialIntegrity)
		}
	}
	s.areas[area.ID] = area
	return nil
}

func (s *Memory) GetArea(_ context.Context, id uuid.UUID) (model.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	area, ok := s.areas[id]
	if !ok {
		return model.Area{}, fmt.Errorf("area %s: %w", id, ErrNotFound)
	}
	return area, nil
}

func (s *Memory) ListDevices(_ context.Context) ([]model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func (s *Memory) UpsertDevice(_ context.Context, device model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.Area != nil {
		if _, ok := s.areas[*device.Area]; !ok {
			return fmt.Errorf("area not found for device: %s: %w", *device.Area, ErrReferentialIntegrity)
		}
	}
	s.devices[device.ID] = device
	return nil
}

func (s *Memory) GetDevice(_ context.Context, id uuid.UUID) (model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return device, nil
}

func (s *Memory) ListEntities(_ context.Context) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := make([]model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	return entities, nil
}

func (s *Memory) UpsertEntity(_ context.Context, entity model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[entity.DeviceID]; !ok {
		return fmt.Errorf("device not found for entity: %s: %w", entity.DeviceID, ErrReferentialIntegrity)
	}
	s.entities[entity.ID] = entity
	return nil
}

func (s *Memory) GetEntity(_ context.Context, id uuid.UUID) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return entity, nil
}

func (s *Memory) SetEntityState(_ context.Context, state model.EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[state.EntityID]; !ok {
		return fmt.Errorf("entity not found: %s: %w", state.EntityID, ErrReferentialIntegrity)
	}

	entry := append(s.states[state.EntityID], state)
	// Stable keeps insertion order for equal timestamps, so the latest
	// write wins ties.
	sort.SliceStable(entry, func(i, j int) bool {
		return entry[i].LastUpdated.Before(entry[j].LastUpdated)
	})
	s.states[state.EntityID] = entry
	return nil
}

func (s *Memory) LatestEntityState(_ context.Context, entityID uuid.UUID) (model.EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := s.states[entityID]
	if len(states) == 0 {
		return model.EntityState{}, fmt.Errorf("no state for entity %s: %w", entityID, ErrNotFound)
	}
	return states[len(states)-1], nil
}

func (s *Memory) EntityStateHistory(_ context.Context, entityID uuid.UUID, since *time.Time, limit int) ([]model.EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []model.EntityState
	for _, st := range s.states[entityID] {
		if since != nil && st.LastChanged.Before(*since) {
			continue
		}
		list = append(list, st)
	}

	if limit < 0 {
		limit = 0
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}

	// Most recent first.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}
