package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound reports that no automation exists with the given id.
var ErrNotFound = errors.New("automation not found")

// Store persists automation definitions.
type Store interface {
	Insert(ctx context.Context, def Definition) error
	List(ctx context.Context) ([]Definition, error)
	Update(ctx context.Context, def Definition) error
	Get(ctx context.Context, id uuid.UUID) (Definition, error)
}

// MemoryStore is a map-backed Store, the default when no sqlite path is
// configured.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[uuid.UUID]Definition
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[uuid.UUID]Definition)}
}

func (s *MemoryStore) Insert(_ context.Context, def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]Definition, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	return defs, nil
}

func (s *MemoryStore) Update(_ context.Context, def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.defs[def.ID]; !ok {
		return fmt.Errorf("automation %s: %w", def.ID, ErrNotFound)
	}
	s.defs[def.ID] = def
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("automation %s: %w", id, ErrNotFound)
	}
	return def, nil
}
