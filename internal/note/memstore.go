package note

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the RecordStore interface.
var _ RecordStore = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [RecordStore].
// It is suitable for ephemeral sessions and testing.
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	notes map[string]Note
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		notes: make(map[string]Note),
	}
}

// Put implements [RecordStore.Put].
func (s *MemStore) Put(ctx context.Context, n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notes == nil {
		s.notes = make(map[string]Note)
	}
	s.notes[n.ID] = n.Clone()
	return nil
}

// GetAll implements [RecordStore.GetAll].
func (s *MemStore) GetAll(ctx context.Context) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		result = append(result, n.Clone())
	}
	return result, nil
}

// Delete implements [RecordStore.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.notes, id)
	return nil
}
