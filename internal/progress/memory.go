package progress

import (
	"context"
	"sync"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
)

// InMemoryStore is a mutex-guarded map. It ignores transaction boundaries
// beyond the backend check: the in-memory persistence backend's global
// lock already serializes every writer for the duration of a transaction.
type InMemoryStore struct {
	mu       sync.Mutex
	cursors  map[ServiceID]eventlog.Offset
}

// NewInMemoryStore returns an empty in-memory progress store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cursors: make(map[ServiceID]eventlog.Offset)}
}

func (s *InMemoryStore) Load(ctx context.Context, conn persistence.Connection, service ServiceID) (*eventlog.Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off, ok := s.cursors[service]; ok {
		return &off, nil
	}
	return nil, nil
}

func (s *InMemoryStore) LoadTr(ctx context.Context, tx persistence.Transaction, service ServiceID) (*eventlog.Offset, error) {
	if tx.Backend() != "memory" {
		return nil, persistence.ErrWrongBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if off, ok := s.cursors[service]; ok {
		return &off, nil
	}
	return nil, nil
}

func (s *InMemoryStore) StoreTr(ctx context.Context, tx persistence.Transaction, service ServiceID, offset eventlog.Offset) error {
	if tx.Backend() != "memory" {
		return persistence.ErrWrongBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[service] = offset
	return nil
}
