package bidding

import (
	"context"
	"sync"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
)

// InMemoryStateStore holds a mutex-guarded mapping and ignores transaction
// boundaries beyond the backend check — the process-wide in-memory
// persistence lock already serializes writers for the duration of a
// transaction.
type InMemoryStateStore struct {
	mu     sync.Mutex
	states map[eventlog.ItemId]AuctionBiddingState
}

// NewInMemoryStateStore returns an empty in-memory bidding state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[eventlog.ItemId]AuctionBiddingState)}
}

func (s *InMemoryStateStore) Load(ctx context.Context, conn persistence.Connection, item eventlog.ItemId) (*AuctionBiddingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[item]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *InMemoryStateStore) LoadTr(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId) (*AuctionBiddingState, error) {
	if tx.Backend() != "memory" {
		return nil, persistence.ErrWrongBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[item]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *InMemoryStateStore) StoreTr(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId, state AuctionBiddingState) error {
	if tx.Backend() != "memory" {
		return persistence.ErrWrongBackend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[item] = state
	return nil
}
