package persistence

import (
	"context"
	"sync"
)

const memoryBackend = "memory"

// InMemory is the process-wide in-memory Persistence backend. A single
// mutex gates transactions: starting one acquires the exclusive lock,
// releasing it on commit or rollback. This makes every in-memory
// transaction globally serialized — the entire reason this backend exists
// is deterministic tests, not throughput.
type InMemory struct {
	mu sync.Mutex
}

// NewInMemory returns a fresh in-memory backend.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// GetConnection returns a Connection. Acquiring one never fails and never
// blocks; the lock is taken per-transaction, not per-connection.
func (p *InMemory) GetConnection(ctx context.Context) (Connection, error) {
	return &memoryConnection{backend: p}, nil
}

type memoryConnection struct {
	backend *InMemory
}

// StartTransaction acquires the backend's exclusive lock. It blocks until
// any other in-flight transaction commits or rolls back.
func (c *memoryConnection) StartTransaction(ctx context.Context) (Transaction, error) {
	c.backend.mu.Lock()
	return &memoryTransaction{backend: c.backend}, nil
}

func (c *memoryConnection) Close() error { return nil }

type memoryTransaction struct {
	backend *InMemory
	done    bool
}

func (t *memoryTransaction) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.backend.mu.Unlock()
	return nil
}

// Rollback is not supported by the in-memory backend: it still releases
// the lock (the transaction is over either way) but reports the fact
// rather than silently discarding nothing, per the contract that callers
// must design their flows to commit or crash on this backend.
func (t *memoryTransaction) Rollback(ctx context.Context) error {
	if t.done {
		return ErrRollbackUnsupported
	}
	t.done = true
	t.backend.mu.Unlock()
	return ErrRollbackUnsupported
}

func (t *memoryTransaction) Backend() string { return memoryBackend }
