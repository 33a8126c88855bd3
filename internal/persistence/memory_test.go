package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dpc/sniper/internal/persistence"
)

func TestInMemory_CommitReleasesLockForNextTransaction(t *testing.T) {
	p := persistence.NewInMemory()
	ctx := context.Background()

	conn, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}

	started := make(chan struct{})
	go func() {
		conn2, err := p.GetConnection(ctx)
		if err != nil {
			t.Errorf("GetConnection: %v", err)
			return
		}
		if _, err := conn2.StartTransaction(ctx); err != nil {
			t.Errorf("StartTransaction: %v", err)
		}
		close(started)
	}()

	select {
	case <-started:
		t.Fatal("second transaction started while the first was still open")
	case <-time.After(100 * time.Millisecond):
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second transaction never started after the first committed")
	}
}

func TestInMemory_RollbackReportsUnsupportedButReleasesLock(t *testing.T) {
	p := persistence.NewInMemory()
	ctx := context.Background()

	conn, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}

	if err := tx.Rollback(ctx); !errors.Is(err, persistence.ErrRollbackUnsupported) {
		t.Fatalf("Rollback error = %v, want ErrRollbackUnsupported", err)
	}

	// The lock must still have been released.
	conn2, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	done := make(chan struct{})
	go func() {
		if _, err := conn2.StartTransaction(ctx); err != nil {
			t.Errorf("StartTransaction: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rollback did not release the backend's lock")
	}
}

func TestAs_WrongBackendReturnsErrWrongBackend(t *testing.T) {
	p := persistence.NewInMemory()
	ctx := context.Background()
	conn, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	defer tx.Commit(ctx)

	if _, err := persistence.As[*unrelatedTransaction](tx); !errors.Is(err, persistence.ErrWrongBackend) {
		t.Fatalf("As error = %v, want ErrWrongBackend", err)
	}
}

type unrelatedTransaction struct{}

func (*unrelatedTransaction) Commit(ctx context.Context) error   { return nil }
func (*unrelatedTransaction) Rollback(ctx context.Context) error { return nil }
func (*unrelatedTransaction) Backend() string                    { return "unrelated" }
