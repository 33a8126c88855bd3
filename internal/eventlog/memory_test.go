package eventlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
)

func memoryTx(t *testing.T, p *persistence.InMemory) (persistence.Connection, persistence.Transaction) {
	t.Helper()
	ctx := context.Background()
	conn, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	return conn, tx
}

func TestInMemory_ReadZeroTimeoutNeverBlocks(t *testing.T) {
	log := eventlog.NewInMemory()

	zero := time.Duration(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		next, batch, err := log.Read(context.Background(), nil, 0, 10, &zero)
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		if next != 0 || len(batch) != 0 {
			t.Errorf("Read on empty log with zero timeout = (%d, %d events), want (0, 0)", next, len(batch))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read with zero timeout blocked")
	}
}

func TestInMemory_WriteThenReadReturnsEventsInOrder(t *testing.T) {
	p := persistence.NewInMemory()
	log := eventlog.NewInMemory()

	_, writeTx := memoryTx(t, p)
	events := []eventlog.Event{
		eventlog.UiEvent{Inner: eventlog.UiMaxBidSet{Bid: eventlog.ItemBid{Item: "a", Price: 1}}},
		eventlog.UiEvent{Inner: eventlog.UiMaxBidSet{Bid: eventlog.ItemBid{Item: "a", Price: 2}}},
	}
	next, err := log.Write(context.Background(), writeTx, events)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writeTx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if next != 2 {
		t.Fatalf("Write returned next offset %d, want 2", next)
	}

	zero := time.Duration(0)
	gotNext, batch, err := log.Read(context.Background(), nil, 0, 10, &zero)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if int(gotNext) != len(batch) {
		t.Errorf("Read next_offset = %d, want from + len(batch) = %d", gotNext, len(batch))
	}
	if len(batch) != 2 {
		t.Fatalf("Read returned %d events, want 2", len(batch))
	}
	if batch[0].Offset != 0 || batch[1].Offset != 1 {
		t.Errorf("batch offsets = [%d, %d], want [0, 1]", batch[0].Offset, batch[1].Offset)
	}
}

func TestInMemory_BlockingReadWakesOnWrite(t *testing.T) {
	p := persistence.NewInMemory()
	log := eventlog.NewInMemory()

	type result struct {
		next  eventlog.Offset
		batch []eventlog.LogEvent
		err   error
	}
	results := make(chan result, 1)

	go func() {
		next, batch, err := log.Read(context.Background(), nil, 0, 1, nil)
		results <- result{next, batch, err}
	}()

	// Give the reader a moment to start waiting before writing.
	time.Sleep(50 * time.Millisecond)

	_, writeTx := memoryTx(t, p)
	if _, err := log.Write(context.Background(), writeTx, []eventlog.Event{
		eventlog.UiEvent{Inner: eventlog.UiMaxBidSet{Bid: eventlog.ItemBid{Item: "a", Price: 1}}},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writeTx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case r := <-results:
		if r.err != nil {
			t.Fatalf("Read: %v", r.err)
		}
		if len(r.batch) != 1 {
			t.Fatalf("got %d events, want 1", len(r.batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocking Read never woke up after a write")
	}
}

func TestInMemory_WriteRejectsWrongBackend(t *testing.T) {
	log := eventlog.NewInMemory()

	_, err := log.Write(context.Background(), fakeTransaction{}, nil)
	if err == nil {
		t.Fatal("Write with wrong backend transaction succeeded, want an error")
	}
}

type fakeTransaction struct{}

func (fakeTransaction) Commit(ctx context.Context) error   { return nil }
func (fakeTransaction) Rollback(ctx context.Context) error { return nil }
func (fakeTransaction) Backend() string                    { return "postgres" }
