package auctionhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
)

const pollTimeout = time.Second

// Receiver is a loop worker: poll the remote with a 1-second timeout and,
// on an event, append it to the log as an AuctionHouseEvent. The poll and
// the append are not atomic with each other (acknowledged in the
// contract) — an event observed but not yet appended is simply re-polled
// on the next iteration if the process restarts.
type Receiver struct {
	client      Client
	persistence persistence.Persistence
	writer      eventlog.Writer
}

// NewReceiver returns a Receiver polling client and appending through
// writer.
func NewReceiver(client Client, p persistence.Persistence, writer eventlog.Writer) *Receiver {
	return &Receiver{client: client, persistence: p, writer: writer}
}

// RunIteration polls once and, if an event arrived, appends it in its own
// transaction.
func (r *Receiver) RunIteration(ctx context.Context) error {
	event, err := r.client.Poll(ctx, pollTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("polling auction house: %w", err)
	}
	if event == nil {
		return nil
	}

	conn, err := r.persistence.GetConnection(ctx)
	if err != nil {
		return fmt.Errorf("opening connection to append auction house event: %w", err)
	}
	defer conn.Close()

	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction to append auction house event: %w", err)
	}

	details := eventlog.AuctionHouseEvent{Item: event.Item, Inner: event.Inner}
	if _, err := r.writer.Write(ctx, tx, []eventlog.Event{details}); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("appending auction house event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing auction house event append: %w", err)
	}
	return nil
}
