package eventlog

import (
	"context"
	"time"

	"github.com/dpc/sniper/internal/persistence"
)

// Reader is the blocking tail-read contract.
type Reader interface {
	// GetStartOffset returns the earliest valid read offset.
	GetStartOffset(ctx context.Context) (Offset, error)

	// Read returns up to limit events at offset >= from, in ascending
	// order, plus the offset the caller should pass to see what follows
	// (from + len(returned)).
	//
	// timeout == nil means read blocks until at least one event is
	// appended or ctx is cancelled. A non-nil *timeout of zero returns
	// immediately with whatever is already available (possibly empty); a
	// positive *timeout blocks at most that long.
	Read(ctx context.Context, tx persistence.Transaction, from Offset, limit int, timeout *time.Duration) (Offset, []LogEvent, error)
}

// ReadOne is sugar for Read with limit=1 and a zero timeout.
func ReadOne(ctx context.Context, r Reader, tx persistence.Transaction, from Offset) (Offset, *LogEvent, error) {
	zero := time.Duration(0)
	next, events, err := r.Read(ctx, tx, from, 1, &zero)
	if err != nil {
		return from, nil, err
	}
	if len(events) == 0 {
		return next, nil, nil
	}
	return next, &events[0], nil
}

// Writer appends events atomically.
type Writer interface {
	// Write appends all of events or none of them, and returns the
	// offset immediately past the last appended event — the offset a
	// subsequent reader should supply to see what follows. An empty
	// batch is a no-op returning the current tail.
	Write(ctx context.Context, tx persistence.Transaction, events []Event) (Offset, error)
}
