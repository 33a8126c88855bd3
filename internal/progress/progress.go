// Package progress tracks, per service, the offset up to which that
// service has durably processed the event log: "every event at offset
// strictly less than the recorded value has been observed, and any side
// effects committed for it are visible." Absence of a record means resume
// at the log's start offset.
package progress

import (
	"context"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
)

// ServiceID names a log-consuming service; it doubles as the progress key.
type ServiceID string

// Store is the progress tracker contract.
type Store interface {
	// Load reads outside a transaction: at-least-once semantics on read,
	// used by callers that only need a recent cursor (e.g. diagnostics).
	Load(ctx context.Context, conn persistence.Connection, service ServiceID) (*eventlog.Offset, error)

	// LoadTr and StoreTr are the transactional variants log-follower
	// workers use. StoreTr MUST be called in the same transaction as the
	// side effects it commits for, or at-least-once processing
	// degenerates into possible silent data loss.
	LoadTr(ctx context.Context, tx persistence.Transaction, service ServiceID) (*eventlog.Offset, error)
	StoreTr(ctx context.Context, tx persistence.Transaction, service ServiceID, offset eventlog.Offset) error
}
