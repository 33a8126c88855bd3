package auctionhouse

import (
	"context"
	"time"

	"github.com/dpc/sniper/internal/eventlog"
)

// NopClient is the default Client wired at startup when no real
// auction-house endpoint is configured: PlaceBid always succeeds without
// doing anything, and Poll blocks for its timeout and reports no event.
// It exists so the rest of the service runtime is fully exercisable
// without a real auction house to talk to, the same role telemetry's
// NewNopProvider plays for OTEL export.
type NopClient struct {
	pollInterval time.Duration
}

// NewNopClient returns a Client that never produces an event.
func NewNopClient(pollInterval time.Duration) *NopClient {
	return &NopClient{pollInterval: pollInterval}
}

func (c *NopClient) PlaceBid(ctx context.Context, item eventlog.ItemId, price eventlog.Amount) error {
	return nil
}

func (c *NopClient) Poll(ctx context.Context, timeout time.Duration) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}
