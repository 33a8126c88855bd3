// Package auctionhouse is the thin, intentionally opaque adapter to the
// remote auction house: no real wire protocol is modeled, only the two
// operations the bidding engine's output and input need.
package auctionhouse

import (
	"context"
	"time"

	"github.com/dpc/sniper/internal/eventlog"
)

// Event is what the remote side reports on a poll.
type Event struct {
	Item  eventlog.ItemId
	Inner eventlog.AuctionHouseItemEvent
}

// Client is the outbound contract. The remote call is assumed idempotent
// on the far side; no local retry or deduplication key is implemented —
// none is defined by the protocol this stands in for.
type Client interface {
	PlaceBid(ctx context.Context, item eventlog.ItemId, price eventlog.Amount) error
	Poll(ctx context.Context, timeout time.Duration) (*Event, error)
}
