package auctionhouse

import (
	"context"
	"fmt"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/metrics"
	"github.com/dpc/sniper/internal/persistence"
	"github.com/dpc/sniper/internal/progress"
)

// Sender is a log-follower: on BiddingEngineBidSent it calls the remote
// place_bid. It does not retry locally: it returns the error, which makes
// the service-control loop stop this worker and set stop_all.
type Sender struct {
	client Client
}

// NewSender returns a Sender driving client.
func NewSender(client Client) *Sender {
	return &Sender{client: client}
}

// ID is the stable progress key for this service.
func (s *Sender) ID() progress.ServiceID { return "auction-house-sender" }

// HandleEvent places a bid for every BiddingEngineBidSent it sees and
// ignores every other event kind.
func (s *Sender) HandleEvent(ctx context.Context, tx persistence.Transaction, event eventlog.Event) ([]eventlog.Event, error) {
	be, ok := event.(eventlog.BiddingEngineEvent)
	if !ok {
		return nil, nil
	}
	sent, ok := be.Inner.(eventlog.BiddingEngineBidSent)
	if !ok {
		return nil, nil
	}
	if err := s.client.PlaceBid(ctx, sent.Bid.Item, sent.Bid.Price); err != nil {
		metrics.AuctionHousePlaceBidErrors.Inc()
		return nil, fmt.Errorf("placing bid for %q: %w", sent.Bid.Item, err)
	}
	return nil, nil
}
