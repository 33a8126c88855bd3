// Package bidding is the one genuinely domain-specific component: a pure
// decision table over per-item auction state, fully specified rather than
// inferred. It owns no I/O of its own beyond the persistence/event-log
// abstractions it is handed.
package bidding

import (
	"context"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
)

// ServiceID is the stable, well-known progress key for this service.
const ServiceID = "bidding-engine"

// AuctionState is reconstructed from AuctionHouse events for one item.
// Once Closed is true it never reverts. A bid is accepted only if the
// auction is not closed and it strictly outbids the current highest bid;
// on a tie the first writer wins (a non-outbidding bid is simply dropped).
type AuctionState struct {
	HighestBid *eventlog.BidDetails
	Closed     bool
}

// AuctionBiddingState is the per-item record the bidding engine owns.
//
// MinOpeningBid is the candidate used when there is no highest bid yet.
// A new item's state starts with 0, and nothing in the configuration sets
// it: a non-zero floor applies only to an item whose stored state already
// carries one.
type AuctionBiddingState struct {
	MaxBidLimit   eventlog.Amount
	LastBidSent   *eventlog.Amount
	MinOpeningBid eventlog.Amount
	AuctionState  AuctionState
}

// StateStore mirrors the persistence pattern used by the progress tracker:
// load outside a transaction, load/store transactionally from within an
// atomic step.
type StateStore interface {
	Load(ctx context.Context, conn persistence.Connection, item eventlog.ItemId) (*AuctionBiddingState, error)
	LoadTr(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId) (*AuctionBiddingState, error)
	StoreTr(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId, state AuctionBiddingState) error
}

func defaultState() AuctionBiddingState {
	return AuctionBiddingState{MaxBidLimit: 0, LastBidSent: nil, MinOpeningBid: 0, AuctionState: AuctionState{}}
}

// applyAuctionHouseBid updates auction_state for an observed bid. It
// returns the (possibly unchanged) state; a non-outbidding bid leaves
// HighestBid untouched.
func applyAuctionHouseBid(s AuctionState, bd eventlog.BidDetails) AuctionState {
	if s.Closed {
		return s
	}
	if s.HighestBid == nil || s.HighestBid.Outbids(bd.Price) {
		s.HighestBid = &bd
	}
	return s
}

// applyAuctionHouseClosed latches Closed. Idempotent.
func applyAuctionHouseClosed(s AuctionState) AuctionState {
	s.Closed = true
	return s
}

// nextBid is the pure decision function from spec section 4.5, unchanged
// in meaning: compute a candidate bid from the new state, then emit only
// if it both exists and exceeds LastBidSent (treating absent as 0).
func nextBid(state AuctionBiddingState) *eventlog.Amount {
	if state.AuctionState.Closed {
		return nil
	}

	var candidate eventlog.Amount
	switch {
	case state.AuctionState.HighestBid == nil:
		candidate = state.MinOpeningBid
	case state.AuctionState.HighestBid.Bidder == eventlog.Sniper:
		return nil
	default:
		hb := state.AuctionState.HighestBid
		candidate = hb.Price + hb.Increment
		if candidate > state.MaxBidLimit {
			return nil
		}
	}

	// Absent LastBidSent never equals "already sent 0": it means nothing
	// has ever been sent, so any candidate — including the MinOpeningBid
	// floor of 0 — is worth emitting once. This is the precise form of
	// "treating absent as 0" that keeps scenario #1 (a bare MaxBidSet
	// against a fresh item emits Bid(item, 0)) and #2 (a repeat of the
	// same MaxBidSet emits nothing) both true.
	if state.LastBidSent == nil || candidate > *state.LastBidSent {
		return &candidate
	}
	return nil
}
