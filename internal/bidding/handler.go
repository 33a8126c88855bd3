package bidding

import (
	"context"
	"fmt"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/metrics"
	"github.com/dpc/sniper/internal/persistence"
)

// Handler applies AuctionHouse and Ui events to per-item state and returns
// the events the engine decides to emit as a result. It has no knowledge
// of the log or the service-control loop that drives it; HandleEvent is a
// pure-ish function of (stored state, incoming event) plus the store it is
// handed, so it composes directly into the event-loop algorithm's
// handle_event step.
type Handler struct {
	store StateStore
}

// NewHandler returns a Handler backed by the given state store.
func NewHandler(store StateStore) *Handler {
	return &Handler{store: store}
}

// HandleEvent dispatches on the concrete event type and returns the
// BiddingEngineEvents to append to the log in the same transaction.
func (h *Handler) HandleEvent(ctx context.Context, tx persistence.Transaction, event eventlog.Event) ([]eventlog.Event, error) {
	switch e := event.(type) {
	case eventlog.UiEvent:
		set, ok := e.Inner.(eventlog.UiMaxBidSet)
		if !ok {
			return nil, fmt.Errorf("bidding: unexpected UiInner %T", e.Inner)
		}
		return h.handleMaxBidSet(ctx, tx, set.Bid)
	case eventlog.AuctionHouseEvent:
		return h.handleAuctionHouseEvent(ctx, tx, e)
	default:
		// Not an input this service consumes (e.g. its own emitted
		// BiddingEngineEvent echoing back through the log).
		return nil, nil
	}
}

func (h *Handler) handleMaxBidSet(ctx context.Context, tx persistence.Transaction, bid eventlog.ItemBid) ([]eventlog.Event, error) {
	state, err := h.store.LoadTr(ctx, tx, bid.Item)
	if err != nil {
		return nil, err
	}
	if state == nil {
		d := defaultState()
		state = &d
	}
	state.MaxBidLimit = bid.Price

	emitted := h.deriveAndPersist(ctx, tx, bid.Item, state)
	if err := h.store.StoreTr(ctx, tx, bid.Item, *state); err != nil {
		return nil, err
	}
	return emitted, nil
}

func (h *Handler) handleAuctionHouseEvent(ctx context.Context, tx persistence.Transaction, e eventlog.AuctionHouseEvent) ([]eventlog.Event, error) {
	state, err := h.store.LoadTr(ctx, tx, e.Item)
	if err != nil {
		return nil, err
	}
	if state == nil {
		metrics.AuctionErrors.WithLabelValues("unknown_auction").Inc()
		return []eventlog.Event{eventlog.BiddingEngineEvent{
			Inner: eventlog.BiddingEngineAuctionError{Kind: eventlog.UnknownAuction, Item: e.Item},
		}}, nil
	}

	switch inner := e.Inner.(type) {
	case eventlog.AuctionHouseBid:
		state.AuctionState = applyAuctionHouseBid(state.AuctionState, inner.Details)
	case eventlog.AuctionHouseClosed:
		state.AuctionState = applyAuctionHouseClosed(state.AuctionState)
	default:
		return nil, fmt.Errorf("bidding: unexpected AuctionHouseItemEvent %T", inner)
	}

	emitted := h.deriveAndPersist(ctx, tx, e.Item, state)
	if err := h.store.StoreTr(ctx, tx, e.Item, *state); err != nil {
		return nil, err
	}
	return emitted, nil
}

// deriveAndPersist computes the next-bid decision and, if it yields a bid,
// advances LastBidSent on state in place (the caller persists state right
// after). Returns the events to emit.
func (h *Handler) deriveAndPersist(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId, state *AuctionBiddingState) []eventlog.Event {
	candidate := nextBid(*state)
	if candidate == nil {
		return nil
	}
	state.LastBidSent = candidate
	metrics.BidsSent.Inc()
	return []eventlog.Event{eventlog.BiddingEngineEvent{
		Inner: eventlog.BiddingEngineBidSent{Bid: eventlog.ItemBid{Item: item, Price: *candidate}},
	}}
}
