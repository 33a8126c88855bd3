package bidding

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
	pgpersist "github.com/dpc/sniper/internal/persistence/postgres"
)

// PostgresStateStore persists AuctionBiddingState in a table keyed by item
// id, with the column names spec.md fixes for a durable backend.
type PostgresStateStore struct {
	db *sql.DB
}

// NewPostgresStateStore wraps an open database handle.
func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

// Schema is the DDL NewPostgresStateStore's table depends on.
const Schema = `CREATE TABLE IF NOT EXISTS bidding_state (
	item_id TEXT PRIMARY KEY,
	max_bid_limit BIGINT NOT NULL,
	last_bid_sent BIGINT,
	min_opening_bid BIGINT NOT NULL DEFAULT 0,
	highest_bid_bidder TEXT,
	highest_bid_price BIGINT,
	highest_bid_increment BIGINT,
	closed BOOLEAN NOT NULL DEFAULT false
)`

const selectColumns = `max_bid_limit, last_bid_sent, min_opening_bid, highest_bid_bidder, highest_bid_price, highest_bid_increment, closed`

func scanState(row interface {
	Scan(dest ...any) error
}) (*AuctionBiddingState, error) {
	var (
		maxBidLimit, minOpeningBid             uint64
		lastBidSent                            sql.NullInt64
		highestBidder                          sql.NullString
		highestPrice, highestIncrement         sql.NullInt64
		closed                                 bool
	)
	if err := row.Scan(&maxBidLimit, &lastBidSent, &minOpeningBid, &highestBidder, &highestPrice, &highestIncrement, &closed); err != nil {
		return nil, err
	}

	state := &AuctionBiddingState{
		MaxBidLimit:   eventlog.Amount(maxBidLimit),
		MinOpeningBid: eventlog.Amount(minOpeningBid),
		AuctionState:  AuctionState{Closed: closed},
	}
	if lastBidSent.Valid {
		v := eventlog.Amount(lastBidSent.Int64)
		state.LastBidSent = &v
	}
	if highestBidder.Valid {
		bidder := eventlog.Other
		if highestBidder.String == "sniper" {
			bidder = eventlog.Sniper
		}
		state.AuctionState.HighestBid = &eventlog.BidDetails{
			Bidder:    bidder,
			Price:     eventlog.Amount(highestPrice.Int64),
			Increment: eventlog.Amount(highestIncrement.Int64),
		}
	}
	return state, nil
}

func (s *PostgresStateStore) Load(ctx context.Context, conn persistence.Connection, item eventlog.ItemId) (*AuctionBiddingState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM bidding_state WHERE item_id = $1`, string(item))
	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading bidding state for %q: %w", item, err)
	}
	return state, nil
}

func (s *PostgresStateStore) LoadTr(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId) (*AuctionBiddingState, error) {
	pgtx, err := persistence.As[*pgpersist.Transaction](tx)
	if err != nil {
		return nil, err
	}
	row := pgtx.SQL().QueryRowContext(ctx, `SELECT `+selectColumns+` FROM bidding_state WHERE item_id = $1`, string(item))
	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading bidding state for %q: %w", item, err)
	}
	return state, nil
}

func (s *PostgresStateStore) StoreTr(ctx context.Context, tx persistence.Transaction, item eventlog.ItemId, state AuctionBiddingState) error {
	pgtx, err := persistence.As[*pgpersist.Transaction](tx)
	if err != nil {
		return err
	}

	var lastBidSent sql.NullInt64
	if state.LastBidSent != nil {
		lastBidSent = sql.NullInt64{Int64: int64(*state.LastBidSent), Valid: true}
	}
	var bidder sql.NullString
	var price, increment sql.NullInt64
	if hb := state.AuctionState.HighestBid; hb != nil {
		bidder = sql.NullString{String: hb.Bidder.String(), Valid: true}
		price = sql.NullInt64{Int64: int64(hb.Price), Valid: true}
		increment = sql.NullInt64{Int64: int64(hb.Increment), Valid: true}
	}

	_, err = pgtx.SQL().ExecContext(ctx,
		`INSERT INTO bidding_state (item_id, max_bid_limit, last_bid_sent, min_opening_bid, highest_bid_bidder, highest_bid_price, highest_bid_increment, closed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (item_id) DO UPDATE SET
		   max_bid_limit = EXCLUDED.max_bid_limit,
		   last_bid_sent = EXCLUDED.last_bid_sent,
		   min_opening_bid = EXCLUDED.min_opening_bid,
		   highest_bid_bidder = EXCLUDED.highest_bid_bidder,
		   highest_bid_price = EXCLUDED.highest_bid_price,
		   highest_bid_increment = EXCLUDED.highest_bid_increment,
		   closed = EXCLUDED.closed`,
		string(item), uint64(state.MaxBidLimit), lastBidSent, uint64(state.MinOpeningBid), bidder, price, increment, state.AuctionState.Closed)
	if err != nil {
		return fmt.Errorf("storing bidding state for %q: %w", item, err)
	}
	return nil
}
