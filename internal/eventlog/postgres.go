package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dpc/sniper/internal/persistence"
	pgpersist "github.com/dpc/sniper/internal/persistence/postgres"
)

// Postgres is the durable Reader/Writer backed by an append-only events
// table. It has no LISTEN/NOTIFY wiring: tail reads poll on a short ticker
// up to the requested timeout, which keeps the backend's internals within
// the same "no real protocol framing beyond what's needed" posture the
// spec holds the auction-house adapters to.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle. The caller is expected to have
// already run the schema migration creating the events table.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Schema is the DDL NewPostgres's table depends on, for the caller's
// startup migration step.
const Schema = `CREATE TABLE IF NOT EXISTS events (
	offset_num BIGINT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload BYTEA NOT NULL
)`

const pollInterval = 20 * time.Millisecond

func (p *Postgres) GetStartOffset(ctx context.Context) (Offset, error) {
	return 0, nil
}

func (p *Postgres) Write(ctx context.Context, tx persistence.Transaction, events []Event) (Offset, error) {
	pgtx, err := persistence.As[*pgpersist.Transaction](tx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return p.tail(ctx, pgtx.SQL())
	}

	sqlTx := pgtx.SQL()
	stmt, err := sqlTx.PrepareContext(ctx, `INSERT INTO events (offset_num, kind, payload) VALUES ($1, $2, $3)`)
	if err != nil {
		return 0, fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	next, err := p.tail(ctx, sqlTx)
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		kind, payload, err := encode(e)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, uint64(next), kind, payload); err != nil {
			return 0, fmt.Errorf("inserting event at offset %d: %w", next, err)
		}
		next++
	}
	return next, nil
}

func (p *Postgres) tail(ctx context.Context, q querier) (Offset, error) {
	var max sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT max(offset_num) FROM events`).Scan(&max); err != nil {
		return 0, fmt.Errorf("reading event log tail: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return Offset(max.Int64 + 1), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) Read(ctx context.Context, tx persistence.Transaction, from Offset, limit int, timeout *time.Duration) (Offset, []LogEvent, error) {
	deadline, hasDeadline := deadlineFor(timeout)

	for {
		batch, err := p.readBatch(ctx, from, limit)
		if err != nil {
			return from, nil, err
		}
		if len(batch) > 0 {
			return from + Offset(len(batch)), batch, nil
		}
		if timeout != nil && *timeout == 0 {
			return from, nil, nil
		}
		if hasDeadline && time.Now().After(deadline) {
			return from, nil, nil
		}

		wait := pollInterval
		if hasDeadline {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		select {
		case <-ctx.Done():
			return from, nil, nil
		case <-time.After(wait):
		}
	}
}

func (p *Postgres) readBatch(ctx context.Context, from Offset, limit int) ([]LogEvent, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT offset_num, kind, payload FROM events WHERE offset_num >= $1 ORDER BY offset_num LIMIT $2`,
		uint64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	defer rows.Close()

	var out []LogEvent
	for rows.Next() {
		var offset uint64
		var kind string
		var payload []byte
		if err := rows.Scan(&offset, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		event, err := decode(kind, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEvent{Offset: Offset(offset), Details: event})
	}
	return out, rows.Err()
}

// encode/decode give Event a wire shape for the durable backend. The event
// sum type stays closed at the Go-type level; this is purely serialization.

type wireEnvelope struct {
	Item  ItemId          `json:"item,omitempty"`
	Inner json.RawMessage `json:"inner,omitempty"`
	Sub   string          `json:"sub,omitempty"`
}

func encode(e Event) (kind string, payload []byte, err error) {
	switch v := e.(type) {
	case AuctionHouseEvent:
		var sub string
		var inner []byte
		switch ie := v.Inner.(type) {
		case AuctionHouseBid:
			sub = "bid"
			inner, err = json.Marshal(ie.Details)
		case AuctionHouseClosed:
			sub = "closed"
			inner = []byte("{}")
		default:
			return "", nil, fmt.Errorf("encoding event: unknown AuctionHouseItemEvent %T", ie)
		}
		if err != nil {
			return "", nil, err
		}
		payload, err = json.Marshal(wireEnvelope{Item: v.Item, Inner: inner, Sub: sub})
		return "auction_house", payload, err
	case BiddingEngineEvent:
		var sub string
		var inner []byte
		switch ie := v.Inner.(type) {
		case BiddingEngineBidSent:
			sub = "bid"
			inner, err = json.Marshal(ie.Bid)
		case BiddingEngineAuctionError:
			sub = "auction_error"
			inner, err = json.Marshal(ie)
		case BiddingEngineUserError:
			sub = "user_error"
			inner, err = json.Marshal(ie)
		default:
			return "", nil, fmt.Errorf("encoding event: unknown BiddingEngineInner %T", ie)
		}
		if err != nil {
			return "", nil, err
		}
		payload, err = json.Marshal(wireEnvelope{Inner: inner, Sub: sub})
		return "bidding_engine", payload, err
	case UiEvent:
		ie, ok := v.Inner.(UiMaxBidSet)
		if !ok {
			return "", nil, fmt.Errorf("encoding event: unknown UiInner %T", v.Inner)
		}
		inner, err := json.Marshal(ie.Bid)
		if err != nil {
			return "", nil, err
		}
		payload, err = json.Marshal(wireEnvelope{Inner: inner, Sub: "max_bid_set"})
		return "ui", payload, err
	default:
		return "", nil, fmt.Errorf("encoding event: unknown Event %T", e)
	}
}

func decode(kind string, payload []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	switch kind {
	case "auction_house":
		switch env.Sub {
		case "bid":
			var d BidDetails
			if err := json.Unmarshal(env.Inner, &d); err != nil {
				return nil, fmt.Errorf("decoding auction house bid: %w", err)
			}
			return AuctionHouseEvent{Item: env.Item, Inner: AuctionHouseBid{Details: d}}, nil
		case "closed":
			return AuctionHouseEvent{Item: env.Item, Inner: AuctionHouseClosed{}}, nil
		}
	case "bidding_engine":
		switch env.Sub {
		case "bid":
			var b ItemBid
			if err := json.Unmarshal(env.Inner, &b); err != nil {
				return nil, fmt.Errorf("decoding bidding engine bid: %w", err)
			}
			return BiddingEngineEvent{Inner: BiddingEngineBidSent{Bid: b}}, nil
		case "auction_error":
			var e BiddingEngineAuctionError
			if err := json.Unmarshal(env.Inner, &e); err != nil {
				return nil, fmt.Errorf("decoding bidding engine auction error: %w", err)
			}
			return BiddingEngineEvent{Inner: e}, nil
		case "user_error":
			var e BiddingEngineUserError
			if err := json.Unmarshal(env.Inner, &e); err != nil {
				return nil, fmt.Errorf("decoding bidding engine user error: %w", err)
			}
			return BiddingEngineEvent{Inner: e}, nil
		}
	case "ui":
		if env.Sub == "max_bid_set" {
			var b ItemBid
			if err := json.Unmarshal(env.Inner, &b); err != nil {
				return nil, fmt.Errorf("decoding ui max bid set: %w", err)
			}
			return UiEvent{Inner: UiMaxBidSet{Bid: b}}, nil
		}
	}
	return nil, fmt.Errorf("decoding event: unknown kind %q/%q", kind, env.Sub)
}
