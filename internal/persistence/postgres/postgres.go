// Package postgres is the durable Persistence backend: connections and
// transactions backed by database/sql against a PostgreSQL database,
// instrumented with otelsql the way the retrieval pack's entstore backend
// is.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/dpc/sniper/internal/config"
	"github.com/dpc/sniper/internal/persistence"
)

const backendName = "postgres"

// Open connects to PostgreSQL and returns a *Persistence ready to hand out
// connections.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Persistence, error) {
	db, err := otelsql.Open("postgres", cfg.DSN(), otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Persistence{db: db}, nil
}

// Persistence is the PostgreSQL-backed persistence.Persistence.
type Persistence struct {
	db *sql.DB
}

// DB exposes the underlying handle for backend-specific store queries
// outside a transaction (e.g. progress.Load's at-least-once read).
func (p *Persistence) DB() *sql.DB { return p.db }

// Close releases the connection pool.
func (p *Persistence) Close() error { return p.db.Close() }

// Ping reports whether the database is reachable, for health checks.
func (p *Persistence) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate runs the fixed set of CREATE TABLE IF NOT EXISTS statements every
// durable-backend store depends on. There's no migration framework: the
// schema is small and additive, so idempotent DDL executed at startup is
// enough.
func (p *Persistence) Migrate(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running schema migration: %w", err)
		}
	}
	return nil
}

// GetConnection returns a Connection wrapping the shared pool.
func (p *Persistence) GetConnection(ctx context.Context) (persistence.Connection, error) {
	return &Connection{db: p.db}, nil
}

// Connection is the PostgreSQL persistence.Connection.
type Connection struct {
	db *sql.DB
}

// StartTransaction begins a *sql.Tx at serializable isolation, meeting the
// contract's "serializable or stronger" obligation.
func (c *Connection) StartTransaction(ctx context.Context) (persistence.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("beginning postgres transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

func (c *Connection) Close() error { return nil }

// Transaction wraps a *sql.Tx.
type Transaction struct {
	tx *sql.Tx
}

// SQL exposes the underlying *sql.Tx for backend-specific store queries.
// Stores recover it via persistence.As[*Transaction] first.
func (t *Transaction) SQL() *sql.Tx { return t.tx }

func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing postgres transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rolling back postgres transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Backend() string { return backendName }
