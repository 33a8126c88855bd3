package progress

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/persistence"
	pgpersist "github.com/dpc/sniper/internal/persistence/postgres"
)

// PostgresStore persists cursors in a `progress(service_id, offset_num)` table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema is the DDL NewPostgresStore's table depends on.
const Schema = `CREATE TABLE IF NOT EXISTS progress (
	service_id TEXT PRIMARY KEY,
	offset_num BIGINT NOT NULL
)`

func (s *PostgresStore) Load(ctx context.Context, conn persistence.Connection, service ServiceID) (*eventlog.Offset, error) {
	var offset uint64
	err := s.db.QueryRowContext(ctx, `SELECT offset_num FROM progress WHERE service_id = $1`, string(service)).Scan(&offset)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading progress for %q: %w", service, err)
	}
	off := eventlog.Offset(offset)
	return &off, nil
}

func (s *PostgresStore) LoadTr(ctx context.Context, tx persistence.Transaction, service ServiceID) (*eventlog.Offset, error) {
	pgtx, err := persistence.As[*pgpersist.Transaction](tx)
	if err != nil {
		return nil, err
	}
	var offset uint64
	err = pgtx.SQL().QueryRowContext(ctx, `SELECT offset_num FROM progress WHERE service_id = $1`, string(service)).Scan(&offset)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading progress for %q: %w", service, err)
	}
	off := eventlog.Offset(offset)
	return &off, nil
}

func (s *PostgresStore) StoreTr(ctx context.Context, tx persistence.Transaction, service ServiceID, offset eventlog.Offset) error {
	pgtx, err := persistence.As[*pgpersist.Transaction](tx)
	if err != nil {
		return err
	}
	_, err = pgtx.SQL().ExecContext(ctx,
		`INSERT INTO progress (service_id, offset_num) VALUES ($1, $2)
		 ON CONFLICT (service_id) DO UPDATE SET offset_num = EXCLUDED.offset_num`,
		string(service), uint64(offset))
	if err != nil {
		return fmt.Errorf("storing progress for %q: %w", service, err)
	}
	return nil
}
