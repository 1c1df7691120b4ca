// Package store persists inscriptions to Postgres and reads the indexing
// checkpoint back.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashgraph-online/hcs-improvement-proposals-sub004/internal/inscription"
)

// Checkpoint is the high-water mark of the last persisted inscription.
type Checkpoint struct {
	Timestamp string
	Sequence  int64
}

// Postgres writes to the inscriptions table. Upserts are keyed on ht_id,
// the topic named by the content locator, so reprocessing is idempotent.
type Postgres struct {
	pool  *pgxpool.Pool
	name  string
	table string
	start string
}

// NewPostgres connects, pings and ensures the table exists. start is the
// checkpoint timestamp reported while the table is empty.
func NewPostgres(ctx context.Context, connStr, table, start string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("could not parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not reach database: %w", err)
	}
	p := &Postgres{
		pool:  pool,
		name:  table,
		table: pgx.Identifier{table}.Sanitize(),
		start: start,
	}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the table and its checkpoint index if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			ht_id TEXT PRIMARY KEY,
			p TEXT NOT NULL,
			op TEXT NOT NULL,
			t_id TEXT NOT NULL,
			sn TEXT NOT NULL,
			account_id TEXT,
			created_timestamp TEXT NOT NULL,
			inscription_number BIGINT NOT NULL,
			json JSONB,
			image TEXT,
			mimetype TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`, p.table))
	if err != nil {
		return fmt.Errorf("could not create table: %w", err)
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s ((created_timestamp::numeric) DESC, inscription_number DESC)`,
		pgx.Identifier{p.name + "_checkpoint_idx"}.Sanitize(), p.table,
	))
	if err != nil {
		return fmt.Errorf("could not create checkpoint index: %w", err)
	}
	return nil
}

// Checkpoint returns the timestamp and sequence number of the newest row,
// comparing timestamps numerically.
func (p *Postgres) Checkpoint(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT created_timestamp, inscription_number
		FROM %s
		ORDER BY created_timestamp::numeric DESC, inscription_number DESC
		LIMIT 1`, p.table),
	).Scan(&cp.Timestamp, &cp.Sequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{Timestamp: p.start, Sequence: 0}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("could not read checkpoint: %w", err)
	}
	return cp, nil
}

// Upsert inserts the inscription or refreshes the existing row for the same
// mint. A different mint reusing an indexed locator leaves the first row,
// and its sequence number, untouched. It reports whether a row was written.
func (p *Postgres) Upsert(ctx context.Context, r inscription.Inscription) (bool, error) {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (ht_id, p, op, t_id, sn, account_id, created_timestamp, inscription_number, json, image, mimetype)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ht_id) DO UPDATE SET
			p = EXCLUDED.p,
			op = EXCLUDED.op,
			account_id = EXCLUDED.account_id,
			created_timestamp = EXCLUDED.created_timestamp,
			inscription_number = EXCLUDED.inscription_number,
			json = EXCLUDED.json,
			image = EXCLUDED.image,
			mimetype = EXCLUDED.mimetype,
			updated_at = NOW()
		WHERE %[1]s.t_id = EXCLUDED.t_id AND %[1]s.sn = EXCLUDED.sn`, p.table),
		r.TopicID, r.Protocol, r.Op, r.TokenID, r.SerialNumber, r.AccountID,
		r.CreatedTimestamp, r.Number, r.JSON, r.Image, r.Mimetype,
	)
	if err != nil {
		return false, fmt.Errorf("could not upsert %s: %w", r.TopicID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
