// Package postgres stores journal events in a Postgres table.
package postgres

import (
	"context"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/journal"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS clpool_events (
	id          BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	pool_id     BYTEA NOT NULL,
	sender      BYTEA NOT NULL,
	position_id NUMERIC(20, 0),
	attributes  JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS clpool_events_pool_idx ON clpool_events (pool_id, occurred_at);
`

// Sink is a journal.Sink backed by a pgx connection pool.
type Sink struct {
	pool *pgxpool.Pool
}

// NewSink connects to dsn and creates the events table if needed.
func NewSink(ctx context.Context, dsn string) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Record inserts events with a single batch round trip.
func (s *Sink) Record(ctx context.Context, events ...journal.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		var position any
		if e.PositionID != 0 {
			position = fmt.Sprint(e.PositionID)
		}
		attrs := e.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		batch.Queue(`
			INSERT INTO clpool_events (occurred_at, kind, pool_id, sender, position_id, attributes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			e.Time,
			string(e.Kind),
			e.Pool.Bytes(),
			e.Sender.Bytes(),
			position,
			attrs,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the events of a pool in insertion order.
func (s *Sink) Events(ctx context.Context, pool clpool.PoolID) ([]journal.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT occurred_at, kind, sender, COALESCE(position_id, 0)::TEXT, attributes
		FROM clpool_events WHERE pool_id = $1 ORDER BY id
	`, pool.Bytes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			e        journal.Event
			kind     string
			sender   []byte
			position string
		)
		if err := rows.Scan(&e.Time, &kind, &sender, &position, &e.Attributes); err != nil {
			return nil, err
		}
		e.Kind = journal.Kind(kind)
		e.Pool = pool
		copy(e.Sender[:], sender)
		if _, err := fmt.Sscan(position, &e.PositionID); err != nil {
			return nil, fmt.Errorf("position id %q: %w", position, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Sink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
