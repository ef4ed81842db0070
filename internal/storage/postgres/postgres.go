// Package postgres keeps run history in PostgreSQL through a pgx pool, for
// deployments where several harvest processes share one history.
package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/FranksOps/harvest/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Backend = (*Backend)(nil)

var dialect = storage.Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Timestamp:   "TIMESTAMPTZ",
	NoLimit:     "ALL",
}

type Backend struct {
	pool *pgxpool.Pool
}

// New connects to dsn, checks the connection and applies the schema.
func New(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, dialect.Schema()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Backend{pool: pool}, nil
}

func (b *Backend) Save(ctx context.Context, r *storage.Record) error {
	q, args := dialect.Insert(r)
	if _, err := b.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres: insert %s: %w", r.ID, err)
	}
	return nil
}

func (b *Backend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	q, args := dialect.Select(filter)
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()
	return storage.ScanRecords(rows)
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
