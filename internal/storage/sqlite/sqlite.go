// Package sqlite keeps run history in a local SQLite file through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/FranksOps/harvest/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Backend = (*Backend)(nil)

var dialect = storage.Dialect{
	Placeholder: func(int) string { return "?" },
	Timestamp:   "DATETIME",
	NoLimit:     "-1",
}

type Backend struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dsn and applies the schema.
func New(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// single connection: concurrent writers would otherwise see SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(dialect.Schema()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Save(ctx context.Context, r *storage.Record) error {
	q, args := dialect.Insert(r)
	if _, err := b.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", r.ID, err)
	}
	return nil
}

func (b *Backend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	q, args := dialect.Select(filter)
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()
	return storage.ScanRecords(rows)
}

func (b *Backend) Close() error {
	return b.db.Close()
}
