package storage

import (
	"fmt"
	"strings"
)

// Dialect captures what the SQL history backends disagree on.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Timestamp is the column type for created_at.
	Timestamp string
	// NoLimit is the LIMIT value meaning unbounded, used when only an
	// offset is requested.
	NoLimit string
}

const columns = "id, job_id, keyword, domain, url, title, created_at"

// Schema returns the DDL for the history table and its lookup indexes.
func (d Dialect) Schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS harvest_results (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	domain TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at %s NOT NULL
);
CREATE INDEX IF NOT EXISTS harvest_results_domain_idx ON harvest_results (domain);
CREATE INDEX IF NOT EXISTS harvest_results_job_idx ON harvest_results (job_id);
`, d.Timestamp)
}

// Insert returns the statement and arguments that store r.
func (d Dialect) Insert(r *Record) (string, []any) {
	ph := make([]string, 7)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	q := "INSERT INTO harvest_results (" + columns + ") VALUES (" + strings.Join(ph, ", ") + ")"
	return q, []any{r.ID, r.JobID, r.Keyword, r.Domain, r.URL, r.Title, r.CreatedAt}
}

// Select returns a newest-first query for the records matching f.
func (d Dialect) Select(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}
	if f.JobID != "" {
		where = append(where, "job_id = "+bind(f.JobID))
	}
	if f.Domain != "" {
		where = append(where, "domain = "+bind(f.Domain))
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+bind(*f.Since))
	}

	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM harvest_results")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	switch {
	case f.Limit > 0:
		b.WriteString(" LIMIT " + bind(f.Limit))
	case f.Offset > 0:
		b.WriteString(" LIMIT " + d.NoLimit)
	}
	if f.Offset > 0 {
		b.WriteString(" OFFSET " + bind(f.Offset))
	}
	return b.String(), args
}

// Rows is the cursor surface shared by database/sql and pgx.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanRecords drains rows produced by a Select query.
func ScanRecords(rows Rows) ([]*Record, error) {
	out := []*Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.JobID, &r.Keyword, &r.Domain, &r.URL, &r.Title, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
