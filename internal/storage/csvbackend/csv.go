// Package csvbackend writes harvested sites to a CSV artifact, one row per
// site in the order the job produced them.
package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FranksOps/harvest/internal/storage"
)

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Aborter = (*Backend)(nil)
)

// Columns is the header row of every artifact.
var Columns = []string{"Domain", "URL", "Title", "Keyword"}

// Backend writes rows to a pending file that Close publishes at path. The
// artifact carries no job id or timestamp, so Query only honours
// Filter.Domain and paging.
type Backend struct {
	path string

	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	done bool
}

// New starts a fresh artifact for path and writes the header row. It fails if
// path already exists.
func New(path string) (*Backend, error) {
	f, err := storage.CreatePending(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create %s: %w", path, err)
	}
	b := &Backend{path: path, f: f, w: csv.NewWriter(f)}
	if err := b.write(Columns); err != nil {
		_ = b.Abort()
		return nil, err
	}
	return b, nil
}

func (b *Backend) write(row []string) error {
	if err := b.w.Write(row); err != nil {
		return fmt.Errorf("csv: write: %w", err)
	}
	b.w.Flush()
	if err := b.w.Error(); err != nil {
		return fmt.Errorf("csv: flush: %w", err)
	}
	return nil
}

func (b *Backend) Save(_ context.Context, r *storage.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return errors.New("csv: save after close")
	}
	return b.write([]string{r.Domain, r.URL, r.Title, r.Keyword})
}

func (b *Backend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.path
	if !b.done {
		src = b.f.Name()
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", src, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	out := []*storage.Record{}
	for line := 0; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read %s: %w", src, err)
		}
		if line == 0 || len(row) != len(Columns) {
			continue
		}
		if filter.Domain != "" && row[0] != filter.Domain {
			continue
		}
		out = append(out, &storage.Record{Domain: row[0], URL: row[1], Title: row[2], Keyword: row[3]})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return filter.Page(out), nil
}

// Close flushes the rows and publishes the artifact. A failed flush discards
// it instead.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	b.w.Flush()
	if err := errors.Join(b.w.Error(), b.f.Close()); err != nil {
		return errors.Join(fmt.Errorf("csv: close %s: %w", b.path, err), storage.Discard(b.path))
	}
	return storage.Publish(b.path)
}

// Abort drops the pending file; nothing is left at path.
func (b *Backend) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	return errors.Join(b.f.Close(), storage.Discard(b.path))
}
