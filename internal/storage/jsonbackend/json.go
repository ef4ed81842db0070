// Package jsonbackend writes harvested sites as newline-delimited JSON.
package jsonbackend

import (
	"context"
	"encoding/json"
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

// Backend writes one JSON object per record to a pending file that Close
// publishes at path. There is no index; Query decodes the whole file and
// filters in memory.
type Backend struct {
	path string

	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	done bool
}

// New starts a fresh artifact for path. It fails if path already exists.
func New(path string) (*Backend, error) {
	f, err := storage.CreatePending(path)
	if err != nil {
		return nil, fmt.Errorf("ndjson: create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &Backend{path: path, f: f, enc: enc}, nil
}

func (b *Backend) Save(_ context.Context, r *storage.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return errors.New("ndjson: save after close")
	}
	if err := b.enc.Encode(r); err != nil {
		return fmt.Errorf("ndjson: write: %w", err)
	}
	return nil
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
		return nil, fmt.Errorf("ndjson: open %s: %w", src, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	out := []*storage.Record{}
	for {
		var r storage.Record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ndjson: decode %s: %w", src, err)
		}
		if filter.Match(&r) {
			out = append(out, &r)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return filter.Page(out), nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	if err := b.f.Close(); err != nil {
		return errors.Join(fmt.Errorf("ndjson: close %s: %w", b.path, err), storage.Discard(b.path))
	}
	return storage.Publish(b.path)
}

func (b *Backend) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	return errors.Join(b.f.Close(), storage.Discard(b.path))
}
