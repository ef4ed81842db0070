// Package xlsxbackend writes harvested sites to an Excel workbook.
package xlsxbackend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/FranksOps/harvest/internal/storage"
	"github.com/xuri/excelize/v2"
)

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Aborter = (*Backend)(nil)
)

// Sheet is the name of the single worksheet.
const Sheet = "Results"

var header = []any{"Domain", "URL", "Title", "Keyword"}

// column widths in characters, matching header
var widths = []float64{30, 60, 50, 25}

// Backend buffers records and renders the workbook on Close. Nothing is
// written to path before then, and nothing at all after Abort.
type Backend struct {
	path string

	mu      sync.Mutex
	records []*storage.Record
	closed  bool
}

// New reserves path for a new workbook. It fails if path already exists.
func New(path string) (*Backend, error) {
	f, err := storage.CreatePending(path)
	if err != nil {
		return nil, fmt.Errorf("xlsx: create %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Join(fmt.Errorf("xlsx: create %s: %w", path, err), storage.Discard(path))
	}
	return &Backend{path: path}, nil
}

func (b *Backend) Save(_ context.Context, r *storage.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("xlsx: save after close")
	}
	cp := *r
	b.records = append(b.records, &cp)
	return nil
}

// Query filters the buffered records. Like the CSV artifact only
// Filter.Domain and paging apply.
func (b *Backend) Query(_ context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []*storage.Record{}
	for _, r := range b.records {
		if filter.Domain == "" || r.Domain == filter.Domain {
			out = append(out, r)
		}
	}
	return filter.Page(out), nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	f := excelize.NewFile()
	err := b.render(f)
	if err == nil {
		err = writeFile(f, storage.PendingPath(b.path))
	}
	if err = errors.Join(err, f.Close()); err != nil {
		return errors.Join(err, storage.Discard(b.path))
	}
	return storage.Publish(b.path)
}

func (b *Backend) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.records = nil
	return storage.Discard(b.path)
}

// writeFile streams the workbook into the reserved pending file. SaveAs would
// refuse the pending file's extension.
func writeFile(f *excelize.File, name string) error {
	out, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("xlsx: open %s: %w", name, err)
	}
	if err := f.Write(out); err != nil {
		_ = out.Close()
		return fmt.Errorf("xlsx: write %s: %w", name, err)
	}
	return out.Close()
}

func (b *Backend) render(f *excelize.File) error {
	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	if err := f.SetSheetRow(Sheet, "A1", &header); err != nil {
		return fmt.Errorf("xlsx: header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx: style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(Sheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("xlsx: header style: %w", err)
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(Sheet, col, col, w); err != nil {
			return fmt.Errorf("xlsx: width: %w", err)
		}
	}

	for i, r := range b.records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx: cell: %w", err)
		}
		row := []any{r.Domain, r.URL, r.Title, r.Keyword}
		if err := f.SetSheetRow(Sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i+2, err)
		}
	}
	if len(b.records) > 0 {
		if err := f.AutoFilter(Sheet, fmt.Sprintf("A1:%s%d", last, len(b.records)+1), nil); err != nil {
			return fmt.Errorf("xlsx: filter: %w", err)
		}
	}
	return nil
}
