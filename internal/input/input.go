// Package input turns uploaded files and pasted text into keyword and
// old-URL lists.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// KeywordsColumn is the header of the keyword column in tabular uploads.
const KeywordsColumn = "Keywords"

var (
	// ErrNoKeywordsColumn is returned when a table has no Keywords header.
	ErrNoKeywordsColumn = errors.New(`input: no "Keywords" column`)
	// ErrUnsupportedFormat is returned for file types other than
	// .csv, .xlsx and .txt.
	ErrUnsupportedFormat = errors.New("input: unsupported file type")
)

// KeywordsFromText splits line-delimited text into trimmed, non-empty
// keywords in input order.
func KeywordsFromText(text string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if kw := strings.TrimSpace(sc.Text()); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// KeywordsFromFile reads the Keywords column of a CSV or XLSX table, or every
// line of a .txt file. The header match ignores case and surrounding space.
// Blank cells are dropped.
func KeywordsFromFile(name string, r io.Reader) ([]string, error) {
	if isText(name) {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("input: read %s: %w", name, err)
		}
		return KeywordsFromText(string(b)), nil
	}

	rows, err := readRows(name, r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoKeywordsColumn
	}

	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), KeywordsColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoKeywordsColumn
	}

	var out []string
	for _, row := range rows[1:] {
		if col < len(row) {
			if kw := strings.TrimSpace(row[col]); kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out, nil
}

// OldURLsFromFile reads the first column of a CSV or XLSX table, skipping the
// header row, or every line of a .txt file. Values are returned raw; callers
// normalize them.
func OldURLsFromFile(name string, r io.Reader) ([]string, error) {
	if isText(name) {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("input: read %s: %w", name, err)
		}
		return KeywordsFromText(string(b)), nil
	}

	rows, err := readRows(name, r)
	if err != nil {
		return nil, err
	}
	var out []string
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func isText(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}

func readRows(name string, r io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("input: parse %s: %w", name, err)
		}
		if len(rows) > 0 && len(rows[0]) > 0 {
			rows[0][0] = strings.TrimPrefix(rows[0][0], "\uFEFF")
		}
		return rows, nil
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("input: open %s: %w", name, err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("input: read %s: %w", name, err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}
