package input

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestKeywordsFromText(t *testing.T) {
	got := KeywordsFromText("alpha\r\n\n  beta  \n\t\ngamma delta")
	want := []string{"alpha", "beta", "gamma delta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := KeywordsFromText("  \n "); len(got) != 0 {
		t.Errorf("expected no keywords, got %v", got)
	}
}

func TestKeywordsFromFile_CSV(t *testing.T) {
	data := "\uFEFFid, keywords ,note\n1,alpha,x\n2,,y\n3, beta ,z\n4\n"
	got, err := KeywordsFromFile("kw.CSV", strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	_, err = KeywordsFromFile("kw.csv", strings.NewReader("term\nalpha\n"))
	if !errors.Is(err, ErrNoKeywordsColumn) {
		t.Errorf("expected ErrNoKeywordsColumn, got %v", err)
	}
}

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	return buf.Bytes()
}

func TestKeywordsFromFile_XLSX(t *testing.T) {
	data := xlsxBytes(t, [][]any{
		{"Region", "Keywords"},
		{"north", "alpha"},
		{"south", ""},
		{"east", "beta"},
	})
	got, err := KeywordsFromFile("keywords.xlsx", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestKeywordsFromFile_Text(t *testing.T) {
	got, err := KeywordsFromFile("list.txt", strings.NewReader("alpha\n\nbeta\n"))
	if err != nil || len(got) != 2 {
		t.Errorf("unexpected result %v, %v", got, err)
	}
}

func TestKeywordsFromFile_Unsupported(t *testing.T) {
	if _, err := KeywordsFromFile("doc.pdf", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOldURLsFromFile(t *testing.T) {
	data := xlsxBytes(t, [][]any{
		{"Website", "Notes"},
		{"https://www.a.com/page", "x"},
		{"", "blank"},
		{"b.com", ""},
	})
	got, err := OldURLsFromFile("old.xlsx", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"https://www.a.com/page", "b.com"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = OldURLsFromFile("old.csv", strings.NewReader("URL\nhttp://c.com\n"))
	if err != nil || !reflect.DeepEqual(got, []string{"http://c.com"}) {
		t.Errorf("unexpected csv result %v, %v", got, err)
	}
}
