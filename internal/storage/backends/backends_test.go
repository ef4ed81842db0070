package backends

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/storage"
)

func TestArtifactName(t *testing.T) {
	ts := time.Date(2026, 10, 19, 8, 30, 5, 0, time.UTC)

	name, err := ArtifactName(FormatCSV, ts, "3f2c9a1e-77b0-4c1d-9e2a-5b6c7d8e9f00")
	if err != nil || name != "harvest_results_20261019_083005_3f2c9a1e.csv" {
		t.Errorf("unexpected name %q (%v)", name, err)
	}

	if name, _ := ArtifactName(FormatCSV, ts, "../a/b"); name != "harvest_results_20261019_083005_ab.csv" {
		t.Errorf("job id should be reduced to safe characters, got %q", name)
	}
	if name, _ := ArtifactName(FormatCSV, ts, ""); name != "harvest_results_20261019_083005.csv" {
		t.Errorf("unexpected name without a job id %q", name)
	}

	name, _ = ArtifactName(FormatJSON, ts, "job")
	if filepath.Ext(name) != ".ndjson" {
		t.Errorf("expected ndjson extension, got %q", name)
	}

	if _, err := ArtifactName("parquet", ts, "job"); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestNewArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	for _, format := range []string{FormatCSV, FormatJSON, FormatXLSX} {
		t.Run(format, func(t *testing.T) {
			b, name, err := NewArtifact(format, dir, time.Now(), "job1")
			if err != nil {
				t.Fatalf("new artifact: %v", err)
			}
			if err := b.Save(context.Background(), &storage.Record{Domain: "a.com", URL: "https://a.com"}); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := b.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
				t.Errorf("artifact not written: %v", err)
			}
		})
	}
}

func TestNewArtifact_SameSecond(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	first, firstName, err := NewArtifact(FormatCSV, dir, started, "aaaa1111-job")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, secondName, err := NewArtifact(FormatCSV, dir, started.Add(300*time.Millisecond), "bbbb2222-job")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if firstName == secondName {
		t.Fatalf("jobs started in the same second share %q", firstName)
	}

	ctx := context.Background()
	_ = first.Save(ctx, &storage.Record{Domain: "a.com"})
	_ = first.Save(ctx, &storage.Record{Domain: "b.com"})
	_ = second.Save(ctx, &storage.Record{Domain: "c.com"})
	_ = first.Close()
	_ = second.Close()

	for name, want := range map[string]int{firstName: 2, secondName: 1} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if rows := strings.Count(string(data), "\n") - 1; rows != want {
			t.Errorf("%s: expected %d rows, got %d:\n%s", name, want, rows, data)
		}
	}

	if _, _, err := NewArtifact(FormatCSV, dir, started, "aaaa1111-job"); !errors.Is(err, os.ErrExist) {
		t.Errorf("an existing artifact must not be reused, got %v", err)
	}
}

func TestNewHistory(t *testing.T) {
	ctx := context.Background()

	b, err := NewHistory(ctx, DriverNone, "")
	if err != nil || b != nil {
		t.Errorf("expected nil backend for none driver")
	}

	b, err = NewHistory(ctx, DriverSQLite, filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("sqlite history: %v", err)
	}
	defer b.Close()

	if _, err := NewHistory(ctx, "mongo", ""); err == nil {
		t.Errorf("expected error for unknown driver")
	}
}
