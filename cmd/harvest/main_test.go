package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/jobs"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/internal/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "harvest ") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRun_NoKeywords(t *testing.T) {
	_, err := execute(t, "run", "--strategy", "http", "--log-level", "error")
	if !errors.Is(err, jobs.ErrNoKeywords) {
		t.Errorf("expected ErrNoKeywords, got %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	if _, err := execute(t, "run", "--strategy", "bing", "alpha"); err == nil {
		t.Error("expected an error for an unknown strategy")
	}
	if _, err := execute(t, "run", "--strategy", "api", "alpha"); err == nil {
		t.Error("expected an error for missing api credentials")
	}
	if _, err := execute(t, "run", "--strategy", "http", "--summary", "pdf", "alpha"); err == nil {
		t.Error("expected an error for an unknown summary format")
	}
}

func TestHistory(t *testing.T) {
	if _, err := execute(t, "history"); err == nil {
		t.Error("expected an error without a history driver")
	}

	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	rec := &storage.Record{
		ID:        "r1",
		JobID:     "job-1",
		Keyword:   "plumber",
		Domain:    "www.example.com",
		URL:       "https://www.example.com",
		Title:     "Example",
		CreatedAt: time.Now(),
	}
	if err := db.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	db.Close()

	out, err := execute(t, "history", "--history-driver", "sqlite", "--history-dsn", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "DOMAIN") || !strings.Contains(out, "www.example.com") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "history", "--history-driver", "sqlite", "--history-dsn", path, "--json", "--job", "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("expected no records for another job, got %q", out)
	}
}
