package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/storage"
	"github.com/google/uuid"
)

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("HARVEST_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("HARVEST_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	b, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()

	jobID := uuid.NewString()
	now := time.Now().UTC()

	rec := &storage.Record{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Keyword:   "alpha",
		Domain:    "example-pg.com",
		URL:       "https://example-pg.com",
		Title:     "Example PG",
		CreatedAt: now,
	}

	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{JobID: jobID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Domain != rec.Domain || got[0].Title != rec.Title || got[0].Keyword != "alpha" {
		t.Errorf("record mismatch: %+v", got[0])
	}

	older := now.Add(-time.Hour)
	_ = b.Save(ctx, &storage.Record{ID: uuid.NewString(), JobID: jobID, Domain: "old.example-pg.com", CreatedAt: older})
	paged, err := b.Query(ctx, storage.Filter{JobID: jobID, Offset: 1})
	if err != nil || len(paged) != 1 || paged[0].Domain != "old.example-pg.com" {
		t.Errorf("expected the older record after offset, got %v %v", paged, err)
	}

	none, err := b.Query(ctx, storage.Filter{JobID: jobID, Domain: "other.com"})
	if err != nil || len(none) != 0 {
		t.Errorf("expected no records, got %v %v", none, err)
	}
}
