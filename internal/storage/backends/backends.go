// Package backends opens storage.Backend implementations by name.
package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/internal/storage/csvbackend"
	"github.com/FranksOps/harvest/internal/storage/jsonbackend"
	"github.com/FranksOps/harvest/internal/storage/postgres"
	"github.com/FranksOps/harvest/internal/storage/sqlite"
	"github.com/FranksOps/harvest/internal/storage/xlsxbackend"
)

// Artifact formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// History drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ArtifactName returns the file name for a job's result artifact: the job's
// start time to the second, then the first eight characters of its id so
// that jobs started in the same second never share a file.
func ArtifactName(format string, ts time.Time, jobID string) (string, error) {
	ext, err := extension(format)
	if err != nil {
		return "", err
	}
	name := "harvest_results_" + ts.Format("20060102_150405")
	if tag := artifactTag(jobID); tag != "" {
		name += "_" + tag
	}
	return name + "." + ext, nil
}

// artifactTag keeps the file-name-safe prefix of a job id.
func artifactTag(jobID string) string {
	var b strings.Builder
	for _, r := range jobID {
		if b.Len() == 8 {
			break
		}
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewArtifact creates dir if needed and starts a file backend for the job's
// artifact. It returns the backend and the artifact's file name, and fails
// rather than reuse an existing file.
func NewArtifact(format, dir string, ts time.Time, jobID string) (storage.Backend, string, error) {
	name, err := ArtifactName(format, ts, jobID)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, name)
	switch format {
	case FormatCSV:
		b, err := csvbackend.New(path)
		if err != nil {
			return nil, "", err
		}
		return b, name, nil
	case FormatJSON:
		b, err := jsonbackend.New(path)
		if err != nil {
			return nil, "", err
		}
		return b, name, nil
	default:
		b, err := xlsxbackend.New(path)
		if err != nil {
			return nil, "", err
		}
		return b, name, nil
	}
}

// NewHistory opens the run-history database. DriverNone (or "") returns nil.
func NewHistory(ctx context.Context, driver, dsn string) (storage.Backend, error) {
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		b, err := sqlite.New(dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverPostgres:
		b, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}

func extension(format string) (string, error) {
	switch format {
	case FormatCSV:
		return "csv", nil
	case FormatJSON:
		return "ndjson", nil
	case FormatXLSX:
		return "xlsx", nil
	default:
		return "", fmt.Errorf("unknown artifact format %q", format)
	}
}
