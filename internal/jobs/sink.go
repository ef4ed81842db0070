package jobs

import (
	"context"

	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/internal/storage/backends"
)

// OutputSink writes each job's records to its own artifact in dir and,
// when history is non-nil, to the shared history backend as well. history is
// never closed by the sink.
func OutputSink(format, dir string, history storage.Backend) pipeline.Sink {
	return pipeline.SinkFunc(func(ctx context.Context, job pipeline.Job) (storage.Backend, string, error) {
		artifact, name, err := backends.NewArtifact(format, dir, job.Started, job.ID)
		if err != nil {
			return nil, "", err
		}
		if history == nil {
			return artifact, name, nil
		}
		return storage.Tee{artifact, storage.KeepOpen(history)}, name, nil
	})
}

// HistoryDomains returns every domain recorded in history, for folding into
// the old-URL set.
func HistoryDomains(history storage.Backend) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		records, err := history.Query(ctx, storage.Filter{})
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.Domain)
		}
		return out, nil
	}
}
