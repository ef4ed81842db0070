// Package jobs admits at most one harvest job at a time, runs it in the
// background and publishes its progress as immutable snapshots.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FranksOps/harvest/internal/filter"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/FranksOps/harvest/internal/serp"
	"github.com/google/uuid"
)

var (
	// ErrJobRunning rejects a start while another job is Running.
	ErrJobRunning = errors.New("a job is already running")
	// ErrNoKeywords rejects a start without any usable keyword.
	ErrNoKeywords = errors.New("no keywords provided")
	// ErrMissingCredentials rejects a start for an API strategy without keys.
	ErrMissingCredentials = serp.ErrMissingCredentials
	// ErrArtifactNotFound is returned for unknown or unsafe artifact names.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Status is the job lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Progress is an immutable snapshot of the current or last job.
type Progress struct {
	JobID          string     `json:"job_id,omitempty"`
	Status         Status     `json:"status"`
	CurrentKeyword string     `json:"current_keyword"`
	KeywordIndex   int        `json:"keyword_index"`
	TotalKeywords  int        `json:"total_keywords"`
	ResultsFound   int        `json:"results_found"`
	Message        string     `json:"message"`
	Filename       string     `json:"filename,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Request is the input of Start.
type Request struct {
	Keywords []string
	// MaxPages overrides the configured page count when positive.
	MaxPages int
	// OldURLs are raw URLs or domains from an earlier run.
	OldURLs []string
}

// StrategyFactory builds the search strategy for one job. It runs
// synchronously inside Start, so credential and launch errors reject the job
// before it reaches Running.
type StrategyFactory func(ctx context.Context) (serp.Strategy, error)

// Config wires a Manager.
type Config struct {
	Pipeline    pipeline.Config
	NewStrategy StrategyFactory
	Sink        pipeline.Sink
	// OutputDir is where artifacts are looked up by name.
	OutputDir string
	// ExtraOldURLs is consulted on every start, e.g. to fold in run history.
	ExtraOldURLs func(ctx context.Context) ([]string, error)
	Logger       *slog.Logger
}

// Manager runs one job at a time.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	progress atomic.Pointer[Progress]

	// mu serializes admission and every progress write.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    *pipeline.Result
}

// NewManager returns an idle Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{cfg: cfg, logger: cfg.Logger}
	m.progress.Store(&Progress{Status: StatusIdle})
	return m
}

// Start validates req and launches a job in the background. It returns the
// job id, or an input error without changing the published progress.
func (m *Manager) Start(req Request) (string, error) {
	keywords := cleanKeywords(req.Keywords)
	if len(keywords) == 0 {
		return "", ErrNoKeywords
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return "", ErrJobRunning
	}

	ctx, cancel := context.WithCancel(context.Background())

	old := filter.NewOldURLSet(req.OldURLs)
	if m.cfg.ExtraOldURLs != nil {
		extra, err := m.cfg.ExtraOldURLs(ctx)
		if err != nil {
			cancel()
			return "", fmt.Errorf("load history: %w", err)
		}
		old.Add(extra...)
	}

	strategy, err := m.cfg.NewStrategy(ctx)
	if err != nil {
		cancel()
		return "", fmt.Errorf("prepare search strategy: %w", err)
	}

	now := time.Now()
	job := pipeline.Job{
		ID:       uuid.New().String(),
		Keywords: keywords,
		MaxPages: req.MaxPages,
		OldURLs:  old,
		Started:  now,
	}

	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.progress.Store(&Progress{
		JobID:         job.ID,
		Status:        StatusRunning,
		TotalKeywords: len(keywords),
		Message:       "Starting scrape...",
		StartedAt:     &now,
	})

	m.logger.Info("job admitted", "job", job.ID, "keywords", len(keywords), "old_urls", old.Len(), "strategy", strategy.Name())
	go m.run(ctx, strategy, job, m.done)
	return job.ID, nil
}

func (m *Manager) run(ctx context.Context, strategy serp.Strategy, job pipeline.Job, done chan struct{}) {
	defer close(done)

	var (
		res *pipeline.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		p := pipeline.New(m.cfg.Pipeline, strategy, m.cfg.Sink, m.logger)
		res, err = p.Run(ctx, job, func(e pipeline.Event) { m.observe(job.ID, e) })
	}()

	if cerr := strategy.Close(); cerr != nil {
		m.logger.Warn("close search strategy", "job", job.ID, "error", cerr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	m.running = false
	m.cancel = nil

	now := time.Now()
	next := *m.progress.Load()
	next.FinishedAt = &now
	next.CurrentKeyword = ""

	switch {
	case errors.Is(err, context.Canceled):
		next.Status = StatusError
		next.Message = "cancelled"
		metrics.RecordJob("cancelled", 0)
		m.logger.Warn("job cancelled", "job", job.ID)
	case err != nil:
		next.Status = StatusError
		next.Message = "Error: " + err.Error()
		metrics.RecordJob(string(StatusError), 0)
		m.logger.Error("job failed", "job", job.ID, "error", err)
	default:
		m.last = res
		next.Status = StatusCompleted
		next.KeywordIndex = next.TotalKeywords
		next.Filename = res.Artifact
		next.Message = fmt.Sprintf("Completed! %d results saved", len(res.Records))
		metrics.RecordJob(string(StatusCompleted), len(res.Records))
	}
	m.progress.Store(&next)
}

// observe folds a pipeline event into a new snapshot. Counters only move
// forward, even when parallel keywords report out of order.
func (m *Manager) observe(jobID string, e pipeline.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.progress.Load()
	if cur.JobID != jobID || cur.Status != StatusRunning {
		return
	}
	next := *cur
	switch e.Kind {
	case pipeline.EventKeywordStart:
		next.CurrentKeyword = e.Keyword
		next.KeywordIndex = max(next.KeywordIndex, e.KeywordIndex+1)
	case pipeline.EventKeywordDone:
		next.KeywordIndex = max(next.KeywordIndex, e.KeywordIndex)
	}
	next.ResultsFound = max(next.ResultsFound, e.Found)
	if e.Message != "" {
		next.Message = e.Message
	}
	m.progress.Store(&next)
}

// Progress returns the latest snapshot. It never blocks.
func (m *Manager) Progress() Progress {
	return *m.progress.Load()
}

// Running reports whether a job is in flight.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Cancel stops the running job, if any. The job ends in StatusError with
// message "cancelled" and persists nothing.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Wait blocks until the current job, if any, has finished and returns the
// final snapshot.
func (m *Manager) Wait() Progress {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
	return m.Progress()
}

// Result returns the outcome of the last completed job, or nil.
func (m *Manager) Result() *pipeline.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Artifact reads a finished artifact by file name. Names that are not plain
// file names are rejected.
func (m *Manager) Artifact(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, ErrArtifactNotFound
	}
	b, err := os.ReadFile(filepath.Join(m.cfg.OutputDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return b, nil
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
