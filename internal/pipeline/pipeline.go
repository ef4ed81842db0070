// Package pipeline runs a harvest job: it walks keywords and result pages
// through a search strategy, filters and deduplicates the links, drops
// previously known domains and hands the final records to a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FranksOps/harvest/internal/bypass"
	"github.com/FranksOps/harvest/internal/dedupe"
	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/internal/filter"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/serp"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/pkg/ratelimit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoKeywords is returned when a job has nothing to search for.
var ErrNoKeywords = errors.New("no keywords")

// Config tunes the keyword and page loop.
type Config struct {
	// MaxPages is the default number of pages per keyword. Zero means 2.
	MaxPages int
	// Concurrency is the number of keywords searched at once. Zero means 1.
	Concurrency int
	// KeywordDelay is the pause between keywords for paced strategies.
	KeywordDelay time.Duration
	// Retention selects the URL kept by the deduplicator.
	Retention dedupe.Retention
	Extract   extract.Config
	// BlockPhrases flag challenge pages. Nil means bypass.DefaultPhrases.
	BlockPhrases bypass.Phrases
}

// Job is one harvest request.
type Job struct {
	ID       string
	Keywords []string
	// MaxPages overrides Config.MaxPages when positive.
	MaxPages int
	// OldURLs suppresses domains delivered by an earlier run. May be nil.
	OldURLs *filter.OldURLSet
	Started time.Time
}

// Sink opens the backend that receives a job's final records and names the
// artifact it produces.
type Sink interface {
	Open(ctx context.Context, job Job) (storage.Backend, string, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, job Job) (storage.Backend, string, error)

func (f SinkFunc) Open(ctx context.Context, job Job) (storage.Backend, string, error) {
	return f(ctx, job)
}

// StopReason says why paging ended for a keyword.
type StopReason string

const (
	StopMaxPages StopReason = "max_pages"
	StopLast     StopReason = "last_page"
	StopEmpty    StopReason = "no_results"
	StopBlocked  StopReason = "blocked"
	StopTimeout  StopReason = "timeout"
	StopError    StopReason = "error"
)

// KeywordStat summarizes one keyword.
type KeywordStat struct {
	Keyword string     `json:"keyword"`
	Pages   int        `json:"pages"`
	Found   int        `json:"found"`
	Stop    StopReason `json:"stop"`
	Err     string     `json:"error,omitempty"`
}

// Result is the outcome of a completed job.
type Result struct {
	JobID    string
	Artifact string
	Records  []*storage.Record
	Keywords []KeywordStat
	// Skipped counts rejected links by reason.
	Skipped map[extract.Reason]int
	// RawFound is the number of accepted links before deduplication.
	RawFound   int
	Unique     int
	RemovedOld int
	Started    time.Time
	Finished   time.Time
}

// EventKind labels a progress Event.
type EventKind string

const (
	EventKeywordStart EventKind = "keyword_start"
	EventPage         EventKind = "page"
	EventKeywordDone  EventKind = "keyword_done"
	EventFinalizing   EventKind = "finalizing"
)

// Event is emitted as the job advances. Found is the running pre-dedup total
// and never decreases.
type Event struct {
	Kind         EventKind
	KeywordIndex int
	Total        int
	Keyword      string
	Page         int
	Found        int
	Message      string
}

// Reporter receives progress events. With Concurrency above 1 it is called
// from several goroutines.
type Reporter func(Event)

// Pipeline drives one strategy. It is safe to reuse across sequential jobs.
type Pipeline struct {
	cfg       Config
	strategy  serp.Strategy
	extractor *extract.Extractor
	sink      Sink
	logger    *slog.Logger
}

// New creates a Pipeline. sink may be nil, in which case nothing is persisted.
func New(cfg Config, strategy serp.Strategy, sink Sink, logger *slog.Logger) *Pipeline {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Retention == "" {
		cfg.Retention = dedupe.RetainBase
	}
	if cfg.BlockPhrases == nil {
		cfg.BlockPhrases = bypass.DefaultPhrases
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		strategy:  strategy,
		extractor: extract.New(cfg.Extract),
		sink:      sink,
		logger:    logger,
	}
}

// Run executes job to completion. Per-keyword failures are recorded in the
// result; only cancellation, a sink failure or a panic return an error, and
// in that case nothing is persisted.
func (p *Pipeline) Run(ctx context.Context, job Job, report Reporter) (*Result, error) {
	if len(job.Keywords) == 0 {
		return nil, ErrNoKeywords
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Started.IsZero() {
		job.Started = time.Now()
	}
	if report == nil {
		report = func(Event) {}
	}
	maxPages := p.cfg.MaxPages
	if job.MaxPages > 0 {
		maxPages = job.MaxPages
	}

	logger := p.logger.With("job", job.ID, "strategy", p.strategy.Name())
	logger.Info("job started", "keywords", len(job.Keywords), "max_pages", maxPages, "concurrency", p.cfg.Concurrency)

	h := &harvest{
		p:        p,
		job:      job,
		maxPages: maxPages,
		report:   report,
		logger:   logger,
		results:  make([][]extract.SearchResult, len(job.Keywords)),
		stats:    make([]KeywordStat, len(job.Keywords)),
		skipped:  make(map[extract.Reason]int),
	}

	var err error
	if p.cfg.Concurrency == 1 {
		err = h.sequential(ctx)
	} else {
		err = h.parallel(ctx)
	}
	if err != nil {
		logger.Warn("job aborted", "error", err)
		return nil, err
	}

	report(Event{Kind: EventFinalizing, Total: len(job.Keywords), Found: int(h.found.Load()), Message: "deduplicating results"})
	return h.finish(ctx)
}

// harvest is the state of one Run.
type harvest struct {
	p        *Pipeline
	job      Job
	maxPages int
	report   Reporter
	logger   *slog.Logger

	found   atomic.Int64
	done    atomic.Int64
	results [][]extract.SearchResult
	stats   []KeywordStat

	mu      sync.Mutex
	skipped map[extract.Reason]int
}

func (h *harvest) sequential(ctx context.Context) error {
	paced := serp.IsPaced(h.p.strategy)
	for i, kw := range h.job.Keywords {
		if i > 0 && paced {
			if err := ratelimit.Pause(ctx, h.p.cfg.KeywordDelay, 0); err != nil {
				return err
			}
		}
		if err := h.keyword(ctx, i, kw); err != nil {
			return err
		}
	}
	return nil
}

func (h *harvest) parallel(ctx context.Context) error {
	paced := serp.IsPaced(h.p.strategy)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.p.cfg.Concurrency)
	for i, kw := range h.job.Keywords {
		g.Go(func() error {
			if i >= h.p.cfg.Concurrency && paced {
				if err := ratelimit.Pause(gctx, h.p.cfg.KeywordDelay, 0); err != nil {
					return err
				}
			}
			return h.keyword(gctx, i, kw)
		})
	}
	return g.Wait()
}

// keyword pages through one keyword. The returned error is job-level; every
// strategy failure is contained in the keyword's stat.
func (h *harvest) keyword(ctx context.Context, idx int, kw string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while searching %q: %v", kw, r)
		}
	}()

	total := len(h.job.Keywords)
	stat := KeywordStat{Keyword: kw}
	logger := h.logger.With("keyword", kw)

	h.report(Event{
		Kind:         EventKeywordStart,
		KeywordIndex: idx,
		Total:        total,
		Keyword:      kw,
		Found:        int(h.found.Load()),
		Message:      fmt.Sprintf("Searching %q (%d/%d)", kw, idx+1, total),
	})

	results, err := h.pages(ctx, kw, &stat, logger)
	if err != nil {
		return err
	}

	h.results[idx] = results
	h.stats[idx] = stat
	done := h.done.Add(1)

	msg := fmt.Sprintf("Finished %q: %d found", kw, stat.Found)
	if stat.Err != "" {
		msg = fmt.Sprintf("Stopped %q: %s", kw, stat.Err)
	}
	h.report(Event{
		Kind:         EventKeywordDone,
		KeywordIndex: int(done),
		Total:        total,
		Keyword:      kw,
		Found:        int(h.found.Load()),
		Message:      msg,
	})
	logger.Info("keyword done", "pages", stat.Pages, "found", stat.Found, "stop", stat.Stop)
	return nil
}

func (h *harvest) pages(ctx context.Context, kw string, stat *KeywordStat, logger *slog.Logger) ([]extract.SearchResult, error) {
	name := h.p.strategy.Name()

	sess, err := h.p.strategy.Open(ctx, kw)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stat.Stop, stat.Err = classify(err), err.Error()
		logger.Warn("open session failed", "error", err)
		return nil, nil
	}
	defer sess.Close()

	var results []extract.SearchResult
	for page := 0; page < h.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		pg, err := sess.Fetch(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			stat.Stop, stat.Err = classify(err), err.Error()
			metrics.RecordPage(name, pageOutcome(stat.Stop), time.Since(start))
			logger.Warn("page fetch failed", "page", page, "error", err)
			return results, nil
		}
		stat.Pages++

		if source, blocked := h.blocked(pg); blocked {
			stat.Stop, stat.Err = StopBlocked, fmt.Sprintf("blocked on page %d (%s)", page+1, source)
			metrics.RecordPage(name, metrics.PageBlocked, time.Since(start))
			logger.Warn("blocked by search engine", "page", page, "source", source)
			return results, nil
		}

		accepted, outcomes := h.p.extractor.Extract(pg.Links)
		h.count(outcomes)
		for i := range accepted {
			accepted[i].Keyword = kw
		}
		results = append(results, accepted...)
		stat.Found += len(accepted)
		found := h.found.Add(int64(len(accepted)))

		h.report(Event{
			Kind:    EventPage,
			Total:   len(h.job.Keywords),
			Keyword: kw,
			Page:    page,
			Found:   int(found),
			Message: fmt.Sprintf("Page %d of %q: %d results", page+1, kw, len(accepted)),
		})
		logger.Debug("page processed", "page", page, "links", len(pg.Links), "accepted", len(accepted))

		if len(accepted) == 0 {
			stat.Stop = StopEmpty
			metrics.RecordPage(name, metrics.PageEmpty, time.Since(start))
			return results, nil
		}
		metrics.RecordPage(name, metrics.PageOK, time.Since(start))
		if pg.Last {
			stat.Stop = StopLast
			return results, nil
		}
	}
	stat.Stop = StopMaxPages
	return results, nil
}

func (h *harvest) blocked(pg *serp.Page) (string, bool) {
	if pg.Blocked {
		return pg.BlockSource, true
	}
	if pg.Authoritative {
		return "", false
	}
	if _, ok := h.p.cfg.BlockPhrases.Match(pg.Content); ok {
		return bypass.SourceSearchChallenge, true
	}
	return "", false
}

func (h *harvest) count(outcomes []extract.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range outcomes {
		metrics.RecordLink(string(o.Reason))
		if !o.Accepted() {
			h.skipped[o.Reason]++
		}
	}
}

// finish deduplicates in keyword order, drops old domains and persists.
func (h *harvest) finish(ctx context.Context) (*Result, error) {
	var all []extract.SearchResult
	for _, rs := range h.results {
		all = append(all, rs...)
	}
	set := dedupe.Dedupe(all, h.p.cfg.Retention)

	res := &Result{
		JobID:    h.job.ID,
		Keywords: h.stats,
		Skipped:  h.skipped,
		RawFound: len(all),
		Unique:   set.Len(),
		Started:  h.job.Started,
	}

	now := time.Now().UTC()
	for _, r := range set.Results() {
		if h.job.OldURLs.Contains(r.URL) {
			res.RemovedOld++
			continue
		}
		res.Records = append(res.Records, &storage.Record{
			ID:        uuid.New().String(),
			JobID:     h.job.ID,
			Keyword:   r.Keyword,
			Domain:    r.Domain,
			URL:       r.URL,
			Title:     r.Title,
			CreatedAt: now,
		})
	}

	if h.p.sink != nil {
		name, err := h.persist(ctx, res.Records)
		if err != nil {
			return nil, err
		}
		res.Artifact = name
	}

	res.Finished = time.Now()
	h.logger.Info("job completed",
		"raw", res.RawFound,
		"unique", res.Unique,
		"removed_old", res.RemovedOld,
		"written", len(res.Records),
		"artifact", res.Artifact,
		"duration", res.Finished.Sub(res.Started),
	)
	return res, nil
}

func (h *harvest) persist(ctx context.Context, records []*storage.Record) (string, error) {
	backend, name, err := h.p.sink.Open(ctx, h.job)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	for _, r := range records {
		if err := backend.Save(ctx, r); err != nil {
			if aerr := storage.Abort(backend); aerr != nil {
				h.logger.Warn("discard output failed", "error", aerr)
			}
			return "", fmt.Errorf("save %s: %w", r.Domain, err)
		}
	}
	if err := backend.Close(); err != nil {
		return "", fmt.Errorf("close output: %w", err)
	}
	return name, nil
}

func classify(err error) StopReason {
	switch {
	case errors.Is(err, serp.ErrFetchTimeout):
		return StopTimeout
	case errors.Is(err, serp.ErrBlocked):
		return StopBlocked
	}
	return StopError
}

func pageOutcome(r StopReason) string {
	switch r {
	case StopTimeout:
		return metrics.PageTimeout
	case StopBlocked:
		return metrics.PageBlocked
	}
	return metrics.PageError
}
