package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/harvest/internal/input"
	"github.com/FranksOps/harvest/internal/jobs"
	"github.com/FranksOps/harvest/internal/report"
)

type runOptions struct {
	keywordsFile string
	oldURLsFile  string
	summary      string
	poll         time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [keyword...]",
		Short: "Harvest results for keywords given as arguments or in a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.keywordsFile, "keywords-file", "k", "", "keywords file (.txt, .csv or .xlsx with a Keywords column)")
	f.StringVar(&opts.oldURLsFile, "old-urls-file", "", "file of URLs or domains from an earlier run to leave out")
	f.StringVar(&opts.summary, "summary", "text", "summary printed at the end: text, json, html or none")
	f.DurationVar(&opts.poll, "poll", time.Second, "progress log interval")
	addJobFlags(cmd)
	return cmd
}

// addJobFlags defines the flags run and serve share.
func addJobFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("strategy", "browser", "search strategy: browser, http, api or tavily")
	f.Int("max-pages", 2, "result pages per keyword")
	f.Int("concurrency", 1, "keywords searched at once")
	f.Duration("keyword-delay", 2*time.Second, "pause between keywords")
	f.String("retention", "base", "url kept per domain: base or full")
	f.String("output-dir", "results", "artifact directory")
	f.String("format", "csv", "artifact format: csv, json or xlsx")
	f.String("history-driver", "none", "run history database: none, sqlite or postgres")
	f.String("history-dsn", "", "run history dsn or sqlite path")
	f.Bool("exclude-history", false, "leave out every domain already in the run history")
	f.Bool("headless", true, "run Chrome headless")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
}

func (a *app) run(ctx context.Context, opts *runOptions, args []string) error {
	keywords := input.KeywordsFromText(joinLines(args))
	if opts.keywordsFile != "" {
		fromFile, err := readListFile(opts.keywordsFile, input.KeywordsFromFile)
		if err != nil {
			return err
		}
		keywords = append(keywords, fromFile...)
	}

	var oldURLs []string
	if opts.oldURLsFile != "" {
		var err error
		if oldURLs, err = readListFile(opts.oldURLsFile, input.OldURLsFromFile); err != nil {
			return err
		}
	}

	switch opts.summary {
	case "text", "json", "html", "none":
	default:
		return fmt.Errorf("unknown summary format %q", opts.summary)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := a.newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	stopMetrics, err := a.startMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	id, err := e.manager.Start(jobs.Request{Keywords: keywords, OldURLs: oldURLs})
	if err != nil {
		return err
	}
	a.logger.Info("harvest started", "job", id, "strategy", a.cfg.Strategy, "keywords", len(keywords))

	final := a.watch(ctx, e.manager, opts.poll)
	if final.Status != jobs.StatusCompleted {
		return errors.New(final.Message)
	}
	a.logger.Info(final.Message, "artifact", final.Filename)

	res := e.manager.Result()
	if res == nil || opts.summary == "none" {
		return nil
	}
	summary := report.FromResult(res)
	switch opts.summary {
	case "json":
		return report.WriteJSON(a.out, summary)
	case "html":
		return report.WriteHTML(a.out, summary)
	default:
		return report.WriteText(a.out, summary)
	}
}

// watch logs progress changes until the job ends. An interrupt cancels the
// job and waits for it to wind down.
func (a *app) watch(ctx context.Context, m *jobs.Manager, every time.Duration) jobs.Progress {
	done := make(chan jobs.Progress, 1)
	go func() { done <- m.Wait() }()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last jobs.Progress
	for {
		select {
		case p := <-done:
			return p
		case <-ctx.Done():
			a.logger.Warn("interrupted, cancelling job")
			m.Cancel()
			return <-done
		case <-ticker.C:
			p := m.Progress()
			if p.Message == last.Message && p.ResultsFound == last.ResultsFound {
				continue
			}
			last = p
			a.logger.Info(p.Message,
				"keyword", p.CurrentKeyword,
				"progress", fmt.Sprintf("%d/%d", p.KeywordIndex, p.TotalKeywords),
				"found", p.ResultsFound,
			)
		}
	}
}

func joinLines(args []string) string {
	return strings.Join(args, "\n")
}

func readListFile(path string, parse func(string, io.Reader) ([]string, error)) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	values, err := parse(filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}
