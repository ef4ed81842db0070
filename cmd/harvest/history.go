package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/internal/storage/backends"
)

type historyOptions struct {
	jobID  string
	domain string
	since  time.Duration
	limit  int
	json   bool
}

func newHistoryCmd(a *app) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List records kept in the run history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.history(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.jobID, "job", "", "only records from this job id")
	f.StringVar(&opts.domain, "domain", "", "only records for this domain")
	f.DurationVar(&opts.since, "since", 0, "only records newer than this, e.g. 72h")
	f.IntVar(&opts.limit, "limit", 100, "maximum records to list (0 lists all)")
	f.BoolVar(&opts.json, "json", false, "print records as JSON lines")
	f.String("history-driver", "none", "run history database: sqlite or postgres")
	f.String("history-dsn", "", "run history dsn or sqlite path")
	return cmd
}

func (a *app) history(ctx context.Context, opts *historyOptions) error {
	if !a.cfg.HistoryEnabled() {
		return errors.New("no history database configured (set --history-driver or history.driver)")
	}
	db, err := backends.NewHistory(ctx, a.cfg.History.Driver, a.cfg.HistoryDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	filter := storage.Filter{JobID: opts.jobID, Domain: opts.domain, Limit: opts.limit}
	if opts.since > 0 {
		since := time.Now().Add(-opts.since)
		filter.Since = &since
	}

	records, err := db.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	if opts.json {
		enc := json.NewEncoder(a.out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKEYWORD\tDOMAIN\tURL\tTITLE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.Keyword, r.Domain, r.URL, r.Title)
	}
	return tw.Flush()
}
