// Command harvest searches a list of keywords and collects one result per
// domain into a downloadable artifact.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FranksOps/harvest/internal/config"
	"github.com/FranksOps/harvest/internal/jobs"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/FranksOps/harvest/internal/storage/backends"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

// flagKeys maps command-line flags onto config keys. Only flags defined on the
// executing command are bound, so commands may share flag names.
var flagKeys = map[string]string{
	"strategy":        "strategy",
	"max-pages":       "max_pages",
	"concurrency":     "concurrency",
	"keyword-delay":   "keyword_delay",
	"retention":       "url_retention",
	"output-dir":      "output.dir",
	"format":          "output.format",
	"history-driver":  "history.driver",
	"history-dsn":     "history.dsn",
	"exclude-history": "history.exclude",
	"headless":        "browser.headless",
	"addr":            "serve.addr",
	"metrics-port":    "metrics.port",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "harvest",
		Short:         "Harvest one search result per domain for a list of keywords",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./harvest.yaml if present)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := cfg.LogLevel()
	a.logger = newLogger(os.Stderr, level, cfg.Log.Format)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           charmlog.Level(level),
	})
	return slog.New(handler)
}

// env bundles what run and serve share: the job manager and its cleanup.
type env struct {
	manager    *jobs.Manager
	history    storage.Backend
	strategies *config.Strategies
}

func (a *app) newEnv(ctx context.Context) (*env, error) {
	cfg := a.cfg

	pc, err := cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}

	history, err := backends.NewHistory(ctx, cfg.History.Driver, cfg.HistoryDSN())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	strategies, err := cfg.NewStrategies(a.logger)
	if err != nil {
		if history != nil {
			history.Close()
		}
		return nil, err
	}

	jc := jobs.Config{
		Pipeline:    pc,
		NewStrategy: strategies.Factory(),
		Sink:        jobs.OutputSink(cfg.Output.Format, cfg.Output.Dir, history),
		OutputDir:   cfg.Output.Dir,
		Logger:      a.logger,
	}
	if history != nil && cfg.History.Exclude {
		jc.ExtraOldURLs = jobs.HistoryDomains(history)
	}

	return &env{
		manager:    jobs.NewManager(jc),
		history:    history,
		strategies: strategies,
	}, nil
}

func (e *env) Close() {
	for _, st := range e.strategies.ProxyStatus() {
		slog.Debug("proxy", "url", st.URL, "ok", st.Successes, "failed", st.Failures,
			"blocked", st.Blocks, "benched_until", st.BenchedUntil)
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			slog.Warn("close history", "error", err)
		}
	}
}

// startMetrics runs the metrics server when metrics.port is set. The returned
// stop function is always safe to call.
func (a *app) startMetrics() (func(), error) {
	if a.cfg.Metrics.Port <= 0 {
		return func() {}, nil
	}
	srv, err := metrics.Start(a.cfg.Metrics.Port, a.logger)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			a.logger.Warn("stop metrics server", "error", err)
		}
	}, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// no config needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "harvest %s\n", version)
		},
	}
}
