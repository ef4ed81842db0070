// Package config loads harvest settings from defaults, an optional YAML file,
// HARVEST_* environment variables and bound command-line flags, in rising
// order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/harvest/internal/bypass"
	"github.com/FranksOps/harvest/internal/dedupe"
	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/internal/filter"
	"github.com/FranksOps/harvest/internal/fingerprint"
	"github.com/FranksOps/harvest/internal/jobs"
	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/FranksOps/harvest/internal/scraper"
	"github.com/FranksOps/harvest/internal/serp"
	"github.com/FranksOps/harvest/internal/storage/backends"
	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/FranksOps/harvest/pkg/ratelimit"
	"github.com/FranksOps/harvest/pkg/useragent"
)

// EnvPrefix prefixes every environment override, e.g. HARVEST_MAX_PAGES or
// HARVEST_API_KEY for api.key.
const EnvPrefix = "HARVEST"

// Search strategies.
const (
	StrategyBrowser = "browser"
	StrategyHTTP    = "http"
	StrategyAPI     = "api"
	StrategyTavily  = "tavily"
)

// DefaultSQLitePath is used when history.driver is sqlite and no dsn is set.
const DefaultSQLitePath = "harvest_history.db"

// Config is the resolved configuration.
type Config struct {
	Strategy       string        `mapstructure:"strategy"`
	MaxPages       int           `mapstructure:"max_pages"`
	Concurrency    int           `mapstructure:"concurrency"`
	KeywordDelay   time.Duration `mapstructure:"keyword_delay"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	SettleJitter   time.Duration `mapstructure:"settle_jitter"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	TitleMax       int           `mapstructure:"title_max"`
	URLRetention   string        `mapstructure:"url_retention"`
	ExcludeDomains []string      `mapstructure:"exclude_domains"`
	BlockPhrases   []string      `mapstructure:"block_phrases"`

	Engine  EngineConfig  `mapstructure:"engine"`
	Output  OutputConfig  `mapstructure:"output"`
	History HistoryConfig `mapstructure:"history"`
	API     APIConfig     `mapstructure:"api"`
	Tavily  TavilyConfig  `mapstructure:"tavily"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Browser BrowserConfig `mapstructure:"browser"`
	Serve   ServeConfig   `mapstructure:"serve"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

type EngineConfig struct {
	BaseURL     string   `mapstructure:"base_url"`
	RejectHosts []string `mapstructure:"reject_hosts"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Exclude folds every historical domain into each job's old-URL set.
	Exclude bool `mapstructure:"exclude"`
}

type APIConfig struct {
	Key        string `mapstructure:"key"`
	CX         string `mapstructure:"cx"`
	BaseURL    string `mapstructure:"base_url"`
	MaxResults int    `mapstructure:"max_results"`
}

type TavilyConfig struct {
	Key     string `mapstructure:"key"`
	BaseURL string `mapstructure:"base_url"`
}

type HTTPConfig struct {
	Fingerprint string  `mapstructure:"fingerprint"`
	ProxyFile   string  `mapstructure:"proxy_file"`
	RPS         float64 `mapstructure:"rps"`
	Jitter      float64 `mapstructure:"jitter"`
}

type BrowserConfig struct {
	ExecPath string `mapstructure:"exec_path"`
	Headless bool   `mapstructure:"headless"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	// Port 0 disables the metrics server.
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("strategy", StrategyBrowser)
	v.SetDefault("max_pages", 2)
	v.SetDefault("concurrency", 1)
	v.SetDefault("keyword_delay", 2*time.Second)
	v.SetDefault("settle_delay", 2*time.Second)
	v.SetDefault("settle_jitter", time.Duration(0))
	v.SetDefault("nav_timeout", 15*time.Second)
	v.SetDefault("title_max", extract.DefaultTitleMax)
	v.SetDefault("url_retention", string(dedupe.RetainBase))
	v.SetDefault("exclude_domains", filter.DefaultExcludedDomains)
	v.SetDefault("block_phrases", []string(bypass.DefaultPhrases))

	v.SetDefault("engine.base_url", serp.DefaultBaseURL)
	v.SetDefault("engine.reject_hosts", extract.DefaultRejectHosts)

	v.SetDefault("output.dir", "results")
	v.SetDefault("output.format", backends.FormatCSV)

	v.SetDefault("history.driver", backends.DriverNone)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.exclude", false)

	v.SetDefault("api.key", "")
	v.SetDefault("api.cx", "")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.max_results", 10)
	v.SetDefault("tavily.key", "")
	v.SetDefault("tavily.base_url", "")

	v.SetDefault("http.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("http.proxy_file", "")
	v.SetDefault("http.rps", 0.5)
	v.SetDefault("http.jitter", 0.3)

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)

	v.SetDefault("serve.addr", ":5000")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves the configuration held by v. When file is empty an optional
// harvest.yaml in the working directory is read if present.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("harvest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown enumerations, out-of-range numbers and missing API
// credentials. Credential errors wrap serp.ErrMissingCredentials.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyBrowser, StrategyHTTP:
	case StrategyAPI:
		if c.API.Key == "" || c.API.CX == "" {
			return fmt.Errorf("%w: strategy api needs api.key and api.cx", serp.ErrMissingCredentials)
		}
	case StrategyTavily:
		if c.Tavily.Key == "" {
			return fmt.Errorf("%w: strategy tavily needs tavily.key", serp.ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("unknown strategy %q (want browser, http, api or tavily)", c.Strategy)
	}

	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1, got %d", c.MaxPages)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.KeywordDelay < 0 || c.SettleDelay < 0 || c.SettleJitter < 0 || c.NavTimeout < 0 {
		return errors.New("delays and timeouts must not be negative")
	}
	if _, err := dedupe.ParseRetention(c.URLRetention); err != nil {
		return err
	}
	if _, err := backends.ArtifactName(c.Output.Format, time.Time{}, ""); err != nil {
		return err
	}
	switch c.History.Driver {
	case "", backends.DriverNone, backends.DriverSQLite:
	case backends.DriverPostgres:
		if c.History.DSN == "" {
			return errors.New("history.driver postgres needs history.dsn")
		}
	default:
		return fmt.Errorf("unknown history driver %q", c.History.Driver)
	}
	if c.History.Exclude && !c.HistoryEnabled() {
		return errors.New("history.exclude needs a history driver")
	}
	if _, err := fingerprint.ParseProfile(c.HTTP.Fingerprint); err != nil {
		return err
	}
	if c.HTTP.Jitter < 0 || c.HTTP.Jitter > 1 {
		return fmt.Errorf("http.jitter must be within [0, 1], got %v", c.HTTP.Jitter)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// HistoryEnabled reports whether a history database is configured.
func (c *Config) HistoryEnabled() bool {
	return c.History.Driver != "" && c.History.Driver != backends.DriverNone
}

// HistoryDSN returns the dsn, falling back to DefaultSQLitePath for sqlite.
func (c *Config) HistoryDSN() string {
	if c.History.DSN == "" && c.History.Driver == backends.DriverSQLite {
		return DefaultSQLitePath
	}
	return c.History.DSN
}

// PipelineConfig maps the settings onto the orchestrator's config.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	retention, err := dedupe.ParseRetention(c.URLRetention)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		MaxPages:     c.MaxPages,
		Concurrency:  c.Concurrency,
		KeywordDelay: c.KeywordDelay,
		Retention:    retention,
		Extract: extract.Config{
			RejectHosts: c.rejectHosts(),
			Exclusions:  filter.NewExclusionSet(c.ExcludeDomains),
			TitleMax:    c.TitleMax,
		},
		BlockPhrases: bypass.Phrases(c.BlockPhrases),
	}, nil
}

// rejectHosts is engine.reject_hosts plus the host of engine.base_url, so a
// non-default engine never yields its own links.
func (c *Config) rejectHosts() []string {
	hosts := append([]string(nil), c.Engine.RejectHosts...)
	u, err := url.Parse(c.Engine.BaseURL)
	if err != nil || u.Hostname() == "" {
		return hosts
	}
	own := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" && strings.Contains(own, h) {
			return hosts
		}
	}
	return append(hosts, own)
}

// Strategies builds the search strategy for each job. Pools and the rate
// limiter are shared across jobs.
type Strategies struct {
	cfg     *Config
	logger  *slog.Logger
	uas     *useragent.Pool
	proxies *proxy.Pool
	limiter *ratelimit.Limiter
}

// NewStrategies prepares the shared transport state for c.Strategy.
func (c *Config) NewStrategies(logger *slog.Logger) (*Strategies, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Strategies{
		cfg:     c,
		logger:  logger,
		uas:     useragent.NewPool(nil),
		limiter: ratelimit.NewLimiter(c.HTTP.RPS, c.HTTP.Jitter),
	}
	if c.HTTP.ProxyFile != "" {
		s.proxies = proxy.NewPool(proxy.Config{})
		if err := s.proxies.LoadFile(c.HTTP.ProxyFile); err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		logger.Info("loaded proxies", "count", s.proxies.Len())
	}
	return s, nil
}

// Factory returns the per-job strategy constructor.
func (s *Strategies) Factory() jobs.StrategyFactory {
	return func(ctx context.Context) (serp.Strategy, error) {
		return s.build()
	}
}

func (s *Strategies) build() (serp.Strategy, error) {
	c := s.cfg
	switch c.Strategy {
	case StrategyBrowser:
		return serp.NewBrowser(serp.BrowserConfig{
			BaseURL:      c.Engine.BaseURL,
			NavTimeout:   c.NavTimeout,
			Settle:       c.SettleDelay,
			SettleJitter: c.SettleJitter,
			Headless:     c.Browser.Headless,
			ExecPath:     c.Browser.ExecPath,
			UAPool:       s.uas,
			ProxyPool:    s.proxies,
			Logger:       s.logger,
		})
	case StrategyHTTP:
		profile, err := fingerprint.ParseProfile(c.HTTP.Fingerprint)
		if err != nil {
			return nil, err
		}
		f, err := scraper.NewFetcher(scraper.FetchConfig{
			Timeout:      c.NavTimeout,
			MaxRedirects: 5,
			UseCookieJar: true,
			ProxyPool:    s.proxies,
			UAPool:       s.uas,
			Fingerprint:  profile,
			Limiter:      s.limiter,
			Detectors:    bypass.Detectors(c.BlockPhrases),
		})
		if err != nil {
			return nil, err
		}
		return serp.NewGoogleScrape(c.Engine.BaseURL, f, s.logger), nil
	case StrategyAPI:
		return serp.NewCustomSearch(serp.APIConfig{
			APIKey:     c.API.Key,
			CX:         c.API.CX,
			BaseURL:    c.API.BaseURL,
			Timeout:    c.NavTimeout,
			MaxResults: c.API.MaxResults,
			Limiter:    s.limiter,
			Logger:     s.logger,
		})
	case StrategyTavily:
		return serp.NewTavily(serp.APIConfig{
			APIKey:     c.Tavily.Key,
			BaseURL:    c.Tavily.BaseURL,
			Timeout:    c.NavTimeout,
			MaxResults: c.API.MaxResults,
			Limiter:    s.limiter,
			Logger:     s.logger,
		})
	}
	return nil, fmt.Errorf("unknown strategy %q", c.Strategy)
}

// ProxyStatus reports every loaded proxy, or nil when none are configured.
func (s *Strategies) ProxyStatus() []proxy.Status {
	if s.proxies == nil {
		return nil
	}
	return s.proxies.Snapshot()
}
