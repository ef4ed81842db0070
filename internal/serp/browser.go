package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/FranksOps/harvest/pkg/ratelimit"
	"github.com/FranksOps/harvest/pkg/useragent"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BrowserConfig configures the headless browser strategy.
type BrowserConfig struct {
	BaseURL string
	// NavTimeout bounds navigation until network idle. Zero means 15s.
	NavTimeout time.Duration
	// Settle is the pause after network idle before the DOM is read.
	Settle       time.Duration
	SettleJitter time.Duration
	Headless     bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath  string
	UAPool    *useragent.Pool
	ProxyPool *proxy.Pool
	Logger    *slog.Logger
}

// Browser drives a single headless Chrome process. Each keyword gets its own
// incognito browser context, so cookies and storage never leak between
// keywords.
type Browser struct {
	cfg           BrowserConfig
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser launches Chrome. Launch failures are returned here rather than on
// the first keyword.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 15 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ProxyPool != nil {
		if u := cfg.ProxyPool.Next(); u != nil {
			opts = append(opts, chromedp.ProxyServer(u.String()))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			cfg.Logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func (b *Browser) Name() string { return "browser" }

func (b *Browser) Paced() bool { return true }

// Open creates a fresh browser context and tab for keyword with a user agent
// drawn from the pool.
func (b *Browser) Open(ctx context.Context, keyword string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())

	id := b.cfg.UAPool.Random()
	override := emulation.SetUserAgentOverride(id.UserAgent).WithAcceptLanguage(id.AcceptLanguage)
	if id.Platform != "" {
		override = override.WithPlatform(id.Platform)
	}
	if err := chromedp.Run(tabCtx, override); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser context: %w", err)
	}

	return &browserSession{
		b:       b,
		keyword: keyword,
		tabCtx:  tabCtx,
		cancel:  cancel,
	}, nil
}

// Close terminates the browser process.
func (b *Browser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

type browserSession struct {
	b       *Browser
	keyword string
	tabCtx  context.Context
	cancel  context.CancelFunc
}

func (s *browserSession) Fetch(ctx context.Context, index int) (*Page, error) {
	cfg := s.b.cfg
	target := SearchURL(cfg.BaseURL, s.keyword, index)

	navCtx, navCancel := context.WithTimeout(s.tabCtx, cfg.NavTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	if err := chromedp.Run(navCtx, navigateUntilIdle(target)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrFetchTimeout, target)
		}
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}

	if err := ratelimit.Pause(ctx, cfg.Settle, cfg.SettleJitter); err != nil {
		return nil, err
	}

	readCtx, readCancel := context.WithTimeout(s.tabCtx, cfg.NavTimeout)
	defer readCancel()
	stopRead := context.AfterFunc(ctx, readCancel)
	defer stopRead()

	var html, location string
	if err := chromedp.Run(readCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if location == "" {
		location = target
	}

	links, err := extract.Anchors(location, []byte(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	cfg.Logger.Debug("rendered results page", "keyword", s.keyword, "page", index, "links", len(links))
	return &Page{
		Keyword: s.keyword,
		Index:   index,
		URL:     target,
		Content: html,
		Links:   links,
	}, nil
}

func (s *browserSession) Close() error {
	s.cancel()
	return nil
}

// navigateUntilIdle navigates and then waits for the page's networkIdle
// lifecycle event.
func navigateUntilIdle(target string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		idle := make(chan struct{}, 1)
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chromedp.ListenTarget(lctx, func(ev any) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok {
				return
			}
			switch e.Name {
			case "init":
				// a new document started loading; drop any idle signal from
				// the previous one
				select {
				case <-idle:
				default:
				}
			case "networkIdle":
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})

		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}
		if err := chromedp.Navigate(target).Do(ctx); err != nil {
			return err
		}

		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
