// Package fetcher renders dynamic pages in a headless Chrome and returns
// their final HTML after lazy-loaded content has settled.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/starford/sift/internal/apperr"
)

// Config controls browser launch and the readiness waits of one fetch.
type Config struct {
	NavigationTimeout time.Duration
	MarkerTimeout     time.Duration
	ScrollInterval    time.Duration
	SettleDelay       time.Duration
	MaxScrollRounds   int
	NoSandbox         bool
	ChromePath        string
	// CardSelector is the marker whose presence means content has rendered.
	CardSelector string
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 60 * time.Second,
		MarkerTimeout:     10 * time.Second,
		ScrollInterval:    500 * time.Millisecond,
		SettleDelay:       2 * time.Second,
		MaxScrollRounds:   50,
		CardSelector:      ".message-card",
	}
}

// Chrome fetches pages with a fresh headless browser per call.
type Chrome struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Chrome fetcher.
func New(cfg Config, logger *slog.Logger) *Chrome {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chrome{cfg: cfg, logger: logger}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if c.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ChromePath))
	}
	return opts
}

// Fetch loads url and returns document.documentElement.outerHTML once the
// page has stopped growing. The browser and its temporary profile are torn
// down before Fetch returns.
func (c *Chrome) Fetch(ctx context.Context, url string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	// start the browser so lifecycle events can be observed from the first navigation
	if err := chromedp.Run(tabCtx); err != nil {
		return "", fmt.Errorf("%w: launch browser: %w", apperr.ErrFetch, err)
	}

	idle := make(chan struct{})
	var once sync.Once
	var tracker idleTracker
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if tracker.observe(ev) {
			once.Do(func() { close(idle) })
		}
	})

	start := time.Now()
	navCtx, cancelNav := context.WithTimeout(tabCtx, c.cfg.NavigationTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
	); err != nil {
		return "", fmt.Errorf("%w: navigate %s: %w", apperr.ErrFetch, url, err)
	}

	select {
	case <-idle:
	case <-navCtx.Done():
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", apperr.ErrFetch, ctx.Err())
		}
		c.logger.Warn("fetcher: network never went idle", slog.String("url", url))
	}

	if c.cfg.CardSelector != "" {
		markerCtx, cancelMarker := context.WithTimeout(tabCtx, c.cfg.MarkerTimeout)
		err := chromedp.Run(markerCtx, chromedp.WaitReady(c.cfg.CardSelector, chromedp.ByQuery))
		cancelMarker()
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %w", apperr.ErrFetch, ctx.Err())
			}
			c.logger.Warn("fetcher: content marker not found",
				slog.String("url", url),
				slog.String("selector", c.cfg.CardSelector),
				slog.String("error", err.Error()))
		}
	}

	rounds, err := scrollUntilStable(tabCtx, browserPage{}, c.cfg.ScrollInterval, c.cfg.MaxScrollRounds)
	if err != nil {
		return "", fmt.Errorf("%w: scroll: %w", apperr.ErrFetch, err)
	}
	if err := sleep(tabCtx, c.cfg.SettleDelay); err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrFetch, err)
	}

	var doc string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &doc, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("%w: snapshot: %w", apperr.ErrFetch, err)
	}
	c.logger.Info("fetcher: page rendered",
		slog.String("url", url),
		slog.Int("scroll_rounds", rounds),
		slog.Int("bytes", len(doc)),
		slog.Duration("took", time.Since(start)))
	return doc, nil
}

// idleTracker reports networkIdle only for the document this fetch
// navigated to. Idle events from subframes or from the blank page the tab
// opened with carry another frame or loader and are ignored.
type idleTracker struct {
	frame  cdp.FrameID
	loader cdp.LoaderID
}

func (t *idleTracker) observe(ev any) bool {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			t.frame, t.loader = e.Frame.ID, e.Frame.LoaderID
		}
	case *page.EventLifecycleEvent:
		return e.Name == "networkIdle" && t.frame != "" &&
			e.FrameID == t.frame && e.LoaderID == t.loader
	}
	return false
}

// scroller is the slice of a page the scroll loop drives.
type scroller interface {
	Height(ctx context.Context) (int64, error)
	ScrollToBottom(ctx context.Context) error
}

type browserPage struct{}

func (p browserPage) Height(ctx context.Context) (int64, error) {
	var h int64
	err := chromedp.Run(ctx, chromedp.Evaluate(`document.body.scrollHeight`, &h))
	return h, err
}

func (p browserPage) ScrollToBottom(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

// scrollUntilStable scrolls to the bottom, waits interval, and repeats until
// the page height stops growing or maxRounds scrolls have been made. It
// returns the number of scrolls performed.
func scrollUntilStable(ctx context.Context, s scroller, interval time.Duration, maxRounds int) (int, error) {
	last, err := s.Height(ctx)
	if err != nil {
		return 0, err
	}
	rounds := 0
	for maxRounds <= 0 || rounds < maxRounds {
		if err := s.ScrollToBottom(ctx); err != nil {
			return rounds, err
		}
		rounds++
		if err := sleep(ctx, interval); err != nil {
			return rounds, err
		}
		h, err := s.Height(ctx)
		if err != nil {
			return rounds, err
		}
		if h <= last {
			return rounds, nil
		}
		last = h
	}
	return rounds, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
