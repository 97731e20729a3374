// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/starford/sift/internal/api"
	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/board"
	"github.com/starford/sift/internal/classifier"
	"github.com/starford/sift/internal/extractor"
	"github.com/starford/sift/internal/fetcher"
	"github.com/starford/sift/internal/inbox"
	"github.com/starford/sift/internal/mcpserver"
	"github.com/starford/sift/internal/metrics"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
	"github.com/starford/sift/internal/schedule"
	"github.com/starford/sift/internal/scrape"
	"github.com/starford/sift/internal/sse"
	"github.com/starford/sift/internal/storage"
)

// components is everything a command needs, opened against one config.
type components struct {
	cfg        *Config
	logger     *slog.Logger
	lock       *flock.Flock
	provider   storage.Provider
	engine     *reconcile.Engine
	scraper    *scrape.Service
	classifier classifier.Classifier
	metrics    *metrics.Metrics
	broker     *sse.Broker
}

func (c *components) Close() {
	if c.broker != nil {
		c.broker.Close()
	}
	if err := c.provider.Close(); err != nil {
		c.logger.Warn("storage close failed", slog.String("error", err.Error()))
	}
	if err := c.lock.Unlock(); err != nil {
		c.logger.Warn("storage unlock failed", slog.String("error", err.Error()))
	}
}

// boardChanged fans a persisted mutation out to metrics and SSE clients.
func (c *components) boardChanged(kind string, b *models.Board) {
	counts := b.Counts()
	c.metrics.ObserveMutation(kind, counts)
	if c.broker != nil {
		c.broker.PublishBoardChange(sse.BoardChange{Kind: kind, Records: b.Len(), PerCategory: counts})
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// open builds the shared components. withBroker adds the SSE broker, which
// only the HTTP server needs.
func (a *application) open(ctx context.Context, withBroker bool) (*components, error) {
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.Bool("schedule_enabled", cfg.Schedule.Enabled),
		slog.Bool("classifier_enabled", cfg.Classifier.Enabled),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// One process owns the store at a time; a second serve or CLI command
	// against the same path fails here instead of racing the first.
	lock, err := storage.Lock(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	provider, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c := &components{cfg: cfg, logger: logger, lock: lock, provider: provider, metrics: metrics.New()}
	if withBroker {
		c.broker = sse.NewBroker(2 * time.Second)
	}

	store := board.NewStore(provider, cfg.Board.Categories, cfg.Board.Sentinel, logger)
	c.engine, err = reconcile.New(ctx, store, logger, reconcile.WithOnChange(c.boardChanged))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init board: %w", err)
	}
	c.metrics.SetBoardSize(c.engine.Stats().PerCategory)

	x, err := extractor.New(cfg.Extractor)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	chrome := fetcher.New(cfg.Fetcher.toFetcher(cfg.Extractor.Card), logger)
	c.scraper = scrape.NewService(chrome, x, logger,
		scrape.WithIngester(c.engine),
		scrape.WithObserver(c.metrics))

	if cfg.Classifier.Enabled {
		cls, err := classifier.NewAnthropic(cfg.Classifier.toClassifier(), logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init classifier: %w", err)
		}
		c.classifier = cls
	}
	return c, nil
}

// Run starts the HTTP server plus the inbox watcher and scheduler when they
// are enabled, and blocks until a shutdown signal or a fatal error.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := app.open(ctx, true)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.cfg, c.logger

	handler := api.NewHandler(c.engine, c.scraper, c.classifier, logger)
	scrapeLimit := api.NewLimiterPool(float64(cfg.Scrape.RatePerMinute), cfg.Scrape.Burst)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker, scrapeLimit)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.provider.Get(req.Context(), storage.KeyBoard); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"storage unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", c.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	var sched *schedule.Scheduler
	if cfg.Schedule.Enabled {
		if sched, err = schedule.New(cfg.Schedule.Cron, cfg.Schedule.URL, c.scraper, logger); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Inbox.Enabled {
		g.Go(func() error {
			return inbox.Watch(gCtx, cfg.Inbox.Path, c.engine, logger, func(outcome, name string) {
				c.broker.Publish(sse.Event{Type: "inbox." + outcome, Data: map[string]string{"file": name}})
			})
		})
	}

	if sched != nil {
		g.Go(func() error {
			return sched.Run(gCtx)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.open(ctx, false)
	if err != nil {
		return err
	}
	defer c.Close()

	c.logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.engine, c.scraper, app.version, c.logger).ServeStdio()
}

// Scrape fetches url once and, if ingest is set, merges the records into
// the board.
func Scrape(ctx context.Context, url string, ingest bool, opts ...Option) (*scrape.Result, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	c, err := app.open(ctx, false)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if ingest {
		return c.scraper.ScrapeAndIngest(ctx, url)
	}
	return c.scraper.Scrape(ctx, url)
}

// Snapshot returns the persisted board and its stats.
func Snapshot(ctx context.Context, opts ...Option) (*models.Board, reconcile.Stats, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, reconcile.Stats{}, err
	}
	c, err := app.open(ctx, false)
	if err != nil {
		return nil, reconcile.Stats{}, err
	}
	defer c.Close()
	return c.engine.Board(), c.engine.Stats(), nil
}

// Reset clears the persisted board and raw log.
func Reset(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.open(ctx, false)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.engine.Reset(ctx)
}
