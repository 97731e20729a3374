// Package schedule runs scrape-and-ingest on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	rcron "github.com/robfig/cron/v3"

	"github.com/starford/sift/internal/scrape"
)

// Runner performs one scrape and ingest of url.
type Runner interface {
	ScrapeAndIngest(ctx context.Context, url string) (*scrape.Result, error)
}

// Status is the outcome of the most recent run.
type Status struct {
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

// Scheduler triggers Runner on a standard five-field cron expression.
// A run still in progress when the next tick fires causes that tick to be
// skipped. Failed runs are not retried.
type Scheduler struct {
	expr   string
	url    string
	runner Runner
	logger *slog.Logger

	mu     sync.Mutex
	status Status
}

// Validate reports whether expr is a cron expression the scheduler accepts.
func Validate(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("schedule: invalid cron expression %q", expr)
	}
	if _, err := rcron.ParseStandard(expr); err != nil {
		return fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// New validates expr and returns a Scheduler for url.
func New(expr, url string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if err := Validate(expr); err != nil {
		return nil, err
	}
	if err := scrape.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return &Scheduler{expr: expr, url: url, runner: runner, logger: logger}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Status returns a snapshot of the run counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run starts the cron loop and blocks until ctx is cancelled. In-flight runs
// are waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	c := rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)))
	if _, err := c.AddFunc(s.expr, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule: register: %w", err)
	}
	c.Start()
	if next, err := s.Next(time.Now()); err == nil {
		s.logger.Info("schedule: started",
			slog.String("cron", s.expr),
			slog.String("url", s.url),
			slog.Time("next", next))
	}

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("schedule: stopped")
	return nil
}

// RunOnce performs a single scheduled run.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	res, err := s.runner.ScrapeAndIngest(ctx, s.url)

	s.mu.Lock()
	s.status.LastRun = start
	s.status.Runs++
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("schedule: run failed",
			slog.String("url", s.url),
			slog.String("error", err.Error()))
		return
	}
	attrs := []any{
		slog.String("url", s.url),
		slog.Int("messages", res.TotalMessages),
		slog.Duration("took", time.Since(start)),
	}
	if res.Ingest != nil {
		attrs = append(attrs, slog.Int("added", res.Ingest.Added))
	}
	s.logger.Info("schedule: run complete", attrs...)
}
