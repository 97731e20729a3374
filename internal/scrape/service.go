// Package scrape runs the fetch → extract pipeline and optionally hands the
// result to the reconciliation engine.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/checksum"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
)

// Fetcher returns the fully rendered HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns rendered HTML into ranked records.
type Extractor interface {
	Extract(doc string) []models.Record
}

// Ingester accepts extracted records. *reconcile.Engine satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, source, htmlSum string, records []models.Record) (reconcile.IngestResult, error)
}

// Observer is notified of every scrape attempt.
type Observer interface {
	ObserveScrape(d time.Duration, records int, err error)
}

// Result is the scrape boundary payload.
type Result struct {
	TotalMessages int                     `json:"totalMessages"`
	TotalLikes    int                     `json:"totalLikes"`
	Messages      []models.Record         `json:"messages"`
	HTMLSum       string                  `json:"htmlSha256,omitempty"`
	Ingest        *reconcile.IngestResult `json:"ingest,omitempty"`
}

// Service coordinates a Fetcher and an Extractor.
type Service struct {
	fetcher   Fetcher
	extractor Extractor
	ingester  Ingester
	observer  Observer
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIngester lets ScrapeAndIngest hand results to the engine.
func WithIngester(in Ingester) Option {
	return func(s *Service) { s.ingester = in }
}

// WithObserver reports scrape timings, typically to metrics.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a scrape service.
func NewService(f Fetcher, x Extractor, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{fetcher: f, extractor: x, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	return validation.Validate(raw,
		validation.Required,
		validation.By(func(v any) error {
			u, err := url.Parse(v.(string))
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return validation.NewError("validation_is_url", "must be an absolute http(s) URL")
			}
			return nil
		}),
	)
}

// Scrape fetches target and extracts its records. An empty page is a
// successful scrape with zero messages.
func (s *Service) Scrape(ctx context.Context, target string) (*Result, error) {
	if err := ValidateURL(target); err != nil {
		return nil, fmt.Errorf("%w: url %v", apperr.ErrInvalidRequest, err)
	}

	start := time.Now()
	doc, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		s.observe(time.Since(start), 0, err)
		s.logger.Error("scrape: fetch failed",
			slog.String("url", target),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("scrape: %w", err)
	}

	records := s.extractor.Extract(doc)
	res := &Result{
		TotalMessages: len(records),
		TotalLikes:    totalLikes(records),
		Messages:      records,
		HTMLSum:       checksum.Page(doc),
	}
	s.observe(time.Since(start), len(records), nil)
	s.logger.Info("scrape: done",
		slog.String("url", target),
		slog.Int("messages", res.TotalMessages),
		slog.Int("likes", res.TotalLikes),
		slog.Duration("took", time.Since(start)))
	return res, nil
}

// ScrapeAndIngest scrapes target and merges the records into the board.
func (s *Service) ScrapeAndIngest(ctx context.Context, target string) (*Result, error) {
	if s.ingester == nil {
		return nil, fmt.Errorf("scrape: no ingester configured")
	}
	res, err := s.Scrape(ctx, target)
	if err != nil {
		return nil, err
	}
	ir, err := s.ingester.Ingest(ctx, target, res.HTMLSum, res.Messages)
	if err != nil {
		return nil, fmt.Errorf("scrape: ingest: %w", err)
	}
	res.Ingest = &ir
	return res, nil
}

func (s *Service) observe(d time.Duration, n int, err error) {
	if s.observer != nil {
		s.observer.ObserveScrape(d, n, err)
	}
}

func totalLikes(records []models.Record) int {
	n := 0
	for _, r := range records {
		n += models.NormalizeLikes(r.Likes)
	}
	return n
}
