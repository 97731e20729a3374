// Package reconcile owns the live board: it merges ingested records, applies
// classification results and user moves, and persists after every change.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
)

// Store is the persistence the engine needs from the board store.
type Store interface {
	Load(ctx context.Context) (*models.Board, models.RawLog, error)
	Save(ctx context.Context, b *models.Board) error
	SaveRawLog(ctx context.Context, raw models.RawLog) error
	Reset(ctx context.Context) error
	Default() *models.Board
}

// Event kinds reported to the change callback.
const (
	EventIngested   = "ingested"
	EventMoved      = "moved"
	EventClassified = "classified"
	EventReset      = "reset"
)

// ChangeFunc is called after a mutation has been persisted.
type ChangeFunc func(kind string, b *models.Board)

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	BatchID   string `json:"batchId"`
	Received  int    `json:"received"`
	Added     int    `json:"added"`
	Skipped   int    `json:"skipped"`
	Refreshed int    `json:"refreshed"` // skipped records whose likes changed
}

// ClassifyResult summarizes one ApplyClassification call.
type ClassifyResult struct {
	Records    int `json:"records"`
	Classified int `json:"classified"`
	Defaulted  int `json:"defaulted"`
}

// Stats is a point-in-time summary of the board.
type Stats struct {
	Records     int            `json:"records"`
	Batches     int            `json:"batches"`
	PerCategory map[string]int `json:"perCategory"`
}

// Engine is the single owner of the board and raw log. Mutations are
// serialized and each one is persisted before the next is accepted.
type Engine struct {
	store    Store
	logger   *slog.Logger
	onChange ChangeFunc
	now      func() time.Time

	mu    sync.Mutex
	board *models.Board
	raw   models.RawLog
}

// Option configures an Engine.
type Option func(*Engine)

// WithOnChange registers a callback fired after each persisted mutation.
func WithOnChange(fn ChangeFunc) Option {
	return func(e *Engine) { e.onChange = fn }
}

// WithClock overrides the time source used for raw batches.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New loads persisted state from store and returns a ready Engine.
func New(ctx context.Context, store Store, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	b, raw, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load: %w", err)
	}
	e.board = b
	e.raw = raw
	return e, nil
}

// Board returns a copy of the current board.
func (e *Engine) Board() *models.Board {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board.Clone()
}

// RawLog returns a copy of the ingestion ledger.
func (e *Engine) RawLog() models.RawLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raw.Clone()
}

// Pending returns every record on the board as classifier input, in display order.
func (e *Engine) Pending() []models.PendingItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	recs := e.board.Records()
	out := make([]models.PendingItem, len(recs))
	for i, r := range recs {
		out[i] = models.PendingItem{ID: r.ID, Text: r.Text}
	}
	return out
}

// Stats summarizes the board.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{Batches: len(e.raw), PerCategory: make(map[string]int, len(e.board.Categories))}
	for id, c := range e.board.Categories {
		st.PerCategory[id] = len(c.Items)
		st.Records += len(c.Items)
	}
	return st
}

// contentKey identifies a message across fetches. Extraction renumbers ids
// by rank, so ids cannot be compared between two scrapes of a page. Records
// with neither timestamp nor text have no identity and are always new.
func contentKey(r models.Record) (string, bool) {
	ts := strings.TrimSpace(r.Timestamp)
	text := strings.Join(strings.Fields(r.Text), " ")
	if ts == "" && text == "" {
		return "", false
	}
	return ts + "\x00" + text, true
}

// Ingest appends records to the raw log, then merges them into the board by
// content. A record matching one already on the board keeps that record's
// id, category and sentiment and only refreshes its likes. New records go to
// uncategorized with their incoming id when it is free, otherwise with the
// next id above the board's maximum.
func (e *Engine) Ingest(ctx context.Context, source, htmlSum string, records []models.Record) (IngestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := models.RawBatch{
		ID:         uuid.NewString(),
		IngestedAt: e.now().UTC(),
		Source:     source,
		HTMLSum:    htmlSum,
		Records:    append([]models.Record{}, records...),
	}
	raw := append(e.raw.Clone(), batch)
	if err := e.store.SaveRawLog(ctx, raw); err != nil {
		return IngestResult{}, fmt.Errorf("reconcile: ingest: %w", err)
	}
	e.raw = raw

	next := e.board.Clone()
	type slot struct {
		cat string
		idx int
	}
	known := make(map[string]slot, next.Len())
	used := make(map[int]struct{}, next.Len())
	maxID := 0
	for _, id := range next.Order {
		for i, r := range next.Categories[id].Items {
			used[r.ID] = struct{}{}
			maxID = max(maxID, r.ID)
			if k, ok := contentKey(r); ok {
				if _, dup := known[k]; !dup {
					known[k] = slot{id, i}
				}
			}
		}
	}

	res := IngestResult{BatchID: batch.ID, Received: len(records)}
	dirty := map[string]struct{}{models.UncategorizedID: {}}
	unc := next.Categories[models.UncategorizedID]
	var fresh []models.Record
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		r.Likes = models.NormalizeLikes(r.Likes)
		k, hasKey := contentKey(r)
		if hasKey {
			if _, dup := seen[k]; dup {
				res.Skipped++
				continue
			}
			seen[k] = struct{}{}
			if at, ok := known[k]; ok {
				res.Skipped++
				existing := &next.Categories[at.cat].Items[at.idx]
				if existing.Likes != r.Likes {
					existing.Likes = r.Likes
					dirty[at.cat] = struct{}{}
					res.Refreshed++
				}
				continue
			}
		}
		fresh = append(fresh, r)
	}
	// existing slots are addressed by index, so new items are appended last
	for _, r := range fresh {
		if _, taken := used[r.ID]; taken || r.ID <= 0 {
			r.ID = maxID + 1
		}
		used[r.ID] = struct{}{}
		maxID = max(maxID, r.ID)
		r.Sentiment = models.SentimentAbsent
		unc.Items = append(unc.Items, r)
		res.Added++
	}
	for id := range dirty {
		models.SortByLikes(next.Categories[id].Items)
	}

	if err := e.commit(ctx, next, EventIngested); err != nil {
		return res, fmt.Errorf("reconcile: ingest: %w", err)
	}
	e.logger.Info("reconcile: ingested",
		slog.String("batch", batch.ID),
		slog.String("source", source),
		slog.Int("received", res.Received),
		slog.Int("added", res.Added),
		slog.Int("skipped", res.Skipped),
		slog.Int("refreshed", res.Refreshed))
	return res, nil
}

// Move relocates the record at srcIdx of srcCat to dstIdx of dstCat and
// re-sorts the destination by likes, so the drop position only decides ties.
// Unknown categories, an out-of-range source index, or an unchanged
// position leave the board untouched and report false.
func (e *Engine) Move(ctx context.Context, srcCat string, srcIdx int, dstCat string, dstIdx int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.move(ctx, srcCat, srcIdx, dstCat, dstIdx)
}

// MoveRecord moves the record with the given id to the top of dstCat,
// wherever it currently sits. dstCat is matched case-insensitively.
func (e *Engine) MoveRecord(ctx context.Context, recordID int, dstCat string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dst, ok := e.board.Lookup(dstCat)
	if !ok {
		return false, nil
	}
	for _, id := range e.board.Order {
		for i, r := range e.board.Categories[id].Items {
			if r.ID == recordID {
				if id == dst {
					return false, nil
				}
				return e.move(ctx, id, i, dst, 0)
			}
		}
	}
	return false, nil
}

// move is Move without locking. Callers hold e.mu.
func (e *Engine) move(ctx context.Context, srcCat string, srcIdx int, dstCat string, dstIdx int) (bool, error) {
	if srcCat == dstCat && srcIdx == dstIdx {
		return false, nil
	}
	src, ok := e.board.Categories[srcCat]
	if !ok {
		return false, nil
	}
	if _, ok := e.board.Categories[dstCat]; !ok {
		return false, nil
	}
	if srcIdx < 0 || srcIdx >= len(src.Items) {
		return false, nil
	}

	next := e.board.Clone()
	from := next.Categories[srcCat]
	rec := from.Items[srcIdx]
	from.Items = append(from.Items[:srcIdx], from.Items[srcIdx+1:]...)

	to := next.Categories[dstCat]
	dstIdx = min(max(dstIdx, 0), len(to.Items))
	to.Items = append(to.Items[:dstIdx], append([]models.Record{rec}, to.Items[dstIdx:]...)...)
	models.SortByLikes(to.Items)

	if err := e.commit(ctx, next, EventMoved); err != nil {
		return false, fmt.Errorf("reconcile: move: %w", err)
	}
	e.logger.Debug("reconcile: moved",
		slog.Int("record", rec.ID),
		slog.String("from", srcCat),
		slog.String("to", dstCat))
	return true, nil
}

// ApplyClassification re-partitions the whole board from results. Every
// record is routed to its classified category (matched case-insensitively)
// or to uncategorized when it has no usable entry; the entry's sentiment is
// written onto the record. Each category is then re-sorted by likes.
func (e *Engine) ApplyClassification(ctx context.Context, results map[int]models.Classification) (ClassifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.board.Clone()
	all := next.Records()
	for _, c := range next.Categories {
		c.Items = []models.Record{}
	}

	res := ClassifyResult{Records: len(all)}
	for _, r := range all {
		dest := models.UncategorizedID
		entry, ok := results[r.ID]
		if ok && entry.Complete() {
			if s, known := models.ParseSentiment(entry.Sentiment); known {
				r.Sentiment = s
			} else {
				e.logger.Debug("reconcile: sentiment outside vocabulary",
					slog.Int("record", r.ID), slog.String("sentiment", entry.Sentiment))
			}
			if id, found := next.Lookup(entry.Category); found {
				dest = id
			}
			res.Classified++
		}
		if dest == models.UncategorizedID {
			res.Defaulted++
		}
		c := next.Categories[dest]
		c.Items = append(c.Items, r)
	}
	for _, c := range next.Categories {
		models.SortByLikes(c.Items)
	}

	if err := e.commit(ctx, next, EventClassified); err != nil {
		return ClassifyResult{}, fmt.Errorf("reconcile: classify: %w", err)
	}
	e.logger.Info("reconcile: classification applied",
		slog.Int("records", res.Records),
		slog.Int("classified", res.Classified),
		slog.Int("defaulted", res.Defaulted))
	return res, nil
}

// Reset clears persisted state and starts over from the default board.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Reset(ctx); err != nil {
		// The board key is gone even though the raw log survived, so memory
		// must stop serving the old board.
		if errors.Is(err, apperr.ErrPartialReset) {
			e.board = e.store.Default()
			e.notify(EventReset)
			e.logger.Error("reconcile: board reset, raw log kept", slog.String("error", err.Error()))
		}
		return fmt.Errorf("reconcile: reset: %w", err)
	}
	e.board = e.store.Default()
	e.raw = models.RawLog{}
	e.notify(EventReset)
	e.logger.Warn("reconcile: board reset")
	return nil
}

// commit persists next and swaps it in. On failure the current board stays.
// Callers hold e.mu.
func (e *Engine) commit(ctx context.Context, next *models.Board, kind string) error {
	if err := e.store.Save(ctx, next); err != nil {
		return err
	}
	e.board = next
	e.notify(kind)
	return nil
}

func (e *Engine) notify(kind string) {
	if e.onChange != nil {
		e.onChange(kind, e.board.Clone())
	}
}

// Categories lists the board's category ids in display order.
func (e *Engine) Categories() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.board.Order...)
}
