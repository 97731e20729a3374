// Package board persists the categorized message board and the raw
// ingestion log, including migration of older persisted layouts.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/storage"
)

// DefaultSentinel is the category whose presence marks a current-schema blob.
const DefaultSentinel = "ui_ux"

// Store loads and saves board state through a storage.Provider.
type Store struct {
	provider storage.Provider
	defs     []models.CategoryDef
	sentinel string
	logger   *slog.Logger
	loaded   atomic.Bool
}

// NewStore creates a Store for the configured category set.
func NewStore(p storage.Provider, defs []models.CategoryDef, sentinel string, logger *slog.Logger) *Store {
	if len(defs) == 0 {
		defs = models.DefaultCategories
	}
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{provider: p, defs: defs, sentinel: sentinel, logger: logger}
}

// Default returns a fresh empty board.
func (s *Store) Default() *models.Board {
	return models.NewBoard(s.defs)
}

// Categories returns the configured category definitions.
func (s *Store) Categories() []models.CategoryDef {
	return s.defs
}

// Load reads the persisted board and raw log. Missing blobs yield the
// default board and an empty log. Saving is allowed once Load returns
// without error.
func (s *Store) Load(ctx context.Context) (*models.Board, models.RawLog, error) {
	b, err := s.loadBoard(ctx)
	if err != nil {
		return nil, nil, err
	}
	raw, err := s.loadRawLog(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.loaded.Store(true)
	return b, raw, nil
}

func (s *Store) loadBoard(ctx context.Context) (*models.Board, error) {
	data, err := s.provider.Get(ctx, storage.KeyBoard)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Info("board: no persisted state, starting empty")
		return s.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("board: load: %w", err)
	}

	var doc persistedBoard
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("board: persisted state unreadable, starting empty",
			slog.String("error", err.Error()),
			slog.String("size", humanize.Bytes(uint64(len(data)))))
		return s.Default(), nil
	}

	var b *models.Board
	switch detect(doc, s.sentinel) {
	case schemaCurrent:
		b = upgrade(doc, s.defs)
	default:
		b = flatten(doc, s.defs)
		s.logger.Warn("board: legacy layout flattened into uncategorized",
			slog.Int("records", b.Len()))
	}
	normalize(b)

	s.logger.Info("board: loaded",
		slog.Int("records", b.Len()),
		slog.String("size", humanize.Bytes(uint64(len(data)))))
	return b, nil
}

func (s *Store) loadRawLog(ctx context.Context) (models.RawLog, error) {
	data, err := s.provider.Get(ctx, storage.KeyRawLog)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.RawLog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("board: load raw log: %w", err)
	}
	raw, err := decodeRawLog(data)
	if err != nil {
		s.logger.Error("board: raw log unreadable, starting empty", slog.String("error", err.Error()))
		return models.RawLog{}, nil
	}
	if raw == nil {
		raw = models.RawLog{}
	}
	return raw, nil
}

// Save persists the categories and their order as one blob.
func (s *Store) Save(ctx context.Context, b *models.Board) error {
	if !s.loaded.Load() {
		return apperr.ErrNotLoaded
	}
	cats := make(map[string]json.RawMessage, len(b.Categories))
	for id, c := range b.Categories {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("board: encode category %s: %w", id, err)
		}
		cats[id] = raw
	}
	data, err := json.Marshal(persistedBoard{
		Version:    schemaCurrent,
		Categories: cats,
		Order:      b.Order,
	})
	if err != nil {
		return fmt.Errorf("board: encode: %w", err)
	}
	if err := s.provider.Set(ctx, storage.KeyBoard, data); err != nil {
		return fmt.Errorf("board: save: %w", err)
	}
	s.logger.Debug("board: saved", slog.String("size", humanize.Bytes(uint64(len(data)))))
	return nil
}

// SaveRawLog persists the raw ingestion ledger.
func (s *Store) SaveRawLog(ctx context.Context, raw models.RawLog) error {
	if !s.loaded.Load() {
		return apperr.ErrNotLoaded
	}
	if raw == nil {
		raw = models.RawLog{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("board: encode raw log: %w", err)
	}
	if err := s.provider.Set(ctx, storage.KeyRawLog, data); err != nil {
		return fmt.Errorf("board: save raw log: %w", err)
	}
	s.logger.Debug("board: raw log saved",
		slog.Int("batches", len(raw)),
		slog.String("size", humanize.Bytes(uint64(len(data)))))
	return nil
}

// Reset deletes both persisted blobs.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.provider.Delete(ctx, storage.KeyBoard); err != nil {
		return fmt.Errorf("board: reset: %w", err)
	}
	if err := s.provider.Delete(ctx, storage.KeyRawLog); err != nil {
		return fmt.Errorf("board: reset raw log: %w: %w", apperr.ErrPartialReset, err)
	}
	s.logger.Warn("board: persisted state cleared")
	return nil
}
