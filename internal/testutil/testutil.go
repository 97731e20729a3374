// Package testutil provides shared test helpers for setting up storage and board state.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/sift/internal/board"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/storage"
)

// Logger returns a logger that discards output below error level.
func Logger() *slog.Logger {
	if os.Getenv("SIFT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestProvider creates a temporary SQLite provider that is automatically closed.
func TestProvider(t *testing.T) storage.Provider {
	t.Helper()
	p, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "sift-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// TestStore creates a board store over p with the default categories.
func TestStore(t *testing.T, p storage.Provider) *board.Store {
	t.Helper()
	return board.NewStore(p, models.DefaultCategories, board.DefaultSentinel, Logger())
}

// Seed writes raw JSON under key before a store loads it.
func Seed(t *testing.T, p storage.Provider, key, data string) {
	t.Helper()
	if err := p.Set(context.Background(), key, []byte(data)); err != nil {
		t.Fatal(err)
	}
}

// Records builds records with ids 1..n and the given likes.
func Records(likes ...int) []models.Record {
	out := make([]models.Record, len(likes))
	for i, l := range likes {
		out[i] = models.Record{ID: i + 1, Timestamp: "01 May 2025 10:00", Text: string(rune('a' + i)), Likes: l}
	}
	return out
}
