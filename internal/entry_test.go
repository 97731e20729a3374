package internal

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/storage"
)

func testOptions(t *testing.T, driver string) []Option {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Storage.Driver = driver
	cfg.Storage.Path = filepath.Join(t.TempDir(), "state")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return []Option{WithConfig(cfg), WithLogOutput(io.Discard)}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil || !strings.Contains(err.Error(), "config is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshot_FreshStorage(t *testing.T) {
	for _, driver := range []string{storage.DriverSQLite, storage.DriverPebble, storage.DriverFile} {
		t.Run(driver, func(t *testing.T) {
			b, st, err := Snapshot(context.Background(), testOptions(t, driver)...)
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			if b.Len() != 0 || st.Records != 0 || len(b.Order) != len(models.DefaultCategories) {
				t.Errorf("board = %+v, stats = %+v", b, st)
			}
		})
	}
}

func TestComponents_ChangesReachMetricsAndBroker(t *testing.T) {
	ctx := context.Background()
	app, err := newApplication(testOptions(t, storage.DriverSQLite))
	if err != nil {
		t.Fatal(err)
	}
	c, err := app.open(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ch := c.broker.Subscribe()
	defer c.broker.Unsubscribe(ch)

	recs := []models.Record{{ID: 1, Text: "a", Likes: 2}, {ID: 2, Text: "b", Likes: 5}}
	if _, err := c.engine.Ingest(ctx, "test", "", recs); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(c.metrics.MutationsTotal.WithLabelValues("ingested")); got != 1 {
		t.Errorf("mutations = %v", got)
	}
	if got := testutil.ToFloat64(c.metrics.BoardRecords.WithLabelValues(models.UncategorizedID)); got != 2 {
		t.Errorf("board size = %v", got)
	}
	msg := <-ch
	if !strings.Contains(string(msg), "board.ingested") {
		t.Errorf("first event = %q", msg)
	}
}

func TestReset_ClearsPersistedBoard(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, storage.DriverFile)

	app, _ := newApplication(opts)
	c, err := app.open(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.engine.Ingest(ctx, "test", "", []models.Record{{ID: 1, Likes: 1}}); err != nil {
		t.Fatal(err)
	}
	c.Close()

	if err := Reset(ctx, opts...); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	_, st, err := Snapshot(ctx, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 0 || st.Batches != 0 {
		t.Errorf("stats after reset = %+v", st)
	}
}

func TestOpen_SecondOwnerFails(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, storage.DriverSQLite)

	app, _ := newApplication(opts)
	c, err := app.open(ctx, true)
	if err != nil {
		t.Fatal(err)
	}

	// A CLI command against the same store while the server holds it.
	if _, _, err := Snapshot(ctx, opts...); !errors.Is(err, apperr.ErrStorageLocked) {
		t.Fatalf("Snapshot while open: err = %v, want ErrStorageLocked", err)
	}
	if err := Reset(ctx, opts...); !errors.Is(err, apperr.ErrStorageLocked) {
		t.Fatalf("Reset while open: err = %v, want ErrStorageLocked", err)
	}

	c.Close()
	if _, _, err := Snapshot(ctx, opts...); err != nil {
		t.Fatalf("Snapshot after close: %v", err)
	}
}
