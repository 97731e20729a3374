// Package inbox applies classification files dropped into a directory.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
)

// Suffixes a processed file is renamed with.
const (
	SuffixDone     = ".done"
	SuffixRejected = ".rejected"
)

const settle = 200 * time.Millisecond

// Applier receives parsed classification mappings.
type Applier interface {
	ApplyClassification(ctx context.Context, results map[int]models.Classification) (reconcile.ClassifyResult, error)
}

// EventCallback is called after a file has been handled. outcome is
// "applied" or "rejected".
type EventCallback func(outcome, name string)

// Watch processes *.json files already in dir, then watches it until ctx is
// cancelled. Files are handled once writes to them have been quiet for a
// short moment.
func Watch(ctx context.Context, dir string, a Applier, logger *slog.Logger, cb EventCallback) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("inbox: create dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", dir, err)
	}

	logger.Info("inbox: watching", slog.String("dir", dir))
	Drain(ctx, dir, a, logger, cb)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(settle)
			fire = timer.C
		} else {
			timer.Reset(settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case <-fire:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				process(ctx, p, a, logger, cb)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isInboxFile(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// Drain handles every *.json file currently in dir, oldest name first.
func Drain(ctx context.Context, dir string, a Applier, logger *slog.Logger, cb EventCallback) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("inbox: list failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isInboxFile(e.Name()) {
			continue
		}
		process(ctx, filepath.Join(dir, e.Name()), a, logger, cb)
	}
}

func isInboxFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}

func process(ctx context.Context, path string, a Applier, logger *slog.Logger, cb EventCallback) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}
	name := filepath.Base(path)

	results, err := reconcile.ParseClassification(data)
	if errors.Is(err, apperr.ErrInvalidClassification) {
		logger.Warn("inbox: rejected", slog.String("file", name), slog.String("error", err.Error()))
		finish(path, SuffixRejected, logger)
		if cb != nil {
			cb("rejected", name)
		}
		return
	}

	res, err := a.ApplyClassification(ctx, results)
	if err != nil {
		// left in place so a later write or restart retries it
		logger.Error("inbox: apply failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	finish(path, SuffixDone, logger)
	logger.Info("inbox: applied",
		slog.String("file", name),
		slog.Int("classified", res.Classified),
		slog.Int("defaulted", res.Defaulted))
	if cb != nil {
		cb("applied", name)
	}
}

func finish(path, suffix string, logger *slog.Logger) {
	if err := os.Rename(path, path+suffix); err != nil {
		logger.Warn("inbox: rename failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}
