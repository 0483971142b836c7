package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileIngester is the part of Ingester the watcher drives.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (IngestResult, error)
	RemoveFile(ctx context.Context, path string) error
}

// DirectoryWatcher keeps the index in sync with files in a directory tree:
// created or written files are (re)ingested, removed or renamed ones dropped.
type DirectoryWatcher struct {
	dir      string
	ingester FileIngester
	debounce time.Duration
	logger   *slog.Logger
}

func NewDirectoryWatcher(dir string, ingester FileIngester, debounce time.Duration) *DirectoryWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &DirectoryWatcher{
		dir:      dir,
		ingester: ingester,
		debounce: debounce,
		logger:   slog.With("component", "watcher", "dir", dir),
	}
}

// Run ingests the files already present, then follows changes until ctx is done.
func (w *DirectoryWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	err = filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.dir && hidden(path) {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		w.ingest(ctx, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching directory for documents")

	var (
		mu      sync.Mutex
		pending = make(map[string]fsnotify.Op)
		timer   *time.Timer
	)
	flush := func() {
		mu.Lock()
		batch := pending
		pending = make(map[string]fsnotify.Op)
		mu.Unlock()
		for path, op := range batch {
			w.apply(ctx, fsw, path, op)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || hidden(ev.Name) {
				continue
			}
			mu.Lock()
			pending[ev.Name] |= ev.Op
			mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (w *DirectoryWatcher) apply(ctx context.Context, fsw *fsnotify.Watcher, path string, op fsnotify.Op) {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			if err := w.ingester.RemoveFile(ctx, path); err != nil {
				w.logger.Warn("Failed to drop removed file", "path", path, "error", err)
			} else {
				w.logger.Info("Removed document", "path", path)
			}
		}
	case info.IsDir():
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
	default:
		w.ingest(ctx, path)
	}
}

func (w *DirectoryWatcher) ingest(ctx context.Context, path string) {
	if hidden(path) || DetectContentType("", path) == "application/octet-stream" {
		return
	}
	if _, err := w.ingester.IngestFile(ctx, path); err != nil {
		w.logger.Warn("Failed to ingest file", "path", path, "error", err)
	}
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
