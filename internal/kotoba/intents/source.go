package intents

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the current Table. Swapping is atomic; readers never see a
// partially built table.
type Source struct {
	current atomic.Pointer[Table]
}

// NewSource returns a Source serving t.
func NewSource(t *Table) *Source {
	s := &Source{}
	s.current.Store(t)
	return s
}

// Table returns the table in effect right now.
func (s *Source) Table() *Table { return s.current.Load() }

// Swap installs t and returns the previous table.
func (s *Source) Swap(t *Table) *Table { return s.current.Swap(t) }

// Watcher reloads an intent file into a Source whenever it changes on disk.
// A file that fails to parse leaves the previous table in place.
type Watcher struct {
	path     string
	source   *Source
	debounce time.Duration
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewWatcher creates a watcher for path. It does not touch the filesystem
// until Run is called.
func NewWatcher(path string, source *Source, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		source:   source,
		debounce: 250 * time.Millisecond,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Run watches the file's directory (editors often replace files by rename)
// and blocks until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("intents watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("intents watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("intents watcher: watching", "path", w.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("intents watcher: fsnotify error", "err", err)
		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload parses the file and swaps it in on success.
func (w *Watcher) Reload() bool {
	t, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("intents watcher: reload failed, keeping previous table", "path", w.path, "err", err)
		return false
	}
	w.source.Swap(t)
	w.logger.Info("intents watcher: table reloaded", "path", w.path, "intents", t.Len())
	return true
}

// Stop signals Run to return. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}
