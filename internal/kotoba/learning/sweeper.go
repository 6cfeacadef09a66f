package learning

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically applies idle decay to every loaded profile and
// flushes dirty profiles, retrying users whose last write failed.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewSweeper creates a sweeper for store. If interval is zero, it defaults
// to one hour.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled or Stop is called. Call this in a
// goroutine.
func (w *Sweeper) Run(ctx context.Context) {
	w.stopMu.Lock()
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.stopMu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single decay pass followed by a flush.
func (w *Sweeper) SweepOnce(ctx context.Context) {
	changed := w.store.Sweep()
	if err := w.store.Flush(ctx); err != nil {
		w.logger.Warn("learning sweep: flush failed", "err", err)
	}
	if changed > 0 {
		w.logger.Debug("learning sweep: decayed profiles", "count", changed)
	}
}

// Stop signals the sweeper to stop. Safe to call multiple times.
func (w *Sweeper) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()

	if w.stopCh != nil {
		select {
		case <-w.stopCh:
		default:
			close(w.stopCh)
		}
	}
}
