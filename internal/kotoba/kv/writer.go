package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/kotoba/common/retry"
	"github.com/bdobrica/kotoba/internal/kotoba/shard"
)

// Snapshotter produces the value to persist for one user. It must take
// whatever lock guards the user's state and return a copy, so the Writer can
// encode and store it without holding that lock.
type Snapshotter interface {
	// Snapshot returns the value to write for user. ok=false means the user
	// has no state and the key should be deleted.
	Snapshot(user string) (value any, ok bool)
}

// Writer batches dirty user IDs and writes their snapshots to a Store
// off the request path. Failed users stay dirty and are retried on the next
// flush.
//
// Writes for one user are serialized and each takes its snapshot only once it
// owns the user, so the last write to land always carries the newest state,
// even when Flush and Sync calls overlap.
type Writer struct {
	store     Store
	snap      Snapshotter
	namespace string
	interval  time.Duration
	retry     retry.Config
	logger    *slog.Logger

	mu    sync.Mutex
	dirty map[string]struct{}

	users shard.Keyed

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewWriter returns a Writer that stores snapshots under Key(namespace, user).
// If interval is zero it defaults to 5 seconds.
func NewWriter(store Store, snap Snapshotter, namespace string, interval time.Duration, logger *slog.Logger) *Writer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	rc := retry.DefaultConfig
	rc.Logger = logger
	return &Writer{
		store:     store,
		snap:      snap,
		namespace: namespace,
		interval:  interval,
		retry:     rc,
		logger:    logger,
		dirty:     make(map[string]struct{}),
	}
}

// MarkDirty queues user for the next flush. It never blocks on I/O.
func (w *Writer) MarkDirty(user string) {
	w.mu.Lock()
	w.dirty[user] = struct{}{}
	w.mu.Unlock()
}

// Pending returns the number of users waiting to be flushed.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty)
}

// Flush writes every dirty user. Users whose write fails are re-queued and
// the failures are returned joined.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	users := slices.Sorted(maps.Keys(w.dirty))
	clear(w.dirty)
	w.mu.Unlock()

	var errs []error
	for _, user := range users {
		if err := w.write(ctx, user); err != nil {
			w.MarkDirty(user)
			w.logger.Warn("persist: write failed, will retry", "namespace", w.namespace, "user", user, "err", err)
			errs = append(errs, err)
		}
	}
	if len(users) > 0 {
		w.logger.Debug("persist: flushed", "namespace", w.namespace, "users", len(users), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Sync writes user's snapshot now, bypassing the batch. Callers use it when a
// change must reach the store before they return, such as an explicit clear.
// On failure the user is queued for the next flush.
func (w *Writer) Sync(ctx context.Context, user string) error {
	w.mu.Lock()
	delete(w.dirty, user)
	w.mu.Unlock()

	if err := w.write(ctx, user); err != nil {
		w.MarkDirty(user)
		return err
	}
	return nil
}

func (w *Writer) write(ctx context.Context, user string) error {
	defer w.users.Lock(user)()

	key := Key(w.namespace, user)
	value, ok := w.snap.Snapshot(user)
	return retry.Do(ctx, w.retry, func() error {
		if !ok {
			return w.store.Delete(ctx, key)
		}
		if err := PutJSON(ctx, w.store, key, value); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
		return nil
	})
}

// Run flushes on every tick until ctx is cancelled or Stop is called, then
// performs one last flush with a short deadline. Call this in a goroutine.
func (w *Writer) Run(ctx context.Context) {
	w.stopMu.Lock()
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.stopMu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.final()
			return
		case <-stopCh:
			w.final()
			return
		case <-ticker.C:
			_ = w.Flush(ctx)
		}
	}
}

func (w *Writer) final() {
	if w.Pending() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		w.logger.Error("persist: final flush incomplete", "namespace", w.namespace, "pending", w.Pending(), "err", err)
	}
}

// Stop signals Run to return. Safe to call multiple times.
func (w *Writer) Stop() {
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
