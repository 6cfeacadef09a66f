// Package events publishes turn lifecycle events to observers.
//
// Publishing never blocks a turn: the Bus buffers events and drops new ones
// when the buffer is full. Subscribers run on the bus goroutine, one event at
// a time, in publication order.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindTurnStarted  Kind = "turn_started"
	KindTurnResolved Kind = "turn_resolved"
	KindTurnExecuted Kind = "turn_executed"
	KindTurnFailed   Kind = "turn_failed"
)

// Event describes one step of a turn. Message text is never included; only
// its length.
type Event struct {
	Kind       Kind      `json:"kind"`
	TraceID    string    `json:"trace_id"`
	UserID     string    `json:"user_id"`
	Intent     string    `json:"intent,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Provenance string    `json:"provenance,omitempty"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	TextLen    int       `json:"text_len,omitempty"`
	LatencyMS  int64     `json:"latency_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(evt Event)
}

// Handler consumes events delivered by a Bus.
type Handler func(ctx context.Context, evt Event)

// Noop discards every event.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(Event) {}

var (
	_ Publisher = Noop{}
	_ Publisher = (*Bus)(nil)
)

// DefaultBuffer is the Bus queue length used when none is given.
const DefaultBuffer = 256

// Bus is a buffered, drop-on-full event fan-out.
type Bus struct {
	ch      chan Event
	logger  *slog.Logger
	dropped atomic.Uint64

	mu       sync.RWMutex
	handlers []Handler

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewBus returns a Bus with the given queue length. If logger is nil, the
// default slog logger is used.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{ch: make(chan Event, buffer), logger: logger}
}

// Subscribe registers h for every event delivered after this call.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish enqueues evt, or drops it when the queue is full.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.ch <- evt:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("event bus full, dropping events", "kind", evt.Kind, "dropped_total", n)
		}
	}
}

// Dropped returns how many events were discarded.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Run delivers events until ctx is cancelled or Stop is called. Call this
// in a goroutine.
func (b *Bus) Run(ctx context.Context) {
	b.stopMu.Lock()
	b.stopCh = make(chan struct{})
	stopCh := b.stopCh
	b.stopMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case evt := <-b.ch:
			b.deliver(ctx, evt)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "kind", evt.Kind, "panic", r)
				}
			}()
			h(ctx, evt)
		}()
	}
}

// Stop signals Run to return. Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()

	if b.stopCh != nil {
		select {
		case <-b.stopCh:
		default:
			close(b.stopCh)
		}
	}
}

// LogHandler writes every event to logger at DEBUG, and failures at WARN.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, evt Event) {
		level := slog.LevelDebug
		if evt.Kind == KindTurnFailed {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "turn event",
			"kind", evt.Kind,
			"trace_id", evt.TraceID,
			"user", evt.UserID,
			"intent", evt.Intent,
			"confidence", evt.Confidence,
			"error_kind", evt.ErrorKind,
			"latency_ms", evt.LatencyMS,
		)
	}
}
