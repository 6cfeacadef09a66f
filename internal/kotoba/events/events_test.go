package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(16, nil)

	var mu sync.Mutex
	var got []Kind
	bus.Subscribe(func(_ context.Context, evt Event) {
		mu.Lock()
		got = append(got, evt.Kind)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()

	for _, k := range []Kind{KindTurnStarted, KindTurnResolved, KindTurnExecuted} {
		bus.Publish(Event{Kind: k, UserID: "alice"})
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []Kind{KindTurnStarted, KindTurnResolved, KindTurnExecuted}, got)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(2, nil)
	// Nobody is running the bus, so the queue fills after two events.
	finished := make(chan struct{})
	go func() {
		for range 10 {
			bus.Publish(Event{Kind: KindTurnStarted})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full bus")
	}
	assert.Equal(t, uint64(8), bus.Dropped())
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(4, nil)
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(context.Context, Event) { panic("bad subscriber") })
	bus.Subscribe(func(context.Context, Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(done)
	}()
	bus.Publish(Event{Kind: KindTurnFailed})
	bus.Publish(Event{Kind: KindTurnFailed})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, time.Millisecond)

	bus.Stop()
	bus.Stop()
	<-done
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	p.Publish(Event{Kind: KindTurnStarted})
}

type stubSender struct {
	mu    sync.Mutex
	rooms []string
	msgs  []string
	err   error
}

func (s *stubSender) SendNotice(_ context.Context, roomID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, roomID)
	s.msgs = append(s.msgs, message)
	return s.err
}

func TestMatrixNotifier(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	n := NewMatrixNotifier(sender, "!audit:example.org", nil)

	n.Handle(ctx, Event{Kind: KindTurnExecuted, Success: true})
	assert.Empty(t, sender.msgs, "only failures are posted")

	n.Handle(ctx, Event{
		Kind:      KindTurnFailed,
		TraceID:   "t_123",
		UserID:    "@bob:example.org",
		Intent:    "control",
		ErrorKind: "ExecutionFailure",
		Message:   "device offline",
	})
	require.Len(t, sender.msgs, 1)
	assert.Equal(t, "!audit:example.org", sender.rooms[0])
	msg := sender.msgs[0]
	assert.True(t, strings.HasPrefix(msg, "❌ control → [ExecutionFailure] device offline"))
	assert.Contains(t, msg, "trace: t_123")
	assert.Contains(t, msg, "user: @bob:example.org")

	// Send errors are swallowed.
	sender.err = errors.New("forbidden")
	n.Handle(ctx, Event{Kind: KindTurnFailed, ErrorKind: "CommandNotFound"})
	assert.Len(t, sender.msgs, 2)

	// No room configured: nothing is sent.
	NewMatrixNotifier(sender, "", nil).Handle(ctx, Event{Kind: KindTurnFailed})
	assert.Len(t, sender.msgs, 2)
}

func TestFormatNotice_WithoutIntent(t *testing.T) {
	got := FormatNotice(Event{ErrorKind: "NoIntentMatched", Message: "no intent matched"})
	assert.Equal(t, "❌ [NoIntentMatched] no intent matched", got)
}
