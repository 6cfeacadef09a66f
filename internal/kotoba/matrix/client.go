// Package matrix connects Kotoba to Matrix rooms: text messages in watched
// rooms become pipeline turns and each turn's outcome is posted back as a
// reply.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/kotoba/internal/kotoba/kv"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are the room IDs the bot joins and listens in.
	Rooms []string
	// Store persists the sync token across restarts. When nil, an in-memory
	// store is used and room history replays on every restart.
	Store  kv.Store
	Logger *slog.Logger
}

// MessageHandler processes an accepted room message.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client.
type Client struct {
	client *mautrix.Client
	config Config
	logger *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// New creates a client. It does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Store != nil {
		client.Store = NewKVSyncStore(cfg.Store)
	} else {
		logger.Warn("matrix: no store configured, sync position is kept in memory")
	}

	return &Client{
		client: client,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// UserID returns the bot's own user ID.
func (c *Client) UserID() string { return c.config.UserID }

// Run joins the configured rooms and syncs until ctx is done or Stop is
// called, reconnecting with exponential back-off after sync errors.
func (c *Client) Run(ctx context.Context, handler MessageHandler) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unsupported syncer")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if c.accept(evt) {
			handler(ctx, evt)
		}
	})

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", roomID, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Sync returns nil only after StopSync.
			return nil
		}
		c.logger.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends Run. Safe to call more than once.
func (c *Client) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
		c.client.StopSync()
	}
}

// IsWatchedRoom reports whether roomID is one of the configured rooms.
func (c *Client) IsWatchedRoom(roomID string) bool {
	return slices.Contains(c.config.Rooms, roomID)
}

// accept filters out the bot's own messages, non-text messages and rooms it
// does not listen in.
func (c *Client) accept(evt *event.Event) bool {
	if evt.Sender == id.UserID(c.config.UserID) {
		return false
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText || msg.Body == "" {
		return false
	}
	return c.IsWatchedRoom(evt.RoomID.String())
}

// Reply sends message as a reply to eventID.
func (c *Client) Reply(ctx context.Context, roomID, eventID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		},
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send reply: %w", err)
	}
	return nil
}

// SendNotice posts a notice, which clients render less prominently than a
// normal message.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator in roomID.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
