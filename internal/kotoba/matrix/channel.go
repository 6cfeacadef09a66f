package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"
	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/intents"
	"github.com/bdobrica/kotoba/internal/kotoba/pipeline"
)

// Processor runs one turn. *pipeline.Engine satisfies it.
type Processor interface {
	Process(ctx context.Context, turn pipeline.Turn) pipeline.ExecutionResult
}

var _ Processor = (*pipeline.Engine)(nil)

// Replier posts a turn's outcome. *Client satisfies it.
type Replier interface {
	Reply(ctx context.Context, roomID, eventID, message string) error
}

var _ Replier = (*Client)(nil)

// Channel turns room messages into pipeline turns. The sender's Matrix ID is
// the pipeline user; the room's configured tags become session tags.
type Channel struct {
	proc     Processor
	replier  Replier
	roomTags map[string][]string
	logger   *slog.Logger
}

// NewChannel creates a channel. roomTags may be nil.
func NewChannel(proc Processor, replier Replier, roomTags map[string][]string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{proc: proc, replier: replier, roomTags: roomTags, logger: logger}
}

// Handle is a MessageHandler.
func (ch *Channel) Handle(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil {
		return
	}
	// The event ID doubles as the trace ID so room replies and logs line up.
	ctx = trace.WithTraceID(ctx, evt.ID.String())

	res := ch.proc.Process(ctx, pipeline.Turn{
		Text:        msg.Body,
		UserID:      evt.Sender.String(),
		SessionTags: ch.roomTags[evt.RoomID.String()],
	})

	reply := FormatReply(res)
	if err := ch.replier.Reply(ctx, evt.RoomID.String(), evt.ID.String(), reply); err != nil {
		trace.Logger(ctx, ch.logger).Warn("matrix: failed to post reply", "room", evt.RoomID, "err", err)
	}
}

// FormatReply renders res for a room.
func FormatReply(res pipeline.ExecutionResult) string {
	rec := res.Recognition
	if !res.Success {
		if rec.Intent == "" || rec.Intent == intents.Unknown {
			reply := fmt.Sprintf("❌ [%s] %s", res.ErrorKind, res.Message)
			if len(res.Suggestions) > 0 {
				reply += "\nTry: " + strings.Join(res.Suggestions, " · ")
			}
			return reply
		}
		return fmt.Sprintf("❌ %s → [%s] %s", rec.Intent, res.ErrorKind, res.Message)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s (confidence %.2f)", rec.Intent, rec.Confidence)
	if res.Result != nil {
		if out, err := sonic.MarshalString(res.Result); err == nil {
			b.WriteString("\n")
			b.WriteString(out)
		}
	}
	return b.String()
}
