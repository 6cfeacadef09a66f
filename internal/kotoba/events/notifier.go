package events

import (
	"context"
	"fmt"
	"log/slog"
)

// Sender is the subset of the Matrix client the notifier needs.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// MatrixNotifier posts failed turns to an operator room.
type MatrixNotifier struct {
	sender Sender
	roomID string
	logger *slog.Logger
}

// NewMatrixNotifier creates a notifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string, logger *slog.Logger) *MatrixNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixNotifier{sender: sender, roomID: roomID, logger: logger}
}

// Handle is a Handler. Only turn_failed events are posted; send errors are
// logged, never returned.
func (n *MatrixNotifier) Handle(ctx context.Context, evt Event) {
	if n.roomID == "" || evt.Kind != KindTurnFailed {
		return
	}
	msg := FormatNotice(evt)
	if err := n.sender.SendNotice(ctx, n.roomID, msg); err != nil {
		n.logger.Warn("notifier: failed to send room notice", "room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	n.logger.Debug("notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
}

// FormatNotice renders evt as a short operator notice.
func FormatNotice(evt Event) string {
	msg := fmt.Sprintf("❌ [%s] %s", evt.ErrorKind, evt.Message)
	if evt.Intent != "" {
		msg = fmt.Sprintf("❌ %s → [%s] %s", evt.Intent, evt.ErrorKind, evt.Message)
	}
	if evt.TraceID != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, evt.TraceID)
	}
	if evt.UserID != "" {
		msg = fmt.Sprintf("%s\n  user: %s", msg, evt.UserID)
	}
	return msg
}
