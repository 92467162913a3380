package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	"github.com/modhub/message-delivery-service/internal/store"
)

// Dispatcher handles the inbound control frames of one session. Callers
// feed it frames strictly sequentially per session; it never blocks on
// other sessions, only on the store.
type Dispatcher struct {
	store   store.Store
	unread  *UnreadCounter
	ingress *Ingress
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(s store.Store, unread *UnreadCounter, ingress *Ingress, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   s,
		unread:  unread,
		ingress: ingress,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle parses and dispatches one raw control frame. Responses go to the
// originating session only; mark_read additionally broadcasts the receipt
// to every other subscriber of the message's groups.
func (d *Dispatcher) Handle(ctx context.Context, sess *registry.Session, raw []byte) {
	var frame model.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sess.Send(model.NewErrorFrame("Invalid JSON"))
		return
	}

	switch frame.Type {
	case model.FramePing:
		sess.Send(model.NewPongFrame())

	case model.FrameMarkRead:
		d.handleMarkRead(ctx, sess, frame.MessageID)

	case model.FrameGetUnreadCount:
		count, err := d.unread.Count(ctx, sess.UserID(), frame.CommunityID)
		if err != nil {
			d.logger.Error("unread count failed", "user_id", sess.UserID(), "error", err)
			sess.Send(model.NewErrorFrame("failed to compute unread count"))
			return
		}
		sess.Send(model.NewUnreadCountFrame(count, frame.CommunityID))

	default:
		// Unknown types are skipped for forward compatibility.
		d.logger.Debug("ignoring unknown frame", "type", frame.Type, "session_id", sess.ID())
	}
}

func (d *Dispatcher) handleMarkRead(ctx context.Context, sess *registry.Session, messageID int64) {
	if messageID == 0 {
		sess.Send(model.NewErrorFrame("message_id is required"))
		return
	}

	msg, err := d.store.FindMessage(ctx, messageID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.Error("message lookup failed", "message_id", messageID, "error", err)
		sess.Send(model.NewErrorFrame("failed to mark message as read"))
		return
	}
	// A foreign message is reported the same as a missing one.
	if errors.Is(err, store.ErrNotFound) || msg.RecipientID != sess.UserID() {
		sess.Send(model.NewErrorFrame("message not found"))
		return
	}

	readAt, already, err := d.store.MarkRead(ctx, messageID, d.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sess.Send(model.NewErrorFrame("message not found"))
			return
		}
		d.logger.Error("mark read failed", "message_id", messageID, "error", err)
		sess.Send(model.NewErrorFrame("failed to mark message as read"))
		return
	}

	// The requester always gets the receipt directly; both of two racing
	// devices observe the same readAt.
	sess.Send(model.NewMessageReadFrame(messageID, readAt))

	// Only the transition that actually flipped the row invalidates and
	// broadcasts, so concurrent mark_read yields exactly one receipt for
	// the other subscribers and never double-counts.
	if already {
		return
	}
	receipt := model.ReadReceipt{
		MessageID:   messageID,
		RecipientID: msg.RecipientID,
		CommunityID: msg.CommunityID,
		ReadAt:      readAt,
	}
	if err := d.ingress.publishReadReceipt(ctx, receipt, sess.ID()); err != nil {
		d.logger.Error("read receipt broadcast failed", "message_id", messageID, "error", err)
	}
}
