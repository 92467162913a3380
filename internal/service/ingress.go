package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Ingress is the sole entry point for externally-originated state changes:
// the message-creation path calls NotifyNewMessage after durable storage
// succeeds, and any out-of-band read receipt (REST mark-read included)
// enters through NotifyMessageRead. WS-originated mark-read shares the
// receipt path, so every origin behaves identically.
type Ingress struct {
	broker broker.Broker
	unread *UnreadCounter
	logger *slog.Logger
}

func NewIngress(b broker.Broker, unread *UnreadCounter, logger *slog.Logger) *Ingress {
	return &Ingress{broker: b, unread: unread, logger: logger}
}

// NotifyNewMessage fans a stored message out to the recipient's inbox group
// and, for community messages, the community group. Counts are invalidated
// before the broadcast so a bus outage can't leave stale cache entries; the
// frame carries the invalidation target so every node redelivering it from
// the bus drops its own entries too.
func (i *Ingress) NotifyNewMessage(ctx context.Context, ev model.MessageEvent) error {
	i.unread.Invalidate(ev.RecipientID, ev.CommunityID)

	frame := model.NewMessageFrame(ev)
	frame.Recipient = ev.RecipientID
	frame.Community = ev.CommunityID
	g, gCtx := errgroup.WithContext(ctx)
	for _, key := range ev.GroupKeys() {
		key := key
		g.Go(func() error {
			return i.broker.Broadcast(gCtx, key, frame, uuid.Nil)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("notify new message %d: %w", ev.ID, err)
	}
	return nil
}

// NotifyMessageRead publishes a read receipt that originated outside any
// live session.
func (i *Ingress) NotifyMessageRead(ctx context.Context, receipt model.ReadReceipt) error {
	return i.publishReadReceipt(ctx, receipt, uuid.Nil)
}

// NotifyGroupChatMessage fans a community chat message out to the community
// group only; group chat has no per-recipient inbox or read state.
func (i *Ingress) NotifyGroupChatMessage(ctx context.Context, m model.GroupChatMessage) error {
	frame := model.NewGroupChatFrame(m)
	if err := i.broker.Broadcast(ctx, model.CommunityKey(m.CommunityID), frame, uuid.Nil); err != nil {
		return fmt.Errorf("notify group chat message %d: %w", m.ID, err)
	}
	return nil
}

// publishReadReceipt is the single receipt path shared by the dispatcher
// (WS mark_read, excluding the requesting session) and the ingress. It
// invalidates the affected unread entries and broadcasts to the message's
// groups.
func (i *Ingress) publishReadReceipt(ctx context.Context, receipt model.ReadReceipt, exclude uuid.UUID) error {
	i.unread.Invalidate(receipt.RecipientID, receipt.CommunityID)

	frame := model.NewMessageReadFrame(receipt.MessageID, receipt.ReadAt)
	frame.Recipient = receipt.RecipientID
	frame.Community = receipt.CommunityID
	keys := []model.GroupKey{model.UserKey(receipt.RecipientID)}
	if receipt.CommunityID != nil {
		keys = append(keys, model.CommunityKey(*receipt.CommunityID))
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return i.broker.Broadcast(gCtx, key, frame, exclude)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("publish read receipt for message %d: %w", receipt.MessageID, err)
	}
	return nil
}
