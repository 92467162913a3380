package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
	"github.com/modhub/message-delivery-service/internal/store"
	"github.com/stretchr/testify/require"
)

func TestIngressNotifyNewMessageFansOut(t *testing.T) {
	env := newTestEnv(t)
	communityID := int64(7)

	inbox := env.subscribe(t, 1, model.UserKey(1))
	moderator := env.subscribe(t, 3, model.CommunityKey(communityID))
	bystander := env.subscribe(t, 9, model.UserKey(9))

	ev := model.MessageEvent{ID: 100, SenderID: 2, RecipientID: 1, CommunityID: &communityID, Subject: "hi"}
	env.store.Put(ev)
	require.NoError(t, env.ingress.NotifyNewMessage(context.Background(), ev))

	inboxFrame := recvFrame(t, inbox)
	require.Equal(t, "new_message", inboxFrame["type"])
	message := inboxFrame["message"].(map[string]any)
	require.Equal(t, float64(100), message["id"])
	require.Equal(t, "hi", message["subject"])

	require.Equal(t, "new_message", recvFrame(t, moderator)["type"])
	requireNoFrame(t, bystander)
}

func TestIngressNotifyNewMessageDirectOnly(t *testing.T) {
	env := newTestEnv(t)
	inbox := env.subscribe(t, 1, model.UserKey(1))
	community := env.subscribe(t, 3, model.CommunityKey(7))

	ev := model.MessageEvent{ID: 100, SenderID: 2, RecipientID: 1}
	env.store.Put(ev)
	require.NoError(t, env.ingress.NotifyNewMessage(context.Background(), ev))

	require.Equal(t, "new_message", recvFrame(t, inbox)["type"])
	requireNoFrame(t, community)
}

func TestIngressNotifyNewMessageInvalidatesUnread(t *testing.T) {
	env := newTestEnv(t)

	// Warm the cache with an empty inbox.
	count, err := env.unread.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	ev := model.MessageEvent{ID: 100, SenderID: 2, RecipientID: 1}
	env.store.Put(ev)
	require.NoError(t, env.ingress.NotifyNewMessage(context.Background(), ev))

	count, err = env.unread.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestIngressNotifyMessageRead(t *testing.T) {
	env := newTestEnv(t)
	communityID := int64(7)

	inbox := env.subscribe(t, 1, model.UserKey(1))
	moderator := env.subscribe(t, 3, model.CommunityKey(communityID))

	receipt := model.ReadReceipt{MessageID: 100, RecipientID: 1, CommunityID: &communityID, ReadAt: testNow}
	require.NoError(t, env.ingress.NotifyMessageRead(context.Background(), receipt))

	// An out-of-band receipt has no originating session, everyone gets it.
	payload := recvFrame(t, inbox)
	require.Equal(t, "message_read", payload["type"])
	require.Equal(t, testNow.Format(time.RFC3339), payload["read_at"])
	require.Equal(t, "message_read", recvFrame(t, moderator)["type"])
}

// TestIngressInvalidatesUnreadAcrossNodes runs two bus-backed nodes over a
// shared store: an event ingressed on one node must drop the other node's
// cached count, not just deliver the frame.
func TestIngressInvalidatesUnreadAcrossNodes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	st := store.NewMemory()

	busA := broker.NewBus(broker.NewMemory(logger), ps, ps, logger, 2)
	t.Cleanup(busA.Close)
	unreadA := NewUnreadCounter(st, 128)
	ingressA := NewIngress(busA, unreadA, logger)
	busA.SetInvalidator(unreadA.Invalidate)

	busB := broker.NewBus(broker.NewMemory(logger), ps, ps, logger, 2)
	t.Cleanup(busB.Close)
	unreadB := NewUnreadCounter(st, 128)
	busB.SetInvalidator(unreadB.Invalidate)

	// The recipient's session lives on node B.
	sessB := registry.NewSession(1, 16, 50*time.Millisecond)
	require.NoError(t, sessB.Advance(registry.StateAuthenticated))
	require.NoError(t, sessB.BindGroup(model.UserKey(1)))
	require.NoError(t, busB.Join(context.Background(), model.UserKey(1), sessB))
	t.Cleanup(sessB.Close)

	// Warm node B's cache on an empty inbox.
	count, err := unreadB.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	// The message ingresses on node A.
	ev := model.MessageEvent{ID: 100, SenderID: 2, RecipientID: 1}
	st.Put(ev)
	require.NoError(t, ingressA.NotifyNewMessage(context.Background(), ev))

	// Redelivery invalidates before it hands the frame to the local table,
	// so once the frame arrived the stale entry is gone.
	select {
	case f := <-sessB.Recv():
		require.Equal(t, model.FrameNewMessage, f.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered across the bus")
	}
	count, err = unreadB.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Same for read receipts: a mark-read entering on node A drops node B's
	// now-cached count of 1.
	readAt := time.Now().UTC()
	_, _, err = st.MarkRead(context.Background(), 100, readAt)
	require.NoError(t, err)
	require.NoError(t, ingressA.NotifyMessageRead(context.Background(), model.ReadReceipt{MessageID: 100, RecipientID: 1, ReadAt: readAt}))

	select {
	case f := <-sessB.Recv():
		require.Equal(t, model.FrameMessageRead, f.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no receipt delivered across the bus")
	}
	count, err = unreadB.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestIngressNotifyGroupChatMessage(t *testing.T) {
	env := newTestEnv(t)
	inbox := env.subscribe(t, 1, model.UserKey(1))
	community := env.subscribe(t, 3, model.CommunityKey(7))

	m := model.GroupChatMessage{ID: 5, SenderID: 1, CommunityID: 7, Body: "hello all"}
	require.NoError(t, env.ingress.NotifyGroupChatMessage(context.Background(), m))

	payload := recvFrame(t, community)
	require.Equal(t, "new_group_chat_message", payload["type"])
	message := payload["message"].(map[string]any)
	require.Equal(t, "hello all", message["body"])

	// Group chat never touches personal inboxes.
	requireNoFrame(t, inbox)
}
