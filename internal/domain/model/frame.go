package model

import (
	"encoding/json"
	"time"
)

// Inbound control frame types.
const (
	FramePing           = "ping"
	FrameMarkRead       = "mark_read"
	FrameGetUnreadCount = "get_unread_count"
)

// Outbound frame types.
const (
	FrameConnection   = "connection"
	FrameNewMessage   = "new_message"
	FrameMessageRead  = "message_read"
	FramePong         = "pong"
	FrameUnreadCount  = "unread_count"
	FrameError        = "error"
	FrameNewGroupChat = "new_group_chat_message"
)

// InboundFrame is the discriminated control frame read from a client.
// Unknown Type values are ignored by the dispatcher.
type InboundFrame struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"message_id,omitempty"`
	CommunityID *int64 `json:"community_id,omitempty"`
}

// Frame is one outbound protocol frame, encoded exactly once so a broadcast
// to N sessions marshals a single time regardless of fan-out width.
type Frame struct {
	Type string
	Data []byte // complete JSON object, including the "type" discriminator

	// Recipient and Community name the unread entries this frame dirties,
	// so the invalidation reaches every node it crosses on the bus. Zero
	// Recipient means the frame does not touch unread state. Not part of
	// the client wire format.
	Recipient int64
	Community *int64
}

// encode never fails for the closed set of payload types below; the blank
// error keeps constructors chainable.
func encode(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func NewConnectionFrame(userID int64, communityID *int64) Frame {
	return Frame{Type: FrameConnection, Data: encode(struct {
		Type        string `json:"type"`
		Message     string `json:"message"`
		UserID      int64  `json:"user_id"`
		CommunityID *int64 `json:"community_id,omitempty"`
	}{FrameConnection, "connected", userID, communityID})}
}

func NewMessageFrame(ev MessageEvent) Frame {
	return Frame{Type: FrameNewMessage, Data: encode(struct {
		Type    string       `json:"type"`
		Message MessageEvent `json:"message"`
	}{FrameNewMessage, ev})}
}

func NewMessageReadFrame(messageID int64, readAt time.Time) Frame {
	return Frame{Type: FrameMessageRead, Data: encode(struct {
		Type      string    `json:"type"`
		MessageID int64     `json:"message_id"`
		ReadAt    time.Time `json:"read_at"`
	}{FrameMessageRead, messageID, readAt})}
}

func NewPongFrame() Frame {
	return Frame{Type: FramePong, Data: encode(struct {
		Type string `json:"type"`
	}{FramePong})}
}

func NewUnreadCountFrame(count int, communityID *int64) Frame {
	return Frame{Type: FrameUnreadCount, Data: encode(struct {
		Type        string `json:"type"`
		Count       int    `json:"count"`
		CommunityID *int64 `json:"community_id,omitempty"`
	}{FrameUnreadCount, count, communityID})}
}

func NewErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Data: encode(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{FrameError, message})}
}

func NewGroupChatFrame(m GroupChatMessage) Frame {
	return Frame{Type: FrameNewGroupChat, Data: encode(struct {
		Type    string           `json:"type"`
		Message GroupChatMessage `json:"message"`
	}{FrameNewGroupChat, m})}
}
