package model

import "time"

// MessageEvent is an immutable snapshot of a stored message. It is produced
// by the message store (or arrives fully formed on the bus) and is only ever
// forwarded by the delivery core, never mutated.
type MessageEvent struct {
	ID          int64      `json:"id"`
	SenderID    int64      `json:"sender_id"`
	RecipientID int64      `json:"recipient_id"`
	CommunityID *int64     `json:"community_id,omitempty"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GroupKeys resolves every broadcast group this message belongs to:
// always the recipient's personal inbox, plus the community when set.
func (m MessageEvent) GroupKeys() []GroupKey {
	keys := []GroupKey{UserKey(m.RecipientID)}
	if m.CommunityID != nil {
		keys = append(keys, CommunityKey(*m.CommunityID))
	}
	return keys
}

// GroupChatMessage is a community-wide chat message. Unlike MessageEvent it
// has no single recipient and carries no read state; it fans out to the
// community group only.
type GroupChatMessage struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	CommunityID int64     `json:"community_id"`
	Body        string    `json:"body"`
	ReplyToID   *int64    `json:"reply_to_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReadReceipt records the unread to read transition of a message. At most one
// receipt is meaningful per message; repeated mark-read yields the original.
type ReadReceipt struct {
	MessageID   int64     `json:"message_id"`
	RecipientID int64     `json:"recipient_id"`
	CommunityID *int64    `json:"community_id,omitempty"`
	ReadAt      time.Time `json:"read_at"`
}
