// Package store defines the message-store contract the delivery core
// consumes. The core never owns message persistence; it reads snapshots,
// flips read state, and counts unread rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/modhub/message-delivery-service/internal/domain/model"
)

// ErrNotFound reports a message that does not exist. Callers also map
// foreign messages (wrong recipient) onto it so existence never leaks.
var ErrNotFound = errors.New("store: message not found")

type Store interface {
	// FindMessage returns the current snapshot of one message.
	FindMessage(ctx context.Context, id int64) (model.MessageEvent, error)

	// MarkRead transitions a message to read. Atomic and idempotent: the
	// first caller wins and its timestamp sticks; later callers get the
	// original readAt with already=true and no state change.
	MarkRead(ctx context.Context, id int64, at time.Time) (readAt time.Time, already bool, err error)

	// CountUnread counts unread messages for a recipient, optionally
	// narrowed to one community. Zero when there are none.
	CountUnread(ctx context.Context, userID int64, communityID *int64) (int, error)
}
