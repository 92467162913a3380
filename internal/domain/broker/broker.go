package broker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/domain/model"
)

// ErrUnavailable reports that the broadcast backend could not accept the
// event within the configured retry budget. The event is logged for
// out-of-band recovery; other sessions are unaffected.
var ErrUnavailable = errors.New("broker: backend unavailable")

// Subscriber is the delivery sink the broker fans events out to. Sessions
// implement it; Send reports false when the frame could not be queued
// (closed session or saturated buffer).
type Subscriber interface {
	ID() uuid.UUID
	Send(f model.Frame) bool
}

// Broker routes frames to every subscriber of a logical group. The two
// backends (in-process table, bus adapter) expose identical semantics;
// call sites never branch on which one they hold.
type Broker interface {
	// Join registers a subscriber under the key. Idempotent.
	Join(ctx context.Context, key model.GroupKey, sub Subscriber) error

	// Leave removes the subscription. A no-op for unknown sessions.
	Leave(key model.GroupKey, sessionID uuid.UUID)

	// Broadcast delivers the frame to a consistent snapshot of the group's
	// subscribers, skipping exclude when it is non-nil. Subscribers joining
	// concurrently with an in-flight broadcast may miss that broadcast.
	Broadcast(ctx context.Context, key model.GroupKey, f model.Frame, exclude uuid.UUID) error
}
