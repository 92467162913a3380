package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/metrics"
	"github.com/sony/gobreaker"
)

// envelope is the bus wire format for one broadcast. The exclusion and the
// unread-invalidation target travel with the event so the originating
// session is skipped and stale cached counts are dropped on every node.
type envelope struct {
	FrameType string          `json:"frame_type"`
	Data      json.RawMessage `json:"data"`
	Exclude   string          `json:"exclude,omitempty"`
	Recipient int64           `json:"recipient,omitempty"`
	Community *int64          `json:"community,omitempty"`
}

// Bus is the distributed backend: Broadcast publishes to the message bus
// and every node re-delivers into its local table on behalf of the sessions
// it hosts. With per-node queues each published event reaches each node
// exactly once, the publisher's own node included.
type Bus struct {
	local   *Memory
	pub     message.Publisher
	sub     message.Subscriber
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	retries uint64

	// invalidate drops the unread entries a redelivered event dirtied.
	// Optional; wired by the service layer.
	invalidate func(userID int64, communityID *int64)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[model.GroupKey]context.CancelFunc
}

func NewBus(local *Memory, pub message.Publisher, sub message.Subscriber, logger *slog.Logger, publishRetries int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		local:  local,
		pub:    pub,
		sub:    sub,
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "bus-publish",
			Timeout: 10 * time.Second,
		}),
		retries:  uint64(publishRetries),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[model.GroupKey]context.CancelFunc),
	}
}

// SetInvalidator installs the unread-cache invalidation hook run for every
// redelivered event that carries an invalidation target. Called once during
// wiring, before any Join.
func (b *Bus) SetInvalidator(fn func(userID int64, communityID *int64)) {
	b.invalidate = fn
}

// Join subscribes locally and, for the first local member of a group,
// opens the bus subscription for that group's topic. The bus channel is
// established synchronously so a broadcast issued right after Join returns
// is already routable to this node.
func (b *Bus) Join(ctx context.Context, key model.GroupKey, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.local.Join(ctx, key, sub); err != nil {
		return err
	}
	if _, ok := b.watchers[key]; ok {
		return nil
	}

	watchCtx, stop := context.WithCancel(b.ctx)
	ch, err := b.sub.Subscribe(watchCtx, key.Topic())
	if err != nil {
		stop()
		b.local.Leave(key, sub.ID())
		return fmt.Errorf("%w: subscribe %s: %w", ErrUnavailable, key.Topic(), err)
	}
	b.watchers[key] = stop
	go b.redeliver(key, ch)
	return nil
}

func (b *Bus) Leave(key model.GroupKey, sessionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.local.Leave(key, sessionID)
	if b.local.GroupSize(key) == 0 {
		if stop, ok := b.watchers[key]; ok {
			stop()
			delete(b.watchers, key)
		}
	}
}

// Broadcast publishes the frame to the group's topic. The circuit breaker
// keeps a dead bus from stalling every session; within it, publishing is
// retried with exponential backoff up to the configured budget. A final
// failure is logged for out-of-band recovery and surfaced to the caller,
// never escalated beyond it.
func (b *Bus) Broadcast(ctx context.Context, key model.GroupKey, f model.Frame, exclude uuid.UUID) error {
	payload, err := json.Marshal(envelope{
		FrameType: f.Type,
		Data:      f.Data,
		Exclude:   excludeString(exclude),
		Recipient: f.Recipient,
		Community: f.Community,
	})
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	_, err = b.breaker.Execute(func() (any, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 100 * time.Millisecond
		bo.MaxInterval = 2 * time.Second
		return nil, backoff.Retry(func() error {
			msg := message.NewMessage(watermill.NewUUID(), payload)
			msg.SetContext(ctx)
			return b.pub.Publish(key.Topic(), msg)
		}, backoff.WithContext(backoff.WithMaxRetries(bo, b.retries), ctx))
	})
	if err != nil {
		metrics.BusPublishFailures.Inc()
		b.logger.Error("broadcast delivery failed", "group", key.String(), "frame", f.Type, "error", err)
		return fmt.Errorf("%w: publish %s: %w", ErrUnavailable, key.Topic(), err)
	}
	return nil
}

// redeliver drains one group's bus subscription into the local table.
func (b *Bus) redeliver(key model.GroupKey, ch <-chan *message.Message) {
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			b.logger.Error("malformed bus envelope", "group", key.String(), "msg_id", msg.UUID, "error", err)
			msg.Ack() // poison, re-delivery cannot help
			continue
		}

		exclude := uuid.Nil
		if env.Exclude != "" {
			if id, err := uuid.Parse(env.Exclude); err == nil {
				exclude = id
			}
		}

		// Invalidate before delivering, so a session that reacts to the
		// frame with get_unread_count never reads a stale entry.
		if env.Recipient != 0 && b.invalidate != nil {
			b.invalidate(env.Recipient, env.Community)
		}
		_ = b.local.Broadcast(msg.Context(), key, model.Frame{Type: env.FrameType, Data: env.Data}, exclude)
		msg.Ack()
	}
}

// Close tears down every bus subscription. Local sessions are closed by the
// registry drain, not here.
func (b *Bus) Close() {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, stop := range b.watchers {
		stop()
		delete(b.watchers, key)
	}
}

func excludeString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
