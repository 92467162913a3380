package service

import (
	"context"
	"fmt"

	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/domain/registry"
)

// Deliverer is the primary interface for transport handlers (WebSocket,
// long-poll): it takes an authenticated session through the group join and
// registration, and tears it down again.
type Deliverer interface {
	// Subscribe requires an Authenticated session with a bound group.
	// On return the session is Subscribed, registered, and its connection
	// acknowledgement is the first frame in the outbound queue.
	Subscribe(ctx context.Context, sess *registry.Session) error

	// Unsubscribe closes the session; idempotent.
	Unsubscribe(sess *registry.Session)

	// NewSession creates a session with the configured queue sizing.
	NewSession(userID int64) *registry.Session
}

type DeliveryService struct {
	cfg      *config.Config
	broker   broker.Broker
	registry *registry.Registry
}

func NewDeliveryService(cfg *config.Config, b broker.Broker, reg *registry.Registry) *DeliveryService {
	return &DeliveryService{cfg: cfg, broker: b, registry: reg}
}

func (s *DeliveryService) NewSession(userID int64) *registry.Session {
	return registry.NewSession(userID, s.cfg.Session.SendBuffer, s.cfg.Session.SendTimeout)
}

func (s *DeliveryService) Subscribe(ctx context.Context, sess *registry.Session) error {
	key := sess.Group()
	if key.IsZero() {
		return fmt.Errorf("subscribe: session %s has no group bound", sess.ID())
	}

	// The acknowledgement is enqueued before the join so it stays ahead of
	// any broadcast that lands the instant the subscription exists.
	sess.Send(model.NewConnectionFrame(sess.UserID(), key.CommunityID()))

	if err := s.broker.Join(ctx, key, sess); err != nil {
		sess.Close()
		return fmt.Errorf("subscribe: join %s: %w", key.String(), err)
	}

	// Leave runs exactly once and only now that the join completed.
	sess.SetOnClose(func() {
		s.broker.Leave(key, sess.ID())
		s.registry.Unregister(sess.ID())
	})

	s.registry.Register(sess)
	if err := sess.Advance(registry.StateSubscribed); err != nil {
		sess.Close()
		return err
	}
	return nil
}

func (s *DeliveryService) Unsubscribe(sess *registry.Session) {
	sess.Close()
}
