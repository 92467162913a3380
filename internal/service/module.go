package service

import (
	"github.com/modhub/message-delivery-service/config"
	"github.com/modhub/message-delivery-service/internal/domain/broker"
	"github.com/modhub/message-delivery-service/internal/store"
	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
		func(cfg *config.Config, s store.Store) *UnreadCounter {
			return NewUnreadCounter(s, cfg.Unread.CacheSize)
		},
		NewIngress,
		NewDispatcher,
	),
	// With the bus backend, events ingressed on other nodes must drop this
	// node's cached unread counts when they are redelivered here.
	fx.Invoke(func(b broker.Broker, unread *UnreadCounter) {
		if bus, ok := b.(*broker.Bus); ok {
			bus.SetInvalidator(unread.Invalidate)
		}
	}),
)
