package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("broker",
	fx.Provide(
		NewMemory,
		provideBroker,
	),
)

// provideBroker selects the backend from configuration. Call sites depend
// on the Broker interface only and never learn which one they got.
func provideBroker(lc fx.Lifecycle, cfg *config.Config, local *Memory, logger *slog.Logger, wmLogger watermill.LoggerAdapter) (Broker, error) {
	switch cfg.Broker.Backend {
	case config.BrokerMemory:
		return local, nil

	case config.BrokerAMQP:
		// Per-node queue names give fan-out semantics: every node holds its
		// own copy of each group queue and re-delivers to local sessions.
		nodeSuffix := "." + uuid.NewString()[:8]
		amqpCfg := amqp.NewDurablePubSubConfig(cfg.Broker.AMQPURL, amqp.GenerateQueueNameTopicNameWithSuffix(nodeSuffix))

		pub, err := amqp.NewPublisher(amqpCfg, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("broker: amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("broker: amqp subscriber: %w", err)
		}

		bus := NewBus(local, pub, sub, logger, cfg.Broker.PublishRetries)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				bus.Close()
				if err := pub.Close(); err != nil {
					return err
				}
				return sub.Close()
			},
		})
		return bus, nil

	default:
		return nil, fmt.Errorf("broker: unknown backend %q", cfg.Broker.Backend)
	}
}
