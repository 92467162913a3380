package ingress

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/config"
	"go.uber.org/fx"
)

// Module provides the HTTP ingress endpoints.
var Module = fx.Module("ingress",
	fx.Provide(NewHTTPHandler),
)

// AMQPModule runs the per-node bus listeners. Included only when
// ingress.amqp_enabled is set (in-process broker topology).
var AMQPModule = fx.Module("ingress-amqp",
	fx.Provide(NewAMQPHandler),
	fx.Invoke(runRouter),
)

func runRouter(lc fx.Lifecycle, cfg *config.Config, wmLogger watermill.LoggerAdapter, h *AMQPHandler) error {
	nodeSuffix := "." + uuid.NewString()[:8]
	amqpCfg := amqp.NewDurablePubSubConfig(cfg.Ingress.AMQPURL, amqp.GenerateQueueNameTopicNameWithSuffix(nodeSuffix))

	sub, err := amqp.NewSubscriber(amqpCfg, wmLogger)
	if err != nil {
		return fmt.Errorf("ingress: amqp subscriber: %w", err)
	}
	pub, err := amqp.NewPublisher(amqpCfg, wmLogger)
	if err != nil {
		return fmt.Errorf("ingress: amqp publisher: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return fmt.Errorf("ingress: router: %w", err)
	}
	if err := h.RegisterHandlers(router, sub, pub); err != nil {
		return fmt.Errorf("ingress: register handlers: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					h.logger.Error("ingress router stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return nil
}
