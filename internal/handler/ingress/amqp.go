package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/service"
)

const (
	// Topics published by the messaging platform after durable storage.
	TopicMessageCreated   = "message.created.v1"
	TopicMessageRead      = "message.read.v1"
	TopicGroupChatCreated = "groupchat.created.v1"

	// PoisonTopic collects payloads that repeatedly fail handling.
	PoisonTopic = "delivery.ingress.poison"
)

// AMQPHandler feeds bus-originated events into the ingress service. Every
// node consumes from its own queues, so with the in-process broker backend
// each node delivers to exactly the sessions it hosts.
type AMQPHandler struct {
	logger  *slog.Logger
	ingress *service.Ingress
}

func NewAMQPHandler(logger *slog.Logger, ing *service.Ingress) *AMQPHandler {
	return &AMQPHandler{logger: logger, ingress: ing}
}

func (h *AMQPHandler) OnMessageCreated(ctx context.Context, ev *model.MessageEvent) error {
	return h.ingress.NotifyNewMessage(ctx, *ev)
}

func (h *AMQPHandler) OnMessageRead(ctx context.Context, receipt *model.ReadReceipt) error {
	return h.ingress.NotifyMessageRead(ctx, *receipt)
}

func (h *AMQPHandler) OnGroupChatCreated(ctx context.Context, msg *model.GroupChatMessage) error {
	return h.ingress.NotifyGroupChatMessage(ctx, *msg)
}

// RegisterHandlers wires the listener table into the router with the
// shared middleware chain. Add new domain listeners by extending the table.
func (h *AMQPHandler) RegisterHandlers(router *message.Router, sub message.Subscriber, pub message.Publisher) error {
	poison, err := middleware.PoisonQueue(pub, PoisonTopic)
	if err != nil {
		return err
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"on_message_created", TopicMessageCreated, bind(h, h.OnMessageCreated)},
		{"on_message_read", TopicMessageRead, bind(h, h.OnMessageRead)},
		{"on_groupchat_created", TopicGroupChatCreated, bind(h, h.OnGroupChatCreated)},
	}

	for _, c := range configs {
		router.AddNoPublisherHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			CorrelationIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware().Middleware,
			poison,
			middleware.Timeout(30*time.Second),
		)
	}

	h.logger.Info("amqp ingress listeners registered", "count", len(configs))
	return nil
}

// domainHandler is the functional signature of the business half of a
// listener.
type domainHandler[T any] func(ctx context.Context, payload *T) error

// bind connects watermill to domain logic: panic recovery, decode, execute.
// Undecodable payloads are acked (poison protection); business failures are
// nacked so the retry policy applies.
func bind[T any](h *AMQPHandler, fn domainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("listener panic recovered",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
			}
		}()

		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("undecodable ingress payload", "msg_id", msg.UUID, "error", err)
			return nil
		}
		return fn(msg.Context(), payload)
	}
}

// CorrelationIDMiddleware ensures a correlation id survives the call chain.
func CorrelationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if middleware.MessageCorrelationID(msg) == "" {
			middleware.SetCorrelationID(uuid.NewString(), msg)
		}
		return h(msg)
	}
}

// LoggingMiddleware records outcome and latency per consumed message.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			logger.Debug("ingress event handled",
				"msg_id", msg.UUID,
				"correlation_id", middleware.MessageCorrelationID(msg),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}

func NewRetryMiddleware() middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
	}
}
