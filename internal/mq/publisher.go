package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/redeploy/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений совпадают с routing key.
const (
	MessageTypeSucceeded  MessageType = "deploy.succeeded"
	MessageTypeRolledBack MessageType = "deploy.rolled_back"
	MessageTypeFailed     MessageType = "deploy.failed"
)

// Message — конверт события.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewOutcomeMessage упаковывает итог попытки в конверт.
func NewOutcomeMessage(outcome domain.Outcome) *Message {
	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageType(RoutingKeyFor(outcome.Status)),
		Payload:   outcome,
		Timestamp: ts,
	}
}

// Publisher публикует события деплоя в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishOutcome публикует итог попытки деплоя и ждёт подтверждения брокера.
func (p *Publisher) PublishOutcome(ctx context.Context, outcome domain.Outcome) error {
	msg := NewOutcomeMessage(outcome)
	return p.Publish(ctx, ExchangeEvents, RoutingKeyFor(outcome.Status), msg)
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		if confirm != nil {
			acked, err := confirm.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("wait confirm %s/%s: %w", exchange, routingKey, err)
			}
			if !acked {
				return fmt.Errorf("%w: %s/%s", ErrNotConfirmed, exchange, routingKey)
			}
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}
