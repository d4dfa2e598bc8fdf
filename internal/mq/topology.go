package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/redeploy/internal/domain"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeEvents — topic-обменник событий деплоя.
const ExchangeEvents Exchange = "redeploy.events"

// QueueOutcomes — долговременная очередь итогов деплоя для внешних потребителей.
const QueueOutcomes Queue = "redeploy.outcomes"

// Routing keys.
const (
	RoutingKeySucceeded  RoutingKey = "deploy.succeeded"
	RoutingKeyRolledBack RoutingKey = "deploy.rolled_back"
	RoutingKeyFailed     RoutingKey = "deploy.failed"

	// RoutingKeyAllDeploys — шаблон, которым очереди подписываются на все итоги.
	RoutingKeyAllDeploys RoutingKey = "deploy.*"
)

// RoutingKeyFor возвращает routing key для итога попытки.
func RoutingKeyFor(status domain.OutcomeStatus) RoutingKey {
	switch status {
	case domain.OutcomeSucceeded:
		return RoutingKeySucceeded
	case domain.OutcomeRolledBack:
		return RoutingKeyRolledBack
	default:
		return RoutingKeyFailed
	}
}

// SetupTopology объявляет обменник событий и очередь итогов.
// Операции идемпотентны, вызывается при каждом подключении.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents), // name
			amqp.ExchangeTopic,     // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}

		if _, err := ch.QueueDeclare(string(QueueOutcomes), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueOutcomes, err)
		}

		if err := ch.QueueBind(string(QueueOutcomes), string(RoutingKeyAllDeploys), string(ExchangeEvents), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueOutcomes, ExchangeEvents, err)
		}

		return nil
	})
}

// DeclareTailQueue объявляет временную эксклюзивную очередь, подписанную
// на все события деплоя. Используется командой events, чтобы не забирать
// сообщения из QueueOutcomes.
func DeclareTailQueue(ctx context.Context, conn *Connection) (Queue, error) {
	var name Queue

	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare(
			"",    // server-named
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare tail queue: %w", err)
		}

		if err := ch.QueueBind(q.Name, string(RoutingKeyAllDeploys), string(ExchangeEvents), false, nil); err != nil {
			return fmt.Errorf("bind tail queue: %w", err)
		}

		name = Queue(q.Name)
		return nil
	})

	return name, err
}
