package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PaymentEventsQueue is the durable queue carrying all payment lifecycle
// events. Consumers filter by source service from the envelope.
const PaymentEventsQueue = "payment.events"

const publishTimeout = 3 * time.Second

// AMQPPublisher implements Publisher on top of a RabbitMQ channel.
type AMQPPublisher struct {
	ch    *amqp.Channel
	codec Codec
}

// NewAMQPPublisher opens a channel, declares the payment events queue and
// returns a publisher using the given codec (JSONCodec when nil).
func NewAMQPPublisher(conn *amqp.Connection, codec Codec) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// Declare the queue so publish never fails due to missing infra.
	if _, err := ch.QueueDeclare(PaymentEventsQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare %s: %w", PaymentEventsQueue, err)
	}

	if codec == nil {
		codec = JSONCodec{}
	}
	return &AMQPPublisher{ch: ch, codec: codec}, nil
}

// Close closes the underlying channel.
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// Publish sends the envelope to the payment events queue.
func (p *AMQPPublisher) Publish(ctx context.Context, env *Envelope) error {
	body, err := p.codec.Marshal(env)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		"",                 // default exchange
		PaymentEventsQueue, // queue name as routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  p.codec.ContentType(),
			DeliveryMode: amqp.Persistent,
			Timestamp:    env.Timestamp,
			Body:         body,
		},
	)
}

// StartConsumer consumes the payment events queue and dispatches each message
// to handler. Handler errors are logged and the message is nacked without
// requeue so one poison message never blocks the stream. The loop stops when
// ctx is cancelled.
func StartConsumer(ctx context.Context, conn *amqp.Connection, consumerTag string, codec Codec, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = JSONCodec{}
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(PaymentEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(
		PaymentEventsQueue,
		consumerTag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("stopping payment events consumer", "consumer", consumerTag)
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Warn("payment events channel closed", "consumer", consumerTag)
					return
				}

				var env Envelope
				if err := codec.Unmarshal(msg.Body, &env); err != nil {
					logger.Error("failed to decode payment event", "consumer", consumerTag, "error", err)
					_ = msg.Nack(false, false)
					continue
				}

				if err := handler(ctx, &env); err != nil {
					logger.Error("payment event handler failed",
						"consumer", consumerTag,
						"event_type", env.EventType,
						"payment_id", env.PaymentID,
						"error", err,
					)
					_ = msg.Nack(false, false)
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()

	return nil
}
