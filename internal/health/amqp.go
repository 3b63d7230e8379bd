package health

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrAMQPClosed indicates the broker connection has been closed.
var ErrAMQPClosed = errors.New("amqp connection closed")

// AMQPChecker implements health checking for the RabbitMQ connection.
type AMQPChecker struct {
	conn *amqp.Connection
}

// NewAMQPChecker creates a new RabbitMQ health checker.
func NewAMQPChecker(conn *amqp.Connection) *AMQPChecker {
	return &AMQPChecker{
		conn: conn,
	}
}

// HealthCheck reports an error when the broker connection is closed.
func (a *AMQPChecker) HealthCheck(_ context.Context) error {
	if a.conn.IsClosed() {
		return ErrAMQPClosed
	}
	return nil
}
