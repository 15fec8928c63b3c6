package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection owns the AMQP connection shared by the telemetry publisher
// and the status command consumer.
type Connection struct {
	conn *amqp.Connection
}

// NewConnection dials the broker and closes the connection on fx stop
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("connecting to message broker")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("message broker connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ] cannot connect, check RABBITMQ_URL and that the broker is reachable: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close broker connection", zap.Error(err))
				return err
			}
			logger.Info("broker connection closed")
			return nil
		},
	})

	return &Connection{conn: conn}, nil
}

// Channel opens a new channel on the shared connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

func declareTopicExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
