package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TelemetryEvent is published for every live reading reported to the VTN
type TelemetryEvent struct {
	VenID         string  `json:"ven_id"`
	ResourceID    string  `json:"resource_id"`
	MeterID       string  `json:"meter_id"`
	LoadComponent string  `json:"load_component"`
	TimestampMS   int64   `json:"timestamp_ms"`
	PowerW        float64 `json:"power_w"`
	Cursor        int     `json:"cursor"`
}

// amqpChannel is the part of *amqp.Channel the publisher needs
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher fans simulated telemetry out to a topic exchange
type Publisher struct {
	mu         sync.Mutex
	channel    amqpChannel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher opens a channel and declares the telemetry exchange
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return newPublisher(ch, exchange, routingKey, logger), nil
}

func newPublisher(ch amqpChannel, exchange, routingKey string, logger *zap.Logger) *Publisher {
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

// PublishTelemetry publishes one reading as a persistent JSON message.
// Channels are not safe for concurrent publishing, so calls are serialized.
func (p *Publisher) PublishTelemetry(ctx context.Context, event TelemetryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}

	p.logger.Debug("published telemetry",
		zap.String("ven_id", event.VenID),
		zap.String("resource_id", event.ResourceID),
		zap.String("load_component", event.LoadComponent),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
