package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange = exchange
	f.key = key
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestPublishTelemetry(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "telemetry.exchange", "meter.reading.simulated", zap.NewNop())

	event := TelemetryEvent{
		VenID:         "ven-1",
		ResourceID:    "res-1",
		MeterID:       "meter-7",
		LoadComponent: "load_0",
		TimestampMS:   1700000000000,
		PowerW:        1250.5,
		Cursor:        42,
	}
	require.NoError(t, p.PublishTelemetry(context.Background(), event))

	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "telemetry.exchange", ch.exchange)
	assert.Equal(t, "meter.reading.simulated", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msgs[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &decoded))
	assert.Equal(t, "ven-1", decoded["ven_id"])
	assert.Equal(t, "load_0", decoded["load_component"])
	assert.EqualValues(t, 42, decoded["cursor"])
}

func TestPublishTelemetryError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newPublisher(ch, "x", "k", zap.NewNop())

	err := p.PublishTelemetry(context.Background(), TelemetryEvent{VenID: "ven-1"})
	assert.ErrorContains(t, err, "channel closed")
}

type fakeAcknowledger struct {
	acked  []uint64
	nacked []uint64
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	return nil
}

func TestConsumerAcksAndDeadLetters(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := &Consumer{
		logger: zap.NewNop(),
		handler: func(ctx context.Context, body []byte) error {
			if string(body) == "bad" {
				return errors.New("invalid command")
			}
			return nil
		},
	}

	c.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("good")})
	c.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("bad")})

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.nacked)
}
