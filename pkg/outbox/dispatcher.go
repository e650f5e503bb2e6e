package outbox

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher turns an outbox message into a kafka message on a fixed topic.
type Dispatcher struct {
	log      *slog.Logger
	producer Producer
	topic    string
}

func NewDispatcher(log *slog.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+3)

	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: "message_id", Value: []byte(msg.ID)},
		kafka.Header{Key: "message_type", Value: []byte(msg.MessageType)},
		kafka.Header{Key: "correlation_id", Value: []byte(msg.CorrelationID)},
	)
	if msg.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(msg.Traceparent)})
	}

	km := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(msg.CorrelationID),
		Value:   msg.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, km); err != nil {
		d.log.Error("outbox dispatch failed", "message_id", msg.ID, "type", msg.MessageType, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "message_id", msg.ID, "type", msg.MessageType)
	return nil
}
