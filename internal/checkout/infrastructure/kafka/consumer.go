package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketsys/checkout-core/internal/checkout/application"
	"github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/pkg/idempotency"
	"github.com/marketsys/checkout-core/pkg/tracing"
)

// Consumer feeds outcome events from one collaborator topic into the saga
// orchestrator.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	orch   *application.Orchestrator
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, orch *application.Orchestrator, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		orch:   orch,
		idem:   idem,
		tracer: otel.Tracer("checkout-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		c.process(ctx, msg)
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	messageType := headerValue(msg.Headers, "message_type")
	messageID := headerValue(msg.Headers, "message_id")
	correlationID := headerValue(msg.Headers, "correlation_id")
	if correlationID == "" {
		// Ledger housekeeping events without a checkout attached.
		return
	}

	ev, err := decodeEvent(messageType, msg.Value)
	if err != nil {
		c.log.Error("event decode failed", "type", messageType, "err", err)
		return
	}
	if ev == nil {
		return
	}

	if messageID != "" {
		seen, err := c.idem.Seen(ctx, c.idem.MessageKey(messageID))
		if err != nil {
			c.log.Error("idempotency check failed", "message_id", messageID, "err", err)
			return
		}
		if seen {
			c.log.Info("duplicate event skipped", "message_id", messageID, "type", messageType)
			return
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "Handle"+messageType)
	defer span.End()

	if err := c.orch.HandleEvent(msgCtx, correlationID, ev); err != nil {
		if errors.Is(err, application.ErrUnknownCheckout) {
			c.log.Warn("event for unknown checkout", "correlation_id", correlationID, "type", messageType)
			return
		}
		c.log.Error("event handling failed", "correlation_id", correlationID, "type", messageType, "err", err)
	}
}

// decodeEvent maps a wire message onto a saga event. Unknown types return
// (nil, nil) and are skipped; this topic also carries messages meant for
// other collaborators.
func decodeEvent(messageType string, payload []byte) (domain.Event, error) {
	var (
		ev  domain.Event
		err error
	)
	switch messageType {
	case domain.EventValidationSucceeded:
		var e domain.ValidationSucceeded
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventValidationFailed:
		var e domain.ValidationFailed
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventStockReserved:
		var e domain.StockReserved
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventReservationFailed:
		var e domain.ReservationFailed
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventPaymentSucceeded:
		var e domain.PaymentSucceeded
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventPaymentFailed:
		var e domain.PaymentFailed
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventOrderConfirmed:
		var e domain.OrderConfirmed
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventCompensationCompleted:
		var e domain.CompensationCompleted
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", messageType, err)
	}
	return ev, nil
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
