package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	checkout "github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/internal/inventory/application"
	"github.com/marketsys/checkout-core/pkg/idempotency"
	"github.com/marketsys/checkout-core/pkg/tracing"
)

// Consumer handles the checkout saga's ledger-facing commands. Commands aimed
// at other collaborators on the same topic are skipped.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("inventory-consumer"),
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

	switch messageType {
	case checkout.CommandReserveStock, checkout.CommandConvertReservations, checkout.CommandReleaseReservation:
	default:
		return
	}

	if messageID != "" {
		seen, err := c.idem.Seen(ctx, c.idem.MessageKey(messageID))
		if err != nil {
			c.log.Error("idempotency check failed", "message_id", messageID, "err", err)
			return
		}
		if seen {
			c.log.Info("duplicate command skipped", "message_id", messageID, "type", messageType)
			return
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "Handle"+messageType)
	defer span.End()

	var err error
	switch messageType {
	case checkout.CommandReserveStock:
		var cmd checkout.ReserveStock
		if err = json.Unmarshal(msg.Value, &cmd); err == nil {
			err = c.svc.ReserveForCheckout(msgCtx, cmd)
		}
	case checkout.CommandConvertReservations:
		var cmd checkout.ConvertReservations
		if err = json.Unmarshal(msg.Value, &cmd); err == nil {
			err = c.svc.ConvertForCheckout(msgCtx, cmd)
		}
	case checkout.CommandReleaseReservation:
		var cmd checkout.ReleaseReservation
		if err = json.Unmarshal(msg.Value, &cmd); err == nil {
			err = c.svc.ReleaseForCheckout(msgCtx, cmd)
		}
	}
	if err != nil {
		c.log.Error("command handling failed", "type", messageType, "message_id", messageID, "err", err)
		return
	}
	c.log.Info("command handled", "type", messageType, "message_id", messageID)
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
