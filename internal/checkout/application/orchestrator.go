package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/pkg/clock"
	"github.com/marketsys/checkout-core/pkg/outbox"
	"github.com/marketsys/checkout-core/pkg/tracing"
)

const aggregateCheckout = "checkout"

// DefaultSagaTimeout bounds how long a checkout may stay non-terminal before
// the timeout loop fails it.
const DefaultSagaTimeout = 30 * time.Minute

var ErrUnknownCheckout = errors.New("unknown checkout correlation id")

// Orchestrator drives checkout sagas. All state transitions happen under the
// repository's per-correlation row lock, and the commands each transition
// produces are staged in the saga's outbox within the same transaction.
type Orchestrator struct {
	log     *slog.Logger
	repo    SagaRepository
	clk     clock.Clock
	timeout time.Duration
}

func NewOrchestrator(log *slog.Logger, repo SagaRepository, clk clock.Clock, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultSagaTimeout
	}
	return &Orchestrator{log: log, repo: repo, clk: clk, timeout: timeout}
}

// Start creates a saga in Validating and stages the ValidateOrder command.
func (o *Orchestrator) Start(ctx context.Context, orderID, userID, cartID string, amountCents int64, items []domain.CartItem) (*domain.Checkout, error) {
	c, cmds, err := domain.StartCheckout(orderID, userID, cartID, amountCents, items, o.clk.Now())
	if err != nil {
		return nil, err
	}
	err = o.repo.WithCheckout(ctx, c.CorrelationID, func(ctx context.Context, tx SagaTx, existing *domain.Checkout) error {
		if existing != nil {
			return fmt.Errorf("checkout %s already started", c.CorrelationID)
		}
		if err := tx.Save(ctx, c); err != nil {
			return err
		}
		return o.enqueueCommands(ctx, tx, c.CorrelationID, cmds)
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("checkout started", "correlation_id", c.CorrelationID, "order_id", orderID)
	return c, nil
}

// HandleEvent applies one outcome event. Duplicate or out-of-order events are
// absorbed as no-ops without touching persisted state.
func (o *Orchestrator) HandleEvent(ctx context.Context, correlationID string, ev domain.Event) error {
	return o.repo.WithCheckout(ctx, correlationID, func(ctx context.Context, tx SagaTx, c *domain.Checkout) error {
		if c == nil {
			return fmt.Errorf("%w: %s", ErrUnknownCheckout, correlationID)
		}
		cmds, err := c.Apply(ev, o.clk.Now())
		if errors.Is(err, domain.ErrStaleEvent) {
			o.log.Info("stale saga event ignored", "correlation_id", correlationID,
				"state", string(c.State), "event", fmt.Sprintf("%T", ev))
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Save(ctx, c); err != nil {
			return err
		}
		if err := o.enqueueCommands(ctx, tx, correlationID, cmds); err != nil {
			return err
		}
		o.log.Info("saga advanced", "correlation_id", correlationID, "state", string(c.State))
		return nil
	})
}

// Cancel aborts an in-flight checkout, compensating any reservation it holds.
// Safe to call before Charging has completed.
func (o *Orchestrator) Cancel(ctx context.Context, correlationID, reason string) error {
	return o.HandleEvent(ctx, correlationID, domain.CancellationRequested{
		CorrelationID: correlationID,
		Reason:        reason,
	})
}

func (o *Orchestrator) Get(ctx context.Context, correlationID string) (*domain.Checkout, error) {
	return o.repo.Get(ctx, correlationID)
}

// TimeOutStale fails every non-terminal saga older than the timeout. A
// failure on one saga is logged and skipped.
func (o *Orchestrator) TimeOutStale(ctx context.Context, limit int) {
	cutoff := o.clk.Now().Add(-o.timeout)
	ids, err := o.repo.StaleCorrelationIDs(ctx, cutoff, limit)
	if err != nil {
		o.log.Error("stale saga scan failed", "err", err)
		return
	}
	for _, id := range ids {
		if err := o.HandleEvent(ctx, id, domain.TimedOut{}); err != nil {
			o.log.Error("saga timeout failed", "correlation_id", id, "err", err)
		}
	}
}

// RunTimeouts periodically sweeps for timed-out sagas.
func (o *Orchestrator) RunTimeouts(ctx context.Context, interval time.Duration, limit int) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("saga timeout loop stopping")
			return nil
		case <-t.C:
			o.TimeOutStale(ctx, limit)
		}
	}
}

func (o *Orchestrator) enqueueCommands(ctx context.Context, tx SagaTx, correlationID string, cmds []domain.Command) error {
	for _, cmd := range cmds {
		payload, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		msg := outbox.NewMessage(cmd.MessageType(), payload, correlationID, aggregateCheckout, correlationID)
		msg.Traceparent = tracing.Traceparent(ctx)
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
