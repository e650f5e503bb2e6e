package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateValidating   State = "validating"
	StateReserving    State = "reserving"
	StateCharging     State = "charging"
	StateConfirming   State = "confirming"
	StateCompensating State = "compensating"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrStaleEvent marks an event that does not apply to the saga's current
// state: a duplicate delivery or an out-of-order arrival. Callers treat it as
// an idempotent no-op.
var ErrStaleEvent = errors.New("event does not apply to current saga state")

type CartItem struct {
	SKUID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
}

// Checkout is one checkout attempt's saga instance. A single writer advances
// it at a time; the repository serializes access per correlation id.
type Checkout struct {
	CorrelationID string
	OrderID       string
	UserID        string
	CartID        string
	AmountCents   int64
	Items         []CartItem
	ReservationID string
	TransactionID string
	State         State
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// StartCheckout creates a saga in Validating and returns the command that
// kicks off validation.
func StartCheckout(orderID, userID, cartID string, amountCents int64, items []CartItem, now time.Time) (*Checkout, []Command, error) {
	if orderID == "" || userID == "" || cartID == "" {
		return nil, nil, fmt.Errorf("order id, user id and cart id must not be empty")
	}
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("checkout must contain at least one item")
	}
	for _, it := range items {
		if it.SKUID == "" || it.Quantity <= 0 {
			return nil, nil, fmt.Errorf("invalid cart item: sku %q quantity %d", it.SKUID, it.Quantity)
		}
	}

	c := &Checkout{
		CorrelationID: uuid.NewString(),
		OrderID:       orderID,
		UserID:        userID,
		CartID:        cartID,
		AmountCents:   amountCents,
		Items:         items,
		State:         StateValidating,
		StartedAt:     now,
	}
	cmds := []Command{ValidateOrder{
		CorrelationID: c.CorrelationID,
		OrderID:       orderID,
		UserID:        userID,
		CartID:        cartID,
		Items:         items,
	}}
	return c, cmds, nil
}

// Apply advances the saga with one event and returns the follow-on commands
// to be written through the outbox in the same transaction as the state
// change. An event that does not fit the current state returns ErrStaleEvent
// and leaves the saga untouched.
func (c *Checkout) Apply(ev Event, now time.Time) ([]Command, error) {
	switch e := ev.(type) {
	case TimedOut:
		return c.applyTimeout(now)
	case CancellationRequested:
		return c.applyCancellation(e.Reason, now)
	}

	if c.State.Terminal() {
		return nil, ErrStaleEvent
	}

	switch e := ev.(type) {
	case ValidationSucceeded:
		if c.State != StateValidating {
			return nil, ErrStaleEvent
		}
		c.State = StateReserving
		return []Command{ReserveStock{
			CorrelationID: c.CorrelationID,
			OrderID:       c.OrderID,
			CartID:        c.CartID,
			Items:         c.Items,
		}}, nil

	case ValidationFailed:
		if c.State != StateValidating {
			return nil, ErrStaleEvent
		}
		c.fail("validation failed: "+e.Reason, now)
		return nil, nil

	case StockReserved:
		if c.State != StateReserving {
			return nil, ErrStaleEvent
		}
		c.State = StateCharging
		c.ReservationID = e.ReservationID
		return []Command{ChargePayment{
			CorrelationID: c.CorrelationID,
			OrderID:       c.OrderID,
			UserID:        c.UserID,
			AmountCents:   c.AmountCents,
		}}, nil

	case ReservationFailed:
		if c.State != StateReserving {
			return nil, ErrStaleEvent
		}
		c.fail("reservation failed: "+e.Reason, now)
		return nil, nil

	case PaymentSucceeded:
		if c.State != StateCharging {
			return nil, ErrStaleEvent
		}
		c.State = StateConfirming
		c.TransactionID = e.TransactionID
		return []Command{
			ConvertReservations{CorrelationID: c.CorrelationID, OrderID: c.OrderID, CartID: c.CartID},
			ConfirmOrder{CorrelationID: c.CorrelationID, OrderID: c.OrderID},
		}, nil

	case PaymentFailed:
		if c.State != StateCharging {
			return nil, ErrStaleEvent
		}
		c.State = StateCompensating
		c.ErrorMessage = "payment failed: " + e.Reason
		return c.releaseCommand("payment failed"), nil

	case OrderConfirmed:
		if c.State != StateConfirming {
			return nil, ErrStaleEvent
		}
		c.State = StateCompleted
		t := now
		c.CompletedAt = &t
		return nil, nil

	case CompensationCompleted:
		if c.State != StateCompensating {
			return nil, ErrStaleEvent
		}
		c.fail(c.ErrorMessage, now)
		return nil, nil
	}

	return nil, fmt.Errorf("unknown saga event %T", ev)
}

// applyTimeout forces any non-terminal state to Failed. The reservation, if
// one was made, is still released so inventory stays consistent.
func (c *Checkout) applyTimeout(now time.Time) ([]Command, error) {
	if c.State.Terminal() {
		return nil, ErrStaleEvent
	}
	cmds := c.releaseCommand("checkout timed out")
	c.fail("checkout timed out", now)
	return cmds, nil
}

// applyCancellation is the caller-driven abort. It follows the payment-failure
// compensation path when a reservation exists.
func (c *Checkout) applyCancellation(reason string, now time.Time) ([]Command, error) {
	if c.State.Terminal() || c.State == StateCompensating {
		return nil, ErrStaleEvent
	}
	if reason == "" {
		reason = "cancelled by caller"
	}
	if c.ReservationID == "" {
		c.fail(reason, now)
		return nil, nil
	}
	c.State = StateCompensating
	c.ErrorMessage = reason
	return c.releaseCommand(reason), nil
}

func (c *Checkout) releaseCommand(reason string) []Command {
	if c.ReservationID == "" {
		return nil
	}
	return []Command{ReleaseReservation{
		CorrelationID: c.CorrelationID,
		CartID:        c.CartID,
		ReservationID: c.ReservationID,
		Reason:        reason,
	}}
}

func (c *Checkout) fail(msg string, now time.Time) {
	c.State = StateFailed
	c.ErrorMessage = msg
	t := now
	c.CompletedAt = &t
}
