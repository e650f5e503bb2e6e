package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConverted ReservationStatus = "converted"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Terminal reports whether no further transition is valid from this status.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationConverted || s == ReservationCancelled || s == ReservationExpired
}

// DefaultReservationTTL is how long a reservation holds stock unless a caller
// asks for a different window.
const DefaultReservationTTL = 15 * time.Minute

// Claimant identifies who holds a reservation: a cart for signed-in buyers or
// a session for guests. Exactly one side is ever set.
type Claimant struct {
	CartID    string
	SessionID string
}

func CartClaimant(cartID string) Claimant { return Claimant{CartID: cartID} }

func SessionClaimant(sessionID string) Claimant { return Claimant{SessionID: sessionID} }

func (c Claimant) Valid() bool {
	return (c.CartID != "") != (c.SessionID != "")
}

// StockReservation is a time-boxed claim on SKU quantity. It is owned by its
// SKU: all mutations happen through SKU operations or the expiry sweeper,
// never directly by the checkout saga.
type StockReservation struct {
	ID                 string
	SKUID              string
	Quantity           int
	Status             ReservationStatus
	CartID             string
	SessionID          string
	OrderID            string
	CancellationReason string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	UpdatedAt          *time.Time
}

// NewStockReservation creates an Active reservation. ttl <= 0 falls back to
// DefaultReservationTTL. now is injected so expiry is testable.
func NewStockReservation(skuID string, quantity int, claimant Claimant, ttl time.Duration, now time.Time) (*StockReservation, error) {
	if skuID == "" {
		return nil, &InvalidArgumentError{Reason: "sku id must not be empty"}
	}
	if quantity <= 0 {
		return nil, &InvalidArgumentError{Reason: fmt.Sprintf("reservation quantity must be positive, got %d", quantity)}
	}
	if !claimant.Valid() {
		return nil, &InvalidArgumentError{Reason: "exactly one of cart id or session id must identify the claimant"}
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &StockReservation{
		ID:        uuid.NewString(),
		SKUID:     skuID,
		Quantity:  quantity,
		Status:    ReservationActive,
		CartID:    claimant.CartID,
		SessionID: claimant.SessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (r *StockReservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *StockReservation) TimeRemaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ConvertToOrder irreversibly ties the reservation to a confirmed order.
func (r *StockReservation) ConvertToOrder(orderID string, now time.Time) error {
	if orderID == "" {
		return &InvalidArgumentError{Reason: "order id must not be empty"}
	}
	if err := r.ensureActive("convert"); err != nil {
		return err
	}
	r.Status = ReservationConverted
	r.OrderID = orderID
	r.touch(now)
	return nil
}

// Cancel releases the claim. reason may be empty.
func (r *StockReservation) Cancel(reason string, now time.Time) error {
	if err := r.ensureActive("cancel"); err != nil {
		return err
	}
	r.Status = ReservationCancelled
	r.CancellationReason = reason
	r.touch(now)
	return nil
}

// MarkAsExpired is called only by the expiry sweeper.
func (r *StockReservation) MarkAsExpired(now time.Time) error {
	if err := r.ensureActive("expire"); err != nil {
		return err
	}
	r.Status = ReservationExpired
	r.touch(now)
	return nil
}

// ExtendExpiry pushes ExpiresAt out by the given number of minutes.
func (r *StockReservation) ExtendExpiry(minutes int, now time.Time) error {
	if minutes <= 0 {
		return &InvalidArgumentError{Reason: fmt.Sprintf("extension minutes must be positive, got %d", minutes)}
	}
	if err := r.ensureActive("extend"); err != nil {
		return err
	}
	r.ExpiresAt = r.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
	r.touch(now)
	return nil
}

func (r *StockReservation) IsForCart(cartID string) bool {
	return cartID != "" && r.CartID == cartID
}

func (r *StockReservation) IsForSession(sessionID string) bool {
	return sessionID != "" && r.SessionID == sessionID
}

func (r *StockReservation) ensureActive(op string) error {
	if r.Status == ReservationActive {
		return nil
	}
	return &InvalidOperationError{
		Reason: fmt.Sprintf("cannot %s reservation %s: status is %s, not %s", op, r.ID, r.Status, ReservationActive),
	}
}

func (r *StockReservation) touch(now time.Time) {
	t := now
	r.UpdatedAt = &t
}
