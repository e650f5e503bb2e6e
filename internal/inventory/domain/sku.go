package domain

import (
	"fmt"
	"time"
)

// SKU is the reservation ledger's aggregate root. StockQuantity is the
// physical count on hand; reserved and available quantities are derived from
// the live set of Active reservations, never stored redundantly, so they must
// be recomputed under the same transaction that mutates them.
type SKU struct {
	ID            string
	StockQuantity int
	Reservations  []*StockReservation
}

func (s *SKU) ReservedQuantity() int {
	total := 0
	for _, r := range s.Reservations {
		if r.Status == ReservationActive {
			total += r.Quantity
		}
	}
	return total
}

func (s *SKU) AvailableQuantity() int {
	return s.StockQuantity - s.ReservedQuantity()
}

// CanReserve is a pure check against the derived available quantity.
func (s *SKU) CanReserve(quantity int) bool {
	return quantity > 0 && quantity <= s.AvailableQuantity()
}

// ReserveStock creates an Active reservation against this SKU. Stock on hand
// is untouched; only the derived available quantity shrinks.
func (s *SKU) ReserveStock(quantity int, claimant Claimant, ttl time.Duration, now time.Time) (*StockReservation, error) {
	if quantity <= 0 {
		return nil, &InvalidArgumentError{Reason: fmt.Sprintf("reservation quantity must be positive, got %d", quantity)}
	}
	if available := s.AvailableQuantity(); quantity > available {
		return nil, &InsufficientStockError{SKUID: s.ID, Requested: quantity, Available: available}
	}
	r, err := NewStockReservation(s.ID, quantity, claimant, ttl, now)
	if err != nil {
		return nil, err
	}
	s.Reservations = append(s.Reservations, r)
	return r, nil
}

// ReleaseReservation cancels an Active reservation, returning its quantity to
// the available pool.
func (s *SKU) ReleaseReservation(r *StockReservation, reason string, now time.Time) error {
	if err := s.ensureOwns(r); err != nil {
		return err
	}
	return r.Cancel(reason, now)
}

// ConvertReservationToDeduction turns a reservation into a permanent stock
// deduction tied to an order. This is the only operation that reduces
// StockQuantity.
func (s *SKU) ConvertReservationToDeduction(r *StockReservation, orderID string, now time.Time) error {
	if err := s.ensureOwns(r); err != nil {
		return err
	}
	if err := r.ConvertToOrder(orderID, now); err != nil {
		return err
	}
	s.StockQuantity -= r.Quantity
	return nil
}

// ExpireReservation is the sweeper's release path.
func (s *SKU) ExpireReservation(r *StockReservation, now time.Time) error {
	if err := s.ensureOwns(r); err != nil {
		return err
	}
	return r.MarkAsExpired(now)
}

// ActiveReservationsForCart returns the cart's Active reservations on this
// SKU. The saga uses this to convert or release a checkout's claims as a unit.
func (s *SKU) ActiveReservationsForCart(cartID string) []*StockReservation {
	var out []*StockReservation
	for _, r := range s.Reservations {
		if r.Status == ReservationActive && r.IsForCart(cartID) {
			out = append(out, r)
		}
	}
	return out
}

// Reservation looks up an owned reservation by id.
func (s *SKU) Reservation(id string) (*StockReservation, bool) {
	for _, r := range s.Reservations {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

func (s *SKU) ensureOwns(r *StockReservation) error {
	if r == nil {
		return &InvalidOperationError{Reason: "reservation is nil"}
	}
	if r.SKUID != s.ID {
		return &InvalidOperationError{
			Reason: fmt.Sprintf("reservation %s belongs to sku %s, not %s", r.ID, r.SKUID, s.ID),
		}
	}
	return nil
}
