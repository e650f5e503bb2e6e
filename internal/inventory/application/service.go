package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	checkout "github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/clock"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

const aggregateSKU = "sku"

// Service is the reservation ledger. Every mutation runs inside a repository
// transaction that locks the affected SKU rows, so two concurrent
// reservations against the same SKU can never jointly oversell it.
type Service struct {
	log  *slog.Logger
	repo LedgerRepository
	clk  clock.Clock
	ttl  time.Duration
}

func NewService(log *slog.Logger, repo LedgerRepository, clk clock.Clock, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = domain.DefaultReservationTTL
	}
	return &Service{log: log, repo: repo, clk: clk, ttl: ttl}
}

// Reserve claims quantity of a SKU for a cart or session. ttl <= 0 uses the
// service default.
func (s *Service) Reserve(ctx context.Context, skuID string, quantity int, claimant domain.Claimant, ttl time.Duration, correlationID string) (*domain.StockReservation, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	var reserved *domain.StockReservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		sku, err := tx.SKUForUpdate(ctx, skuID)
		if err != nil {
			return err
		}
		r, err := sku.ReserveStock(quantity, claimant, ttl, s.clk.Now())
		if err != nil {
			return err
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		reserved = r
		return s.enqueueEvent(ctx, tx, domain.EventStockReserved, skuID, domain.StockReserved{
			ReservationID: r.ID,
			SKUID:         skuID,
			Quantity:      r.Quantity,
			CorrelationID: correlationID,
			ExpiresAt:     r.ExpiresAt,
		}, correlationID)
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// CanReserve is a pure availability check; it takes no locks and promises
// nothing about a subsequent Reserve.
func (s *Service) CanReserve(ctx context.Context, skuID string, quantity int) (bool, error) {
	av, err := s.repo.Availability(ctx, skuID)
	if err != nil {
		return false, err
	}
	return quantity > 0 && quantity <= av.Available, nil
}

// Release cancels a single Active reservation by id.
func (s *Service) Release(ctx context.Context, reservationID, reason, correlationID string) error {
	skuID, err := s.repo.SKUForReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		sku, err := tx.SKUForUpdate(ctx, skuID)
		if err != nil {
			return err
		}
		r, ok := sku.Reservation(reservationID)
		if !ok {
			return &domain.InvalidOperationError{
				Reason: fmt.Sprintf("reservation %s is no longer active on sku %s", reservationID, skuID),
			}
		}
		if err := sku.ReleaseReservation(r, reason, s.clk.Now()); err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		return s.enqueueEvent(ctx, tx, domain.EventReservationReleased, skuID, domain.ReservationReleased{
			ReservationID: r.ID,
			SKUID:         skuID,
			Quantity:      r.Quantity,
			Reason:        reason,
			CorrelationID: correlationID,
		}, correlationID)
	})
}

// Convert turns one reservation into a permanent stock deduction for orderID.
func (s *Service) Convert(ctx context.Context, reservationID, orderID, correlationID string) error {
	if orderID == "" {
		return &domain.InvalidArgumentError{Reason: "order id must not be empty"}
	}
	skuID, err := s.repo.SKUForReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		sku, err := tx.SKUForUpdate(ctx, skuID)
		if err != nil {
			return err
		}
		r, ok := sku.Reservation(reservationID)
		if !ok {
			return &domain.InvalidOperationError{
				Reason: fmt.Sprintf("reservation %s is no longer active on sku %s", reservationID, skuID),
			}
		}
		if err := sku.ConvertReservationToDeduction(r, orderID, s.clk.Now()); err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, skuID, sku.StockQuantity); err != nil {
			return err
		}
		return s.enqueueEvent(ctx, tx, domain.EventStockDeducted, skuID, domain.StockDeducted{
			ReservationID: r.ID,
			SKUID:         skuID,
			OrderID:       orderID,
			Quantity:      r.Quantity,
			CorrelationID: correlationID,
		}, correlationID)
	})
}

// Extend pushes an Active reservation's expiry out by minutes.
func (s *Service) Extend(ctx context.Context, reservationID string, minutes int) error {
	skuID, err := s.repo.SKUForReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		sku, err := tx.SKUForUpdate(ctx, skuID)
		if err != nil {
			return err
		}
		r, ok := sku.Reservation(reservationID)
		if !ok {
			return &domain.InvalidOperationError{
				Reason: fmt.Sprintf("reservation %s is no longer active on sku %s", reservationID, skuID),
			}
		}
		if err := r.ExtendExpiry(minutes, s.clk.Now()); err != nil {
			return err
		}
		return tx.UpdateReservation(ctx, r)
	})
}

// ActiveForCart lists a cart's Active reservations across all SKUs.
func (s *Service) ActiveForCart(ctx context.Context, cartID string) ([]*domain.StockReservation, error) {
	return s.repo.ActiveReservationsForCart(ctx, cartID)
}

// ReserveForCheckout claims stock for every item of a checkout, all or
// nothing. Success and failure are both announced durably: the outcome event
// the saga waits for is staged in the reserving transaction on success, or in
// a standalone transaction when the reservation rolled back.
func (s *Service) ReserveForCheckout(ctx context.Context, cmd checkout.ReserveStock) error {
	var primary string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		now := s.clk.Now()
		claimant := domain.CartClaimant(cmd.CartID)
		for _, item := range sortedItems(cmd.Items) {
			sku, err := tx.SKUForUpdate(ctx, item.SKUID)
			if err != nil {
				return err
			}
			r, err := sku.ReserveStock(item.Quantity, claimant, s.ttl, now)
			if err != nil {
				return err
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			if primary == "" {
				primary = r.ID
			}
		}
		return s.enqueueEvent(ctx, tx, checkout.EventStockReserved, cmd.CartID, checkout.StockReserved{
			CorrelationID: cmd.CorrelationID,
			ReservationID: primary,
		}, cmd.CorrelationID)
	})
	if err == nil {
		return nil
	}

	s.log.Warn("checkout reservation failed", "correlation_id", cmd.CorrelationID, "err", err)
	payload, mErr := json.Marshal(checkout.ReservationFailed{
		CorrelationID: cmd.CorrelationID,
		Reason:        err.Error(),
	})
	if mErr != nil {
		return mErr
	}
	msg := outbox.NewMessage(checkout.EventReservationFailed, payload, cmd.CorrelationID, aggregateSKU, cmd.CartID)
	return s.repo.EnqueueStandalone(ctx, msg)
}

// ConvertForCheckout converts every Active reservation the cart still holds
// into a deduction for the order. A re-delivered command finds nothing left
// to convert and is a no-op.
func (s *Service) ConvertForCheckout(ctx context.Context, cmd checkout.ConvertReservations) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		skuIDs, err := tx.CartSKUs(ctx, cmd.CartID)
		if err != nil {
			return err
		}
		now := s.clk.Now()
		for _, skuID := range skuIDs {
			sku, err := tx.SKUForUpdate(ctx, skuID)
			if err != nil {
				return err
			}
			for _, r := range sku.ActiveReservationsForCart(cmd.CartID) {
				if err := sku.ConvertReservationToDeduction(r, cmd.OrderID, now); err != nil {
					return err
				}
				if err := tx.UpdateReservation(ctx, r); err != nil {
					return err
				}
				if err := s.enqueueEvent(ctx, tx, domain.EventStockDeducted, skuID, domain.StockDeducted{
					ReservationID: r.ID,
					SKUID:         skuID,
					OrderID:       cmd.OrderID,
					Quantity:      r.Quantity,
					CorrelationID: cmd.CorrelationID,
				}, cmd.CorrelationID); err != nil {
					return err
				}
			}
			if err := tx.UpdateStock(ctx, skuID, sku.StockQuantity); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseForCheckout is the saga's compensation path: release everything the
// cart still holds, then announce completion. Releasing a cart with nothing
// Active left is a successful no-op, so duplicate compensation is safe.
func (s *Service) ReleaseForCheckout(ctx context.Context, cmd checkout.ReleaseReservation) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		skuIDs, err := tx.CartSKUs(ctx, cmd.CartID)
		if err != nil {
			return err
		}
		now := s.clk.Now()
		for _, skuID := range skuIDs {
			sku, err := tx.SKUForUpdate(ctx, skuID)
			if err != nil {
				return err
			}
			for _, r := range sku.ActiveReservationsForCart(cmd.CartID) {
				if err := sku.ReleaseReservation(r, cmd.Reason, now); err != nil {
					return err
				}
				if err := tx.UpdateReservation(ctx, r); err != nil {
					return err
				}
			}
		}
		return s.enqueueEvent(ctx, tx, checkout.EventCompensationCompleted, cmd.CartID, checkout.CompensationCompleted{
			CorrelationID: cmd.CorrelationID,
		}, cmd.CorrelationID)
	})
}

func (s *Service) enqueueEvent(ctx context.Context, tx LedgerTx, messageType, aggregateID string, event any, correlationID string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, outbox.NewMessage(messageType, payload, correlationID, aggregateSKU, aggregateID))
}

// sortedItems copies and orders items by SKU so concurrent checkouts acquire
// row locks in the same order.
func sortedItems(items []checkout.CartItem) []checkout.CartItem {
	out := make([]checkout.CartItem, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].SKUID < out[j].SKUID })
	return out
}
