package application

import (
	"context"
	"time"

	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// LedgerTx is the transaction handed to ledger operations. Everything done
// through it, including outbox writes, commits or rolls back atomically.
type LedgerTx interface {
	// SKUForUpdate locks the SKU row and loads it together with its Active
	// reservations, so derived quantities are recomputed under the same lock
	// that performs the mutation.
	SKUForUpdate(ctx context.Context, skuID string) (*domain.SKU, error)
	// CartSKUs returns the distinct SKU ids holding Active reservations for
	// the cart, sorted to give every caller the same lock order.
	CartSKUs(ctx context.Context, cartID string) ([]string, error)
	InsertReservation(ctx context.Context, r *domain.StockReservation) error
	UpdateReservation(ctx context.Context, r *domain.StockReservation) error
	UpdateStock(ctx context.Context, skuID string, stockQuantity int) error
	Enqueue(ctx context.Context, msg outbox.Message) error
}

// ReservationRef locates a reservation without loading it.
type ReservationRef struct {
	ID    string
	SKUID string
}

// Availability is a point-in-time read of a SKU's derived quantities.
type Availability struct {
	SKUID     string
	Stock     int
	Reserved  int
	Available int
}

type LedgerRepository interface {
	// WithTx runs fn inside one transaction. A non-nil error from fn rolls
	// everything back, including enqueued outbox messages.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	// EnqueueStandalone durably stages a message in its own short
	// transaction, for failure events whose business transaction rolled back.
	EnqueueStandalone(ctx context.Context, msg outbox.Message) error
	SKUForReservation(ctx context.Context, reservationID string) (string, error)
	ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]ReservationRef, error)
	ActiveReservationsForCart(ctx context.Context, cartID string) ([]*domain.StockReservation, error)
	CreateSKU(ctx context.Context, skuID string, stockQuantity int) error
	Availability(ctx context.Context, skuID string) (Availability, error)
}
