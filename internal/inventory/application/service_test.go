package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	checkout "github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/clock"
	"github.com/marketsys/checkout-core/pkg/logging"
)

var testTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo *memLedger) (*Service, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(testTime)
	return NewService(logging.New("test"), repo, clk, 0), clk
}

func TestReserve(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, _ := newTestService(t, repo)

	r, err := svc.Reserve(context.Background(), "sku-1", 4, domain.CartClaimant("cart-1"), 0, "")
	require.NoError(t, err)
	require.Equal(t, 4, r.Quantity)
	require.Equal(t, testTime.Add(domain.DefaultReservationTTL), r.ExpiresAt)

	av, err := repo.Availability(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 10, av.Stock)
	require.Equal(t, 4, av.Reserved)
	require.Equal(t, 6, av.Available)

	events := repo.messagesOfType(domain.EventStockReserved)
	require.Len(t, events, 1)
}

func TestReserve_InsufficientRollsBackEverything(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 3))
	svc, _ := newTestService(t, repo)

	var stockErr *domain.InsufficientStockError
	_, err := svc.Reserve(context.Background(), "sku-1", 5, domain.CartClaimant("cart-1"), 0, "")
	require.ErrorAs(t, err, &stockErr)

	// Nothing persisted, nothing staged for the bus.
	require.Empty(t, repo.reservations)
	require.Empty(t, repo.messages)
}

// With stock N and concurrent requests summing past N, exactly the requests
// that fit succeed and the rest fail with InsufficientStock.
func TestReserve_NoOversellUnderConcurrency(t *testing.T) {
	const stock = 50
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", stock))
	svc, _ := newTestService(t, repo)

	const callers = 40
	const each = 3 // 40*3 = 120 requested, only 50 available

	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Reserve(context.Background(), "sku-1",
				each, domain.CartClaimant(fmt.Sprintf("cart-%d", i)), 0, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *domain.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
	}
	require.Equal(t, stock/each, succeeded)

	av, err := repo.Availability(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, succeeded*each, av.Reserved)
	require.LessOrEqual(t, av.Reserved, stock)
	require.GreaterOrEqual(t, av.Available, 0)
}

func TestReleaseAndConvert(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, _ := newTestService(t, repo)

	r1, err := svc.Reserve(context.Background(), "sku-1", 3, domain.CartClaimant("cart-1"), 0, "")
	require.NoError(t, err)
	r2, err := svc.Reserve(context.Background(), "sku-1", 2, domain.CartClaimant("cart-2"), 0, "")
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), r2.ID, "abandoned", ""))
	stored, ok := repo.reservation(r2.ID)
	require.True(t, ok)
	require.Equal(t, domain.ReservationCancelled, stored.Status)

	require.NoError(t, svc.Convert(context.Background(), r1.ID, "order-9", ""))
	stored, _ = repo.reservation(r1.ID)
	require.Equal(t, domain.ReservationConverted, stored.Status)
	require.Equal(t, "order-9", stored.OrderID)

	av, err := repo.Availability(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 7, av.Stock)
	require.Equal(t, 0, av.Reserved)

	require.Len(t, repo.messagesOfType(domain.EventReservationReleased), 1)
	require.Len(t, repo.messagesOfType(domain.EventStockDeducted), 1)
}

func TestConvert_AlreadyConverted(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, _ := newTestService(t, repo)

	r, err := svc.Reserve(context.Background(), "sku-1", 3, domain.CartClaimant("cart-1"), 0, "")
	require.NoError(t, err)
	require.NoError(t, svc.Convert(context.Background(), r.ID, "order-1", ""))

	var opErr *domain.InvalidOperationError
	require.ErrorAs(t, svc.Convert(context.Background(), r.ID, "order-2", ""), &opErr)

	// Quantities unchanged by the failed second conversion.
	av, err := repo.Availability(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 7, av.Stock)
}

func TestExtend(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, _ := newTestService(t, repo)

	r, err := svc.Reserve(context.Background(), "sku-1", 1, domain.SessionClaimant("sess-1"), 0, "")
	require.NoError(t, err)

	require.NoError(t, svc.Extend(context.Background(), r.ID, 10))
	stored, _ := repo.reservation(r.ID)
	require.Equal(t, r.ExpiresAt.Add(10*time.Minute), stored.ExpiresAt)
}

func TestCanReserve(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 5))
	svc, _ := newTestService(t, repo)

	ok, err := svc.CanReserve(context.Background(), "sku-1", 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.CanReserve(context.Background(), "sku-1", 6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReserveForCheckout(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-2", 5))
	svc, _ := newTestService(t, repo)

	err := svc.ReserveForCheckout(context.Background(), checkout.ReserveStock{
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		CartID:        "cart-1",
		Items: []checkout.CartItem{
			{SKUID: "sku-2", Quantity: 2},
			{SKUID: "sku-1", Quantity: 4},
		},
	})
	require.NoError(t, err)

	active, err := repo.ActiveReservationsForCart(context.Background(), "cart-1")
	require.NoError(t, err)
	require.Len(t, active, 2)

	outcomes := repo.messagesOfType(checkout.EventStockReserved)
	require.Len(t, outcomes, 1)
	var ev checkout.StockReserved
	require.NoError(t, json.Unmarshal(outcomes[0].Payload, &ev))
	require.Equal(t, "corr-1", ev.CorrelationID)
	require.NotEmpty(t, ev.ReservationID)
}

// A failed checkout reservation leaves no reservations and no success event,
// but the failure outcome is still staged durably.
func TestReserveForCheckout_AllOrNothing(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-2", 1))
	svc, _ := newTestService(t, repo)

	err := svc.ReserveForCheckout(context.Background(), checkout.ReserveStock{
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		CartID:        "cart-1",
		Items: []checkout.CartItem{
			{SKUID: "sku-1", Quantity: 4},
			{SKUID: "sku-2", Quantity: 3}, // only 1 available
		},
	})
	require.NoError(t, err)

	require.Empty(t, repo.reservations)
	require.Empty(t, repo.messagesOfType(checkout.EventStockReserved))

	failures := repo.messagesOfType(checkout.EventReservationFailed)
	require.Len(t, failures, 1)
	var ev checkout.ReservationFailed
	require.NoError(t, json.Unmarshal(failures[0].Payload, &ev))
	require.Equal(t, "corr-1", ev.CorrelationID)
	require.Contains(t, ev.Reason, "insufficient stock")
}

func TestConvertForCheckout(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-2", 5))
	svc, _ := newTestService(t, repo)

	require.NoError(t, svc.ReserveForCheckout(context.Background(), checkout.ReserveStock{
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		CartID:        "cart-1",
		Items: []checkout.CartItem{
			{SKUID: "sku-1", Quantity: 4},
			{SKUID: "sku-2", Quantity: 2},
		},
	}))

	require.NoError(t, svc.ConvertForCheckout(context.Background(), checkout.ConvertReservations{
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		CartID:        "cart-1",
	}))

	av1, _ := repo.Availability(context.Background(), "sku-1")
	require.Equal(t, 6, av1.Stock)
	require.Equal(t, 0, av1.Reserved)
	av2, _ := repo.Availability(context.Background(), "sku-2")
	require.Equal(t, 3, av2.Stock)

	require.Len(t, repo.messagesOfType(domain.EventStockDeducted), 2)

	// Duplicate conversion command finds nothing Active and is a no-op.
	require.NoError(t, svc.ConvertForCheckout(context.Background(), checkout.ConvertReservations{
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		CartID:        "cart-1",
	}))
	av1, _ = repo.Availability(context.Background(), "sku-1")
	require.Equal(t, 6, av1.Stock)
	require.Len(t, repo.messagesOfType(domain.EventStockDeducted), 2)
}

func TestReleaseForCheckout(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, _ := newTestService(t, repo)

	require.NoError(t, svc.ReserveForCheckout(context.Background(), checkout.ReserveStock{
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		CartID:        "cart-1",
		Items:         []checkout.CartItem{{SKUID: "sku-1", Quantity: 4}},
	}))

	require.NoError(t, svc.ReleaseForCheckout(context.Background(), checkout.ReleaseReservation{
		CorrelationID: "corr-1",
		CartID:        "cart-1",
		Reason:        "payment failed",
	}))

	av, _ := repo.Availability(context.Background(), "sku-1")
	require.Equal(t, 10, av.Stock)
	require.Equal(t, 0, av.Reserved)
	require.Len(t, repo.messagesOfType(checkout.EventCompensationCompleted), 1)

	// Compensation is idempotent: nothing left to release still completes.
	require.NoError(t, svc.ReleaseForCheckout(context.Background(), checkout.ReleaseReservation{
		CorrelationID: "corr-1",
		CartID:        "cart-1",
		Reason:        "payment failed",
	}))
	require.Len(t, repo.messagesOfType(checkout.EventCompensationCompleted), 2)
}
