package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/clock"
	"github.com/marketsys/checkout-core/pkg/logging"
)

func newTestSweeper(repo *memLedger, clk clock.Clock, batch int) *Sweeper {
	return NewSweeper(logging.New("test"), repo, clk, time.Minute, batch)
}

func TestSweepExpiresOverdueReservations(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, clk := newTestService(t, repo)

	r1, err := svc.Reserve(context.Background(), "sku-1", 3, domain.CartClaimant("cart-1"), 5*time.Minute, "")
	require.NoError(t, err)
	r2, err := svc.Reserve(context.Background(), "sku-1", 2, domain.CartClaimant("cart-2"), time.Hour, "")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	newTestSweeper(repo, clk, 100).SweepOnce(context.Background())

	stored, _ := repo.reservation(r1.ID)
	require.Equal(t, domain.ReservationExpired, stored.Status)
	stored, _ = repo.reservation(r2.ID)
	require.Equal(t, domain.ReservationActive, stored.Status)

	av, err := repo.Availability(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 10, av.Stock)
	require.Equal(t, 2, av.Reserved)
	require.Equal(t, 8, av.Available)

	require.Len(t, repo.messagesOfType(domain.EventReservationExpired), 1)
}

// A reservation converted between the expiry scan and the mutation must be
// skipped without touching ledger quantities.
func TestSweepSkipsConcurrentlyConvertedReservation(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 10))
	svc, clk := newTestService(t, repo)

	r, err := svc.Reserve(context.Background(), "sku-1", 3, domain.CartClaimant("cart-1"), 5*time.Minute, "")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	refs, err := repo.ExpiredReservations(context.Background(), clk.Now(), 100)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	// Converted after the scan snapshot, before the sweep mutation.
	require.NoError(t, svc.Convert(context.Background(), r.ID, "order-1", ""))

	newTestSweeper(repo, clk, 100).SweepOnce(context.Background())

	stored, _ := repo.reservation(r.ID)
	require.Equal(t, domain.ReservationConverted, stored.Status)
	av, _ := repo.Availability(context.Background(), "sku-1")
	require.Equal(t, 7, av.Stock)
	require.Equal(t, 0, av.Reserved)
	require.Empty(t, repo.messagesOfType(domain.EventReservationExpired))
}

func TestSweepBoundedBatch(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateSKU(context.Background(), "sku-1", 100))
	svc, clk := newTestService(t, repo)

	for i := 0; i < 5; i++ {
		_, err := svc.Reserve(context.Background(), "sku-1", 1, domain.SessionClaimant(sessionID(i)), time.Minute, "")
		require.NoError(t, err)
	}

	clk.Advance(time.Hour)
	newTestSweeper(repo, clk, 2).SweepOnce(context.Background())
	require.Len(t, repo.messagesOfType(domain.EventReservationExpired), 2)

	newTestSweeper(repo, clk, 100).SweepOnce(context.Background())
	require.Len(t, repo.messagesOfType(domain.EventReservationExpired), 5)

	av, _ := repo.Availability(context.Background(), "sku-1")
	require.Equal(t, 0, av.Reserved)
}

func sessionID(i int) string {
	return "sess-" + string(rune('a'+i))
}
