package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/clock"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// Sweeper reclaims reservations whose expiry passed while they were still
// Active. Each reservation is expired in its own short transaction so one bad
// row never blocks the batch, and a reservation that was converted or
// cancelled between the scan and the mutation is skipped.
type Sweeper struct {
	log      *slog.Logger
	repo     LedgerRepository
	clk      clock.Clock
	interval time.Duration
	batch    int
}

func NewSweeper(log *slog.Logger, repo LedgerRepository, clk clock.Clock, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{log: log, repo: repo, clk: clk, interval: interval, batch: batch}
}

func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce processes one bounded batch of expired reservations. Failures on
// individual reservations are logged and skipped; the sweep itself never
// fails.
func (w *Sweeper) SweepOnce(ctx context.Context) {
	refs, err := w.repo.ExpiredReservations(ctx, w.clk.Now(), w.batch)
	if err != nil {
		w.log.Error("sweeper scan failed", "err", err)
		return
	}
	expired := 0
	for _, ref := range refs {
		if err := w.expireOne(ctx, ref); err != nil {
			w.log.Error("sweeper skip reservation", "reservation_id", ref.ID, "err", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		w.log.Info("sweeper pass complete", "expired", expired, "scanned", len(refs))
	}
}

func (w *Sweeper) expireOne(ctx context.Context, ref ReservationRef) error {
	return w.repo.WithTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		sku, err := tx.SKUForUpdate(ctx, ref.SKUID)
		if err != nil {
			return err
		}
		r, ok := sku.Reservation(ref.ID)
		if !ok {
			// Went terminal between scan and lock. Nothing to reclaim.
			return nil
		}
		if err := sku.ExpireReservation(r, w.clk.Now()); err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.ReservationExpiredEvent{
			ReservationID: r.ID,
			SKUID:         r.SKUID,
			Quantity:      r.Quantity,
		})
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, outbox.NewMessage(domain.EventReservationExpired, payload, "", aggregateSKU, r.SKUID))
	})
}
