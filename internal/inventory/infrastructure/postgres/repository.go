package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketsys/checkout-core/internal/inventory/application"
	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// OutboxTable is the inventory service's outbox.
const OutboxTable = "inventory_outbox"

var ErrNotFound = errors.New("not found")

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS skus (
		id TEXT PRIMARY KEY,
		stock_quantity INT NOT NULL CHECK (stock_quantity >= 0)
	)`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS reservations (
		id UUID PRIMARY KEY,
		sku_id TEXT NOT NULL REFERENCES skus(id),
		quantity INT NOT NULL CHECK (quantity > 0),
		status TEXT NOT NULL,
		cart_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		cancellation_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ
	)`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS reservations_expiry_idx ON reservations (expires_at) WHERE status = 'active'`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS reservations_cart_idx ON reservations (cart_id) WHERE status = 'active'`)
	return err
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx application.LedgerTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &ledgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) EnqueueStandalone(ctx context.Context, msg outbox.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := outbox.Insert(ctx, tx, OutboxTable, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SKUForReservation(ctx context.Context, reservationID string) (string, error) {
	var skuID string
	err := r.pool.QueryRow(ctx, `SELECT sku_id FROM reservations WHERE id=$1`, reservationID).Scan(&skuID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("reservation %s: %w", reservationID, ErrNotFound)
	}
	return skuID, err
}

func (r *Repository) ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]application.ReservationRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sku_id FROM reservations
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []application.ReservationRef
	for rows.Next() {
		var ref application.ReservationRef
		if err := rows.Scan(&ref.ID, &ref.SKUID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *Repository) ActiveReservationsForCart(ctx context.Context, cartID string) ([]*domain.StockReservation, error) {
	rows, err := r.pool.Query(ctx, reservationColumns+` FROM reservations WHERE cart_id=$1 AND status='active' ORDER BY created_at`, cartID)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (r *Repository) CreateSKU(ctx context.Context, skuID string, stockQuantity int) error {
	if skuID == "" {
		return &domain.InvalidArgumentError{Reason: "sku id must not be empty"}
	}
	if stockQuantity < 0 {
		return &domain.InvalidArgumentError{Reason: fmt.Sprintf("stock quantity must not be negative, got %d", stockQuantity)}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO skus (id, stock_quantity) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET stock_quantity=$2`, skuID, stockQuantity)
	return err
}

func (r *Repository) Availability(ctx context.Context, skuID string) (application.Availability, error) {
	var av application.Availability
	err := r.pool.QueryRow(ctx, `
		SELECT s.id, s.stock_quantity,
		       COALESCE((SELECT SUM(quantity) FROM reservations WHERE sku_id = s.id AND status = 'active'), 0)
		FROM skus s WHERE s.id = $1`, skuID).Scan(&av.SKUID, &av.Stock, &av.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return av, fmt.Errorf("sku %s: %w", skuID, ErrNotFound)
	}
	if err != nil {
		return av, err
	}
	av.Available = av.Stock - av.Reserved
	return av, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

const reservationColumns = `SELECT id, sku_id, quantity, status, cart_id, session_id, order_id, cancellation_reason, created_at, expires_at, updated_at`

func (t *ledgerTx) SKUForUpdate(ctx context.Context, skuID string) (*domain.SKU, error) {
	sku := &domain.SKU{}
	err := t.tx.QueryRow(ctx, `SELECT id, stock_quantity FROM skus WHERE id=$1 FOR UPDATE`, skuID).
		Scan(&sku.ID, &sku.StockQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sku %s: %w", skuID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, reservationColumns+` FROM reservations WHERE sku_id=$1 AND status='active'`, skuID)
	if err != nil {
		return nil, err
	}
	sku.Reservations, err = scanReservations(rows)
	if err != nil {
		return nil, err
	}
	return sku, nil
}

func (t *ledgerTx) CartSKUs(ctx context.Context, cartID string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT sku_id FROM reservations
		WHERE cart_id=$1 AND status='active'
		ORDER BY sku_id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *ledgerTx) InsertReservation(ctx context.Context, r *domain.StockReservation) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO reservations
		(id, sku_id, quantity, status, cart_id, session_id, order_id, cancellation_reason, created_at, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.SKUID, r.Quantity, r.Status, r.CartID, r.SessionID, r.OrderID, r.CancellationReason,
		r.CreatedAt, r.ExpiresAt, r.UpdatedAt)
	return err
}

func (t *ledgerTx) UpdateReservation(ctx context.Context, r *domain.StockReservation) error {
	ct, err := t.tx.Exec(ctx, `UPDATE reservations SET
		status=$2, order_id=$3, cancellation_reason=$4, expires_at=$5, updated_at=$6
		WHERE id=$1`,
		r.ID, r.Status, r.OrderID, r.CancellationReason, r.ExpiresAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) UpdateStock(ctx context.Context, skuID string, stockQuantity int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE skus SET stock_quantity=$2 WHERE id=$1`, skuID, stockQuantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("sku %s: %w", skuID, ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return outbox.Insert(ctx, t.tx, OutboxTable, msg)
}

func scanReservations(rows pgx.Rows) ([]*domain.StockReservation, error) {
	defer rows.Close()
	var out []*domain.StockReservation
	for rows.Next() {
		r := &domain.StockReservation{}
		if err := rows.Scan(&r.ID, &r.SKUID, &r.Quantity, &r.Status, &r.CartID, &r.SessionID,
			&r.OrderID, &r.CancellationReason, &r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
