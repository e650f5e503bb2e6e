package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketsys/checkout-core/internal/checkout/application"
	"github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// OutboxTable is the checkout service's outbox.
const OutboxTable = "checkout_outbox"

var ErrNotFound = errors.New("not found")

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS checkout_sagas (
		correlation_id UUID PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		cart_id TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		items JSONB NOT NULL,
		reservation_id TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS checkout_sagas_stale_idx ON checkout_sagas (started_at) WHERE completed_at IS NULL`)
	return err
}

func (r *Repository) WithCheckout(ctx context.Context, correlationID string, fn func(ctx context.Context, tx application.SagaTx, c *domain.Checkout) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	c, err := scanCheckout(tx.QueryRow(ctx, sagaColumns+` FROM checkout_sagas WHERE correlation_id=$1 FOR UPDATE`, correlationID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if err := fn(ctx, &sagaTx{tx: tx}, c); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, correlationID string) (*domain.Checkout, error) {
	c, err := scanCheckout(r.pool.QueryRow(ctx, sagaColumns+` FROM checkout_sagas WHERE correlation_id=$1`, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checkout %s: %w", correlationID, ErrNotFound)
	}
	return c, err
}

func (r *Repository) StaleCorrelationIDs(ctx context.Context, startedBefore time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT correlation_id FROM checkout_sagas
		WHERE completed_at IS NULL AND started_at < $1
		ORDER BY started_at
		LIMIT $2`, startedBefore, limit)
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

type sagaTx struct {
	tx pgx.Tx
}

func (t *sagaTx) Save(ctx context.Context, c *domain.Checkout) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO checkout_sagas
		(correlation_id, order_id, user_id, cart_id, amount_cents, items, reservation_id, transaction_id, state, error_message, started_at, completed_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (correlation_id) DO UPDATE SET
			reservation_id=$7, transaction_id=$8, state=$9, error_message=$10, completed_at=$12, updated_at=now()`,
		c.CorrelationID, c.OrderID, c.UserID, c.CartID, c.AmountCents, items,
		c.ReservationID, c.TransactionID, c.State, c.ErrorMessage, c.StartedAt, c.CompletedAt)
	return err
}

func (t *sagaTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return outbox.Insert(ctx, t.tx, OutboxTable, msg)
}

const sagaColumns = `SELECT correlation_id, order_id, user_id, cart_id, amount_cents, items, reservation_id, transaction_id, state, error_message, started_at, completed_at`

func scanCheckout(row pgx.Row) (*domain.Checkout, error) {
	c := &domain.Checkout{}
	var items []byte
	err := row.Scan(&c.CorrelationID, &c.OrderID, &c.UserID, &c.CartID, &c.AmountCents, &items,
		&c.ReservationID, &c.TransactionID, &c.State, &c.ErrorMessage, &c.StartedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, err
	}
	return c, nil
}
