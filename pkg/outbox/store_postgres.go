package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over a per-service outbox table. Each service
// owns one table so its relay never picks up another service's messages.
type PostgresStore struct {
	log        *slog.Logger
	pool       *pgxpool.Pool
	table      string
	maxRetries int
}

func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool, table string, maxRetries int) *PostgresStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PostgresStore{log: log, pool: pool, table: table, maxRetries: maxRetries}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		message_type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		correlation_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ,
		last_error TEXT,
		relay_id TEXT,
		lease_until TIMESTAMPTZ
	)`, s.table))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status, created_at)`, s.table, s.table))
	return err
}

// Insert writes the message inside the caller's transaction. This is the only
// way a message enters the outbox: atomically with the business write.
func Insert(ctx context.Context, tx pgx.Tx, table string, m Message) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s
		(id, message_type, payload, correlation_id, aggregate_type, aggregate_id, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending')`, table),
		m.ID, m.MessageType, m.Payload, m.CorrelationID, m.AggregateType, m.AggregateID, m.Traceparent)
	return err
}

func (s *PostgresStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT id, message_type, payload, correlation_id, aggregate_type, aggregate_id, traceparent, status, retry_count, created_at
		FROM %s
		WHERE (status = 'pending' OR (status = 'failed' AND retry_count < $1))
		  AND (lease_until IS NULL OR lease_until < now())
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, s.table), s.maxRetries, batchSize)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET relay_id=$1, lease_until=now() + $2::interval WHERE id = ANY($3)`, s.table),
		relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status='published', processed_at=now(), lease_until=NULL WHERE id = ANY($1)`, s.table), ids)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET
		retry_count = retry_count + 1,
		status = CASE WHEN retry_count + 1 >= $2 THEN 'dead_letter' ELSE 'failed' END,
		last_error = $3,
		lease_until = NULL
		WHERE id = $1`, s.table), id, s.maxRetries, errMsg)
	return err
}

// ByCorrelation returns every message sharing a correlation id, in creation
// order. No cross-message ordering is guaranteed on the wire.
func (s *PostgresStore) ByCorrelation(ctx context.Context, correlationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, message_type, payload, correlation_id, aggregate_type, aggregate_id, traceparent, status, retry_count, created_at
		FROM %s WHERE correlation_id = $1 ORDER BY created_at, id`, s.table), correlationID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// DeadLettered lists messages awaiting operator intervention.
func (s *PostgresStore) DeadLettered(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, message_type, payload, correlation_id, aggregate_type, aggregate_id, traceparent, status, retry_count, created_at
		FROM %s WHERE status = 'dead_letter' ORDER BY created_at LIMIT $1`, s.table), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MessageType, &m.Payload, &m.CorrelationID, &m.AggregateType,
			&m.AggregateID, &m.Traceparent, &m.Status, &m.RetryCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
