package application

import (
	"context"
	"time"

	"github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// SagaTx scopes one saga mutation. The state write and the outbox writes for
// the commands it produced commit atomically.
type SagaTx interface {
	Save(ctx context.Context, c *domain.Checkout) error
	Enqueue(ctx context.Context, msg outbox.Message) error
}

type SagaRepository interface {
	// WithCheckout locks the saga row for correlationID and runs fn with the
	// loaded instance, or nil if none exists yet. The row lock is what makes
	// saga mutation single-writer per correlation id.
	WithCheckout(ctx context.Context, correlationID string, fn func(ctx context.Context, tx SagaTx, c *domain.Checkout) error) error
	Get(ctx context.Context, correlationID string) (*domain.Checkout, error)
	// StaleCorrelationIDs lists non-terminal sagas started before the cutoff.
	StaleCorrelationIDs(ctx context.Context, startedBefore time.Time, limit int) ([]string, error)
}
