package application

import (
	"context"
	"sync"
	"time"

	"github.com/marketsys/checkout-core/internal/checkout/domain"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// memSagaRepo is an in-memory SagaRepository with transactional semantics:
// writes stage in the tx and apply only when fn returns nil.
type memSagaRepo struct {
	mu       sync.Mutex
	sagas    map[string]domain.Checkout
	messages []outbox.Message
}

func newMemSagaRepo() *memSagaRepo {
	return &memSagaRepo{sagas: map[string]domain.Checkout{}}
}

type memSagaTx struct {
	saved    *domain.Checkout
	messages []outbox.Message
}

func (t *memSagaTx) Save(ctx context.Context, c *domain.Checkout) error {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	t.saved = &cp
	return nil
}

func (t *memSagaTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	t.messages = append(t.messages, msg)
	return nil
}

func (r *memSagaRepo) WithCheckout(ctx context.Context, correlationID string, fn func(ctx context.Context, tx SagaTx, c *domain.Checkout) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *domain.Checkout
	if c, ok := r.sagas[correlationID]; ok {
		cp := c
		cp.Items = append([]domain.CartItem(nil), c.Items...)
		existing = &cp
	}

	tx := &memSagaTx{}
	if err := fn(ctx, tx, existing); err != nil {
		return err
	}
	if tx.saved != nil {
		r.sagas[tx.saved.CorrelationID] = *tx.saved
	}
	r.messages = append(r.messages, tx.messages...)
	return nil
}

func (r *memSagaRepo) Get(ctx context.Context, correlationID string) (*domain.Checkout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sagas[correlationID]
	if !ok {
		return nil, ErrUnknownCheckout
	}
	cp := c
	return &cp, nil
}

func (r *memSagaRepo) StaleCorrelationIDs(ctx context.Context, startedBefore time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, c := range r.sagas {
		if c.CompletedAt == nil && c.StartedAt.Before(startedBefore) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r *memSagaRepo) messagesOfType(messageType string) []outbox.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []outbox.Message
	for _, m := range r.messages {
		if m.MessageType == messageType {
			out = append(out, m)
		}
	}
	return out
}

func (r *memSagaRepo) saga(correlationID string) (domain.Checkout, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sagas[correlationID]
	return c, ok
}
