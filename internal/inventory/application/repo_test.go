package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketsys/checkout-core/internal/inventory/domain"
	"github.com/marketsys/checkout-core/pkg/outbox"
)

// memLedger is an in-memory LedgerRepository. A single mutex serializes
// transactions the way row locks do in postgres, and every write is staged
// and applied only on commit so rollback semantics hold too.
type memLedger struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]domain.StockReservation
	messages     []outbox.Message

	failInsert bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		stock:        map[string]int{},
		reservations: map[string]domain.StockReservation{},
	}
}

func (m *memLedger) WithTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{repo: m, stock: map[string]int{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, r := range tx.writes {
		m.reservations[r.ID] = r
	}
	for id, qty := range tx.stock {
		m.stock[id] = qty
	}
	m.messages = append(m.messages, tx.messages...)
	return nil
}

func (m *memLedger) EnqueueStandalone(ctx context.Context, msg outbox.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memLedger) SKUForReservation(ctx context.Context, reservationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return "", fmt.Errorf("reservation %s not found", reservationID)
	}
	return r.SKUID, nil
}

func (m *memLedger) ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]ReservationRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []ReservationRef
	for _, r := range m.reservations {
		if r.Status == domain.ReservationActive && r.ExpiresAt.Before(before) {
			refs = append(refs, ReservationRef{ID: r.ID, SKUID: r.SKUID})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (m *memLedger) ActiveReservationsForCart(ctx context.Context, cartID string) ([]*domain.StockReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StockReservation
	for _, r := range m.reservations {
		if r.Status == domain.ReservationActive && r.IsForCart(cartID) {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLedger) CreateSKU(ctx context.Context, skuID string, stockQuantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[skuID] = stockQuantity
	return nil
}

func (m *memLedger) Availability(ctx context.Context, skuID string) (Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stock[skuID]
	if !ok {
		return Availability{}, fmt.Errorf("sku %s not found", skuID)
	}
	reserved := 0
	for _, r := range m.reservations {
		if r.SKUID == skuID && r.Status == domain.ReservationActive {
			reserved += r.Quantity
		}
	}
	return Availability{SKUID: skuID, Stock: stock, Reserved: reserved, Available: stock - reserved}, nil
}

func (m *memLedger) reservation(id string) (domain.StockReservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	return r, ok
}

func (m *memLedger) messagesOfType(messageType string) []outbox.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Message
	for _, msg := range m.messages {
		if msg.MessageType == messageType {
			out = append(out, msg)
		}
	}
	return out
}

type memTx struct {
	repo     *memLedger
	writes   []domain.StockReservation
	stock    map[string]int
	messages []outbox.Message
}

func (t *memTx) SKUForUpdate(ctx context.Context, skuID string) (*domain.SKU, error) {
	stock, ok := t.repo.stock[skuID]
	if qty, staged := t.stock[skuID]; staged {
		stock, ok = qty, true
	}
	if !ok {
		return nil, fmt.Errorf("sku %s not found", skuID)
	}
	sku := &domain.SKU{ID: skuID, StockQuantity: stock}
	for _, r := range t.repo.reservations {
		if r.SKUID == skuID && r.Status == domain.ReservationActive {
			cp := r
			sku.Reservations = append(sku.Reservations, &cp)
		}
	}
	sort.Slice(sku.Reservations, func(i, j int) bool { return sku.Reservations[i].ID < sku.Reservations[j].ID })
	return sku, nil
}

func (t *memTx) CartSKUs(ctx context.Context, cartID string) ([]string, error) {
	seen := map[string]bool{}
	for _, r := range t.repo.reservations {
		if r.Status == domain.ReservationActive && r.IsForCart(cartID) {
			seen[r.SKUID] = true
		}
	}
	var ids []string
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memTx) InsertReservation(ctx context.Context, r *domain.StockReservation) error {
	if t.repo.failInsert {
		return errors.New("insert failed")
	}
	t.writes = append(t.writes, *r)
	return nil
}

func (t *memTx) UpdateReservation(ctx context.Context, r *domain.StockReservation) error {
	t.writes = append(t.writes, *r)
	return nil
}

func (t *memTx) UpdateStock(ctx context.Context, skuID string, stockQuantity int) error {
	t.stock[skuID] = stockQuantity
	return nil
}

func (t *memTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	t.messages = append(t.messages, msg)
	return nil
}
