package domain

import "time"

// Ledger events announced through the outbox alongside the mutation that
// produced them.
const (
	EventStockReserved       = "StockReserved"
	EventReservationFailed   = "ReservationFailed"
	EventReservationReleased = "ReservationReleased"
	EventReservationExpired  = "ReservationExpired"
	EventStockDeducted       = "StockDeducted"
)

type StockReserved struct {
	ReservationID string    `json:"reservation_id"`
	SKUID         string    `json:"sku_id"`
	Quantity      int       `json:"quantity"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ReservationFailed struct {
	SKUID         string `json:"sku_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type ReservationReleased struct {
	ReservationID string `json:"reservation_id"`
	SKUID         string `json:"sku_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type ReservationExpiredEvent struct {
	ReservationID string `json:"reservation_id"`
	SKUID         string `json:"sku_id"`
	Quantity      int    `json:"quantity"`
}

type StockDeducted struct {
	ReservationID string `json:"reservation_id"`
	SKUID         string `json:"sku_id"`
	OrderID       string `json:"order_id"`
	Quantity      int    `json:"quantity"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
