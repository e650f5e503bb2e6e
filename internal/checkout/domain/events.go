package domain

// Outcome events the saga subscribes to. The order, inventory and payment
// collaborators publish these through their own outboxes; every payload
// carries the correlation id of the checkout it belongs to.

type Event interface {
	isEvent()
}

type ValidationSucceeded struct {
	CorrelationID string `json:"correlation_id"`
}

type ValidationFailed struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

type StockReserved struct {
	CorrelationID string `json:"correlation_id"`
	ReservationID string `json:"reservation_id"`
}

type ReservationFailed struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

type PaymentSucceeded struct {
	CorrelationID string `json:"correlation_id"`
	TransactionID string `json:"transaction_id"`
}

type PaymentFailed struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

type OrderConfirmed struct {
	CorrelationID string `json:"correlation_id"`
}

type CompensationCompleted struct {
	CorrelationID string `json:"correlation_id"`
}

// CancellationRequested is raised locally when the caller aborts an in-flight
// checkout. It never travels over the bus.
type CancellationRequested struct {
	CorrelationID string
	Reason        string
}

// TimedOut is raised locally by the timeout loop.
type TimedOut struct{}

func (ValidationSucceeded) isEvent()   {}
func (ValidationFailed) isEvent()      {}
func (StockReserved) isEvent()         {}
func (ReservationFailed) isEvent()     {}
func (PaymentSucceeded) isEvent()      {}
func (PaymentFailed) isEvent()         {}
func (OrderConfirmed) isEvent()        {}
func (CompensationCompleted) isEvent() {}
func (CancellationRequested) isEvent() {}
func (TimedOut) isEvent()              {}

// Wire names for outcome events.
const (
	EventValidationSucceeded   = "ValidationSucceeded"
	EventValidationFailed      = "ValidationFailed"
	EventStockReserved         = "StockReserved"
	EventReservationFailed     = "ReservationFailed"
	EventPaymentSucceeded      = "PaymentSucceeded"
	EventPaymentFailed         = "PaymentFailed"
	EventOrderConfirmed        = "OrderConfirmed"
	EventCompensationCompleted = "CompensationCompleted"
)
