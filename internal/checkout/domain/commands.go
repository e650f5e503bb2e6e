package domain

// Commands the saga emits through the outbox. Each names the collaborator
// that consumes it; all carry the checkout's correlation id.

type Command interface {
	MessageType() string
}

// ValidateOrder asks the order service to validate the submitted order.
type ValidateOrder struct {
	CorrelationID string     `json:"correlation_id"`
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	CartID        string     `json:"cart_id"`
	Items         []CartItem `json:"items"`
}

// ReserveStock asks the reservation ledger to claim stock for the cart.
type ReserveStock struct {
	CorrelationID string     `json:"correlation_id"`
	OrderID       string     `json:"order_id"`
	CartID        string     `json:"cart_id"`
	Items         []CartItem `json:"items"`
}

// ChargePayment asks the payment collaborator to charge the buyer.
type ChargePayment struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	AmountCents   int64  `json:"amount_cents"`
}

// ConvertReservations asks the ledger to turn the cart's reservations into a
// permanent stock deduction tied to the order.
type ConvertReservations struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	CartID        string `json:"cart_id"`
}

// ConfirmOrder asks the order service to finalize the order.
type ConfirmOrder struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
}

// ReleaseReservation compensates a checkout by releasing the cart's claims.
type ReleaseReservation struct {
	CorrelationID string `json:"correlation_id"`
	CartID        string `json:"cart_id"`
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

const (
	CommandValidateOrder       = "ValidateOrder"
	CommandReserveStock        = "ReserveStock"
	CommandChargePayment       = "ChargePayment"
	CommandConvertReservations = "ConvertReservations"
	CommandConfirmOrder        = "ConfirmOrder"
	CommandReleaseReservation  = "ReleaseReservation"
)

func (ValidateOrder) MessageType() string       { return CommandValidateOrder }
func (ReserveStock) MessageType() string        { return CommandReserveStock }
func (ChargePayment) MessageType() string       { return CommandChargePayment }
func (ConvertReservations) MessageType() string { return CommandConvertReservations }
func (ConfirmOrder) MessageType() string        { return CommandConfirmOrder }
func (ReleaseReservation) MessageType() string  { return CommandReleaseReservation }
