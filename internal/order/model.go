// Package order provides the exemplar downstream consumer that reconciles
// orders against payment lifecycle events. It owns the order domain object;
// payments are consumed, never mutated, from here.
package order

import "time"

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusConfirmed      Status = "CONFIRMED"
	StatusCancelled      Status = "CANCELLED"
)

// PaymentState is the order's view of its payment, tracked separately from
// the order status so a compensated order still records why payment failed.
type PaymentState string

const (
	PaymentStatePending PaymentState = "PENDING"
	PaymentStatePaid    PaymentState = "PAID"
	PaymentStateFailed  PaymentState = "FAILED"
)

// IsAcceptedTerminal returns true when the order already reached a state
// where a completed payment needs no further action.
func (s Status) IsAcceptedTerminal() bool {
	return s == StatusPaid || s == StatusConfirmed
}

// IsPayable returns true when the order may still accept a payment outcome.
func (s Status) IsPayable() bool {
	return s == StatusCreated || s == StatusPendingPayment
}

// Order is the downstream domain object reconciled against payment events.
type Order struct {
	ID           string       `json:"id"`
	ProductID    string       `json:"product_id"`
	Quantity     int          `json:"quantity"`
	Status       Status       `json:"status"`
	PaymentState PaymentState `json:"payment_state"`

	PaymentMethod string     `json:"payment_method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
