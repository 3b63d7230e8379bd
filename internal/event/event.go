// Package event defines the payment lifecycle event contract and the
// publishing infrastructure used to distribute events to downstream
// consumers with at-least-once delivery.
package event

import "time"

// Type identifies a payment lifecycle event.
type Type string

const (
	TypePaymentInitiated Type = "PAYMENT_INITIATED"
	TypePaymentCompleted Type = "PAYMENT_COMPLETED"
	TypePaymentFailed    Type = "PAYMENT_FAILED"
	TypePaymentCancelled Type = "PAYMENT_CANCELLED"
	TypePaymentRefunded  Type = "PAYMENT_REFUNDED"
)

// Envelope is the common wrapper around every payment event. Exactly one of
// the payload pointers is set, matching the event type.
type Envelope struct {
	EventType     Type      `json:"event_type" cbor:"event_type"`
	PaymentID     string    `json:"payment_id" cbor:"payment_id"`
	TransactionID string    `json:"transaction_id" cbor:"transaction_id"`
	OrderID       string    `json:"order_id,omitempty" cbor:"order_id,omitempty"`
	Timestamp     time.Time `json:"timestamp" cbor:"timestamp"`
	SourceService string    `json:"source_service,omitempty" cbor:"source_service,omitempty"`

	Initiated *InitiatedPayload `json:"initiated,omitempty" cbor:"initiated,omitempty"`
	Completed *CompletedPayload `json:"completed,omitempty" cbor:"completed,omitempty"`
	Failed    *FailedPayload    `json:"failed,omitempty" cbor:"failed,omitempty"`
	Cancelled *CancelledPayload `json:"cancelled,omitempty" cbor:"cancelled,omitempty"`
	Refunded  *RefundedPayload  `json:"refunded,omitempty" cbor:"refunded,omitempty"`
}

// InitiatedPayload accompanies PAYMENT_INITIATED.
type InitiatedPayload struct {
	RequestedAmount int64  `json:"requested_amount" cbor:"requested_amount"`
	Currency        string `json:"currency" cbor:"currency"`
}

// CompletedPayload accompanies PAYMENT_COMPLETED.
type CompletedPayload struct {
	PaymentKey    string    `json:"payment_key" cbor:"payment_key"`
	PaidAmount    int64     `json:"paid_amount" cbor:"paid_amount"`
	PaymentMethod string    `json:"payment_method" cbor:"payment_method"`
	ApprovedAt    time.Time `json:"approved_at" cbor:"approved_at"`
	Card          string    `json:"card,omitempty" cbor:"card,omitempty"`
	ReceiptURL    string    `json:"receipt_url,omitempty" cbor:"receipt_url,omitempty"`
}

// FailedPayload accompanies PAYMENT_FAILED.
type FailedPayload struct {
	ErrorCode    string    `json:"error_code" cbor:"error_code"`
	ErrorMessage string    `json:"error_message" cbor:"error_message"`
	FailedAt     time.Time `json:"failed_at" cbor:"failed_at"`
}

// CancelledPayload accompanies PAYMENT_CANCELLED.
type CancelledPayload struct {
	CancelReason string    `json:"cancel_reason,omitempty" cbor:"cancel_reason,omitempty"`
	CancelledAt  time.Time `json:"cancelled_at" cbor:"cancelled_at"`
}

// RefundedPayload accompanies PAYMENT_REFUNDED.
type RefundedPayload struct {
	RefundAmount int64     `json:"refund_amount" cbor:"refund_amount"`
	RefundReason string    `json:"refund_reason,omitempty" cbor:"refund_reason,omitempty"`
	RefundedAt   time.Time `json:"refunded_at" cbor:"refunded_at"`
}

// DedupKey returns the consumer deduplication key for the event.
func (e *Envelope) DedupKey() string {
	return e.PaymentID + ":" + e.OrderID
}
