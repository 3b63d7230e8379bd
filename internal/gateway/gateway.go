// Package gateway defines the provider adapter port for the external payment
// gateway and its implementations. The payment core never inspects gateway
// wire formats; it consumes only the typed results defined here.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// SessionRequest carries the inputs for opening a gateway checkout session.
type SessionRequest struct {
	OrderID       string
	OrderName     string
	Amount        int64 // minor currency units
	Currency      string
	SuccessURL    string
	FailURL       string
	CustomerID    string
	CustomerEmail string
}

// Session is the typed result of a successful session creation.
type Session struct {
	ClientKey  string
	IsTestMode bool
}

// Confirmation is the typed result of a successful confirm or lookup call.
type Confirmation struct {
	PaymentKey string
	PaidAmount int64
	Method     string
	ApprovedAt time.Time
	Card       string
	ReceiptURL string
}

// RefundResult is the typed result of a successful refund call.
type RefundResult struct {
	RefundAmount int64
	RefundedAt   time.Time
}

// Error is a fault reported by the gateway itself, as opposed to a transport
// failure reaching it. Code carries the gateway's machine-readable reason.
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// ErrNotFound is the code a Lookup reports for an unknown payment key.
const ErrNotFound = "not_found"

// Gateway is the provider adapter port. All calls may block on the network
// and honor context cancellation. Calls either return the typed success
// result or an error; gateway-side declines are *Error values.
type Gateway interface {
	// CreateSession opens a checkout session for the given order.
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)

	// Confirm captures the payment identified by paymentKey. The amount is
	// always the server-side verified amount; callers must never pass a
	// client-supplied value.
	Confirm(ctx context.Context, paymentKey, orderRef string, amount int64) (*Confirmation, error)

	// Refund reverses the full captured amount of the payment.
	Refund(ctx context.Context, paymentKey, reason string) (*RefundResult, error)

	// Lookup queries the gateway for the ground-truth state of a payment.
	// Used by the reconciliation sweep for payments stuck mid-confirm.
	Lookup(ctx context.Context, paymentKey string) (*Confirmation, error)
}
