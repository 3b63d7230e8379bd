package payment

import (
	"errors"
	"fmt"
)

// ErrorKind is the structured taxonomy for payment core failures.
// Handlers and callers branch on the kind, never on message text.
type ErrorKind string

const (
	// KindNotFound indicates the payment record does not exist.
	KindNotFound ErrorKind = "payment_not_found"

	// KindAmountMissing indicates the stored record carries no positive amount.
	KindAmountMissing ErrorKind = "payment_amount_missing"

	// KindAlreadyProcessing indicates another confirm attempt won the
	// conditional transition out of CREATED.
	KindAlreadyProcessing ErrorKind = "payment_already_processing"

	// KindInvalidTransition indicates the requested status change is not in
	// the transition table.
	KindInvalidTransition ErrorKind = "invalid_payment_transition"

	// KindKeyMissing indicates a refund was requested for a payment without
	// a gateway payment key.
	KindKeyMissing ErrorKind = "payment_key_missing"
)

// Error is a tagged payment core error. The Kind distinguishes expected
// rejections (already processing, illegal transition) from genuine faults,
// which surface as plain wrapped errors instead.
type Error struct {
	Kind      ErrorKind
	PaymentID string
	From      Status
	To        Status
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidTransition:
		return fmt.Sprintf("%s: %s -> %s", e.Kind, e.From, e.To)
	default:
		if e.PaymentID != "" {
			return fmt.Sprintf("%s: payment %s", e.Kind, e.PaymentID)
		}
		return string(e.Kind)
	}
}

// newError builds a tagged error for the given payment.
func newError(kind ErrorKind, paymentID string) *Error {
	return &Error{Kind: kind, PaymentID: paymentID}
}

// newTransitionError builds an invalid-transition error with both states.
func newTransitionError(paymentID string, from, to Status) *Error {
	return &Error{Kind: KindInvalidTransition, PaymentID: paymentID, From: from, To: to}
}

// KindOf returns the ErrorKind of err if it is a payment error, or "".
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
