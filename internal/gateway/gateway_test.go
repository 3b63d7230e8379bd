package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "card_declined", Message: "insufficient funds"}
	want := "gateway error card_declined: insufficient funds"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapStripeError(t *testing.T) {
	decline := &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "declined"}
	wrapped := wrapStripeError(decline)

	var ge *Error
	if !errors.As(wrapped, &ge) {
		t.Fatalf("declined Stripe error must become *Error, got %T", wrapped)
	}
	if ge.Code != string(stripe.ErrorCodeCardDeclined) {
		t.Errorf("Code = %q, want %q", ge.Code, stripe.ErrorCodeCardDeclined)
	}

	// A Stripe error without a code falls back to the error type.
	typed := &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "boom"}
	wrapped = wrapStripeError(typed)
	if !errors.As(wrapped, &ge) || ge.Code != string(stripe.ErrorTypeAPI) {
		t.Errorf("typed error Code = %v", wrapped)
	}

	// Transport errors pass through so callers can distinguish them from
	// gateway-side declines.
	transport := errors.New("connection refused")
	if got := wrapStripeError(transport); !errors.Is(got, transport) {
		t.Errorf("transport error = %v, want passthrough", got)
	}
	if errors.As(wrapStripeError(transport), &ge) {
		t.Error("transport error must not become *Error")
	}
}

func TestFakeGateway_Defaults(t *testing.T) {
	gw := NewFakeGateway()
	ctx := context.Background()

	session, err := gw.CreateSession(ctx, SessionRequest{OrderID: "ord_1", Amount: 1000})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ClientKey == "" || !session.IsTestMode {
		t.Errorf("session = %+v", session)
	}

	conf, err := gw.Confirm(ctx, "pk_1", "ord_1", 1000)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if conf.PaidAmount != 1000 || conf.PaymentKey != "pk_1" {
		t.Errorf("confirmation = %+v", conf)
	}

	calls := gw.ConfirmCalls()
	if len(calls) != 1 || calls[0].Amount != 1000 {
		t.Errorf("recorded calls = %+v", calls)
	}
}

func TestFakeGateway_ScriptedErrors(t *testing.T) {
	gw := NewFakeGateway()
	ctx := context.Background()

	gw.ConfirmErr = &Error{Code: "card_declined", Message: "declined"}
	if _, err := gw.Confirm(ctx, "pk_1", "ord_1", 1000); err == nil {
		t.Error("scripted confirm error must surface")
	}

	gw.LookupErr = errors.New("timeout")
	if _, err := gw.Lookup(ctx, "pk_1"); err == nil {
		t.Error("scripted lookup error must surface")
	}
}

func TestFakeGateway_ConfirmDelayHonorsContext(t *testing.T) {
	gw := NewFakeGateway()
	gw.ConfirmDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.Confirm(ctx, "pk_1", "ord_1", 1000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Confirm error = %v, want context deadline", err)
	}
}
