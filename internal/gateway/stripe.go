package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"

	"github.com/marketbase/paycore/internal/tracing"
)

// StripeGateway implements the Gateway port using the Stripe SDK.
// A payment key in this implementation is a Stripe PaymentIntent ID.
type StripeGateway struct{}

// NewStripeGateway creates a new Stripe-backed gateway with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

// CreateSession opens a PaymentIntent for the order and returns its client
// secret as the session client key.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "create_session")
	var err error
	defer func() { endSpan(err) }()

	params := &stripe.PaymentIntentParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.OrderName),
		Metadata: map[string]string{
			"order_id":    req.OrderID,
			"customer_id": req.CustomerID,
		},
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		err = wrapStripeError(err)
		return nil, err
	}

	return &Session{
		ClientKey:  pi.ClientSecret,
		IsTestMode: !pi.Livemode,
	}, nil
}

// Confirm captures the PaymentIntent identified by paymentKey with the
// server-side verified amount.
func (g *StripeGateway) Confirm(ctx context.Context, paymentKey, orderRef string, amount int64) (*Confirmation, error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "confirm")
	var err error
	defer func() { endSpan(err) }()

	params := &stripe.PaymentIntentConfirmParams{
		Params: stripe.Params{Context: ctx},
	}
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Confirm(paymentKey, params)
	if err != nil {
		err = wrapStripeError(err)
		return nil, err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		err = &Error{Code: string(pi.Status), Message: "payment intent not succeeded"}
		return nil, err
	}
	if pi.AmountReceived != amount {
		err = &Error{Code: "amount_mismatch", Message: "captured amount differs from requested amount"}
		return nil, err
	}

	return confirmationFromIntent(pi), nil
}

// Refund reverses the full captured amount of the PaymentIntent.
func (g *StripeGateway) Refund(ctx context.Context, paymentKey, reason string) (*RefundResult, error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "refund")
	var err error
	defer func() { endSpan(err) }()

	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentKey),
	}
	if reason != "" {
		params.Metadata = map[string]string{"reason": reason}
	}

	ref, err := refund.New(params)
	if err != nil {
		err = wrapStripeError(err)
		return nil, err
	}

	return &RefundResult{
		RefundAmount: ref.Amount,
		RefundedAt:   time.Unix(ref.Created, 0).UTC(),
	}, nil
}

// Lookup retrieves the ground-truth state of a PaymentIntent.
func (g *StripeGateway) Lookup(ctx context.Context, paymentKey string) (*Confirmation, error) {
	ctx, endSpan := tracing.StartGatewaySpan(ctx, "lookup")
	var err error
	defer func() { endSpan(err) }()

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	}
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(paymentKey, params)
	if err != nil {
		err = wrapStripeError(err)
		return nil, err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		err = &Error{Code: string(pi.Status), Message: "payment intent not succeeded"}
		return nil, err
	}

	return confirmationFromIntent(pi), nil
}

// confirmationFromIntent maps a succeeded PaymentIntent to the typed result.
func confirmationFromIntent(pi *stripe.PaymentIntent) *Confirmation {
	conf := &Confirmation{
		PaymentKey: pi.ID,
		PaidAmount: pi.AmountReceived,
		Method:     "card",
		ApprovedAt: time.Unix(pi.Created, 0).UTC(),
	}
	if pi.LatestCharge != nil {
		if pi.LatestCharge.PaymentMethodDetails != nil {
			conf.Method = string(pi.LatestCharge.PaymentMethodDetails.Type)
			if pi.LatestCharge.PaymentMethodDetails.Card != nil {
				conf.Card = pi.LatestCharge.PaymentMethodDetails.Card.Last4
			}
		}
		conf.ReceiptURL = pi.LatestCharge.ReceiptURL
		if pi.LatestCharge.Created > 0 {
			conf.ApprovedAt = time.Unix(pi.LatestCharge.Created, 0).UTC()
		}
	}
	return conf
}

// wrapStripeError converts Stripe SDK errors to gateway faults. Stripe-side
// declines become *Error values; transport errors pass through unchanged.
func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		if code == "" {
			code = string(se.Type)
		}
		return &Error{Code: code, Message: se.Msg}
	}
	return err
}
