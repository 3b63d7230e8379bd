package gateway

import (
	"context"
	"sync"
	"time"
)

// FakeGateway is a scripted in-memory Gateway for tests and local development.
// Each call can be overridden per test; unset calls succeed with canned data.
type FakeGateway struct {
	mu sync.Mutex

	// ConfirmErr, RefundErr and LookupErr force the corresponding call to
	// fail when non-nil.
	SessionErr error
	ConfirmErr error
	RefundErr  error
	LookupErr  error

	// ConfirmDelay simulates a slow gateway call.
	ConfirmDelay time.Duration

	confirmCalls []ConfirmCall
}

// ConfirmCall records the arguments of one Confirm invocation.
type ConfirmCall struct {
	PaymentKey string
	OrderRef   string
	Amount     int64
}

// NewFakeGateway creates a FakeGateway that succeeds on every call.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

// CreateSession returns a canned session or the scripted error.
func (g *FakeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SessionErr != nil {
		return nil, g.SessionErr
	}
	return &Session{ClientKey: "ck_test_" + req.OrderID, IsTestMode: true}, nil
}

// Confirm records the call and returns a confirmation echoing the verified
// amount, or the scripted error.
func (g *FakeGateway) Confirm(ctx context.Context, paymentKey, orderRef string, amount int64) (*Confirmation, error) {
	if g.ConfirmDelay > 0 {
		select {
		case <-time.After(g.ConfirmDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmCalls = append(g.confirmCalls, ConfirmCall{PaymentKey: paymentKey, OrderRef: orderRef, Amount: amount})
	if g.ConfirmErr != nil {
		return nil, g.ConfirmErr
	}
	return &Confirmation{
		PaymentKey: paymentKey,
		PaidAmount: amount,
		Method:     "card",
		ApprovedAt: time.Now().UTC(),
		Card:       "4242",
		ReceiptURL: "https://receipts.example/" + paymentKey,
	}, nil
}

// Refund returns a canned refund result or the scripted error.
func (g *FakeGateway) Refund(ctx context.Context, paymentKey, reason string) (*RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RefundErr != nil {
		return nil, g.RefundErr
	}
	return &RefundResult{RefundAmount: 0, RefundedAt: time.Now().UTC()}, nil
}

// Lookup returns a canned confirmation or the scripted error.
func (g *FakeGateway) Lookup(ctx context.Context, paymentKey string) (*Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.LookupErr != nil {
		return nil, g.LookupErr
	}
	return &Confirmation{
		PaymentKey: paymentKey,
		Method:     "card",
		ApprovedAt: time.Now().UTC(),
	}, nil
}

// ConfirmCalls returns a copy of the recorded Confirm invocations.
func (g *FakeGateway) ConfirmCalls() []ConfirmCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := make([]ConfirmCall, len(g.confirmCalls))
	copy(calls, g.confirmCalls)
	return calls
}
