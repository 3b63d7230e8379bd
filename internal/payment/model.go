package payment

import "time"

// DefaultCurrency is applied when a prepare request omits the currency code.
const DefaultCurrency = "KRW"

// Payment is the authoritative record of one payment attempt.
//
// Amount is fixed at creation time and never mutated afterward; it is the
// single source of truth for what may be charged. Fields past Metadata are
// populated only when the corresponding transition happens.
type Payment struct {
	ID            string            `json:"id"`
	Status        Status            `json:"status"`
	Amount        int64             `json:"amount"` // minor currency units
	Currency      string            `json:"currency"`
	TransactionID string            `json:"transaction_id"`
	OrderID       string            `json:"order_id,omitempty"`
	SourceService string            `json:"source_service,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	PaymentKey    *string    `json:"payment_key,omitempty"`
	PaidAmount    *int64     `json:"paid_amount,omitempty"`
	PaymentMethod *string    `json:"payment_method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`

	FailureReason *string    `json:"failure_reason,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`

	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrepareRequest carries the caller-supplied inputs for opening a payment.
type PrepareRequest struct {
	OrderID       string            `json:"order_id"`
	OrderName     string            `json:"order_name"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency,omitempty"`
	SuccessURL    string            `json:"success_url"`
	FailURL       string            `json:"fail_url"`
	CustomerID    string            `json:"customer_id"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	SourceService string            `json:"source_service"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// clone returns a deep copy so repository callers cannot mutate stored state.
func (p *Payment) clone() *Payment {
	if p == nil {
		return nil
	}
	copied := *p
	if p.Metadata != nil {
		copied.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			copied.Metadata[k] = v
		}
	}
	copyStr := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := *s
		return &v
	}
	copyInt := func(i *int64) *int64 {
		if i == nil {
			return nil
		}
		v := *i
		return &v
	}
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	copied.PaymentKey = copyStr(p.PaymentKey)
	copied.PaidAmount = copyInt(p.PaidAmount)
	copied.PaymentMethod = copyStr(p.PaymentMethod)
	copied.PaidAt = copyTime(p.PaidAt)
	copied.FailureReason = copyStr(p.FailureReason)
	copied.FailedAt = copyTime(p.FailedAt)
	copied.CancelledAt = copyTime(p.CancelledAt)
	copied.RefundedAt = copyTime(p.RefundedAt)
	return &copied
}
