// Package payment provides the payment lifecycle state machine, models and
// orchestration service for gateway-backed payments.
package payment

// Status represents the lifecycle state of a payment record.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusConfirming Status = "CONFIRMING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// IsTerminal returns true if no transition leads out of the status.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusRefunded
}

// CanTransitionTo returns true if the transition from s to target is legal.
// The transition table is closed: every pair not listed here is rejected.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusCreated:
		return target == StatusConfirming || target == StatusCancelled
	case StatusConfirming:
		return target == StatusPaid || target == StatusFailed
	case StatusPaid:
		return target == StatusRefunded
	case StatusFailed, StatusCancelled, StatusRefunded:
		return false
	default:
		return false
	}
}

// Valid returns true if the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusConfirming, StatusPaid, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}
