package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecordNotFound is returned by repositories when no payment matches.
var ErrRecordNotFound = errors.New("payment record not found")

// Repository defines payment record persistence.
//
// TransitionStatus is a mandatory part of the contract: it must apply the
// status change atomically only when the persisted status still equals from,
// and report false otherwise. Implementations must not substitute a
// read-modify-write sequence; the confirm path relies on this compare-and-swap
// as its only concurrency guard.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error)

	// ListStuckConfirming returns payments that entered CONFIRMING before the
	// cutoff and never reached a terminal state. Used by the reconciliation
	// sweep.
	ListStuckConfirming(ctx context.Context, cutoff time.Time) ([]*Payment, error)

	// ListSettledBetween returns PAID and REFUNDED payments whose paid_at
	// falls within [from, to). Used by the settlement export.
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]*Payment, error)
}

// InMemoryRepository implements Repository with in-memory storage.
// Used for testing and single-process development setups.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Payment
}

// NewInMemoryRepository creates a new in-memory payment repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Payment),
	}
}

// Create adds a new payment record.
func (r *InMemoryRepository) Create(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	r.records[p.ID] = p.clone()
	return nil
}

// GetByID retrieves a payment record by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record.clone(), nil
}

// GetByTransactionID retrieves a payment record by its transaction ID.
func (r *InMemoryRepository) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.records {
		if record.TransactionID == transactionID {
			return record.clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

// GetByOrderID retrieves the most recent payment record for an order.
func (r *InMemoryRepository) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Payment
	for _, record := range r.records {
		if record.OrderID != orderID {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			latest = record
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}
	return latest.clone(), nil
}

// Update persists the mutable fields of an existing payment record. Status is
// deliberately excluded, exactly as in the SQL implementation's column list:
// TransitionStatus is the only way to change it, so a caller holding a stale
// copy cannot overwrite a concurrent transition.
func (r *InMemoryRepository) Update(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[p.ID]
	if !ok {
		return ErrRecordNotFound
	}

	now := time.Now().UTC()
	p.UpdatedAt = now

	updated := p.clone()
	updated.Status = current.Status
	r.records[p.ID] = updated
	return nil
}

// TransitionStatus applies the status change only if the stored status still
// equals from. The whole check-and-set runs under the write lock, which gives
// the same atomicity the SQL implementation gets from a conditional UPDATE.
func (r *InMemoryRepository) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if record.Status != from {
		return false, nil
	}
	record.Status = to
	record.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListStuckConfirming returns CONFIRMING payments last updated before cutoff.
func (r *InMemoryRepository) ListStuckConfirming(ctx context.Context, cutoff time.Time) ([]*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stuck []*Payment
	for _, record := range r.records {
		if record.Status == StatusConfirming && record.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, record.clone())
		}
	}
	return stuck, nil
}

// ListSettledBetween returns settled payments with paid_at in [from, to).
func (r *InMemoryRepository) ListSettledBetween(ctx context.Context, from, to time.Time) ([]*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var settled []*Payment
	for _, record := range r.records {
		if record.Status != StatusPaid && record.Status != StatusRefunded {
			continue
		}
		if record.PaidAt == nil {
			continue
		}
		if record.PaidAt.Before(from) || !record.PaidAt.Before(to) {
			continue
		}
		settled = append(settled, record.clone())
	}
	return settled, nil
}
