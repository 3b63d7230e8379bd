package order

import (
	"context"
	"sync"
)

// QuotaChecker re-validates the sales quota at reconciliation time. The
// quota may have been exhausted by other buyers between payment initiation
// and gateway confirmation, so consumers must check again before accepting.
type QuotaChecker interface {
	// Available reports whether accepting qty more units of the product
	// stays within the sales quota.
	Available(ctx context.Context, productID string, qty int) (bool, error)

	// Reserve records qty accepted units against the product's quota.
	Reserve(ctx context.Context, productID string, qty int) error
}

// InMemoryQuota implements QuotaChecker with per-product limits and sold
// counters. A product without a configured limit is unlimited.
type InMemoryQuota struct {
	mu     sync.Mutex
	limits map[string]int
	sold   map[string]int
}

// NewInMemoryQuota creates an empty quota tracker.
func NewInMemoryQuota() *InMemoryQuota {
	return &InMemoryQuota{
		limits: make(map[string]int),
		sold:   make(map[string]int),
	}
}

// SetLimit configures the sales quota for a product.
func (q *InMemoryQuota) SetLimit(productID string, limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limits[productID] = limit
}

// Available reports whether qty more units fit within the product's quota.
func (q *InMemoryQuota) Available(ctx context.Context, productID string, qty int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit, ok := q.limits[productID]
	if !ok {
		return true, nil
	}
	return q.sold[productID]+qty <= limit, nil
}

// Reserve records qty accepted units.
func (q *InMemoryQuota) Reserve(ctx context.Context, productID string, qty int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sold[productID] += qty
	return nil
}
