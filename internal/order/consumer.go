package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketbase/paycore/internal/dedup"
	"github.com/marketbase/paycore/internal/event"
)

// QuotaExhaustedReason is recorded on orders compensated because the sales
// quota ran out between payment initiation and gateway confirmation.
const QuotaExhaustedReason = "sales quota exhausted at confirmation"

// Consumer reconciles orders against payment lifecycle events.
//
// Delivery is at-least-once, so each completed event is deduplicated on
// paymentID:orderID within the dedup window, and every mutation re-checks the
// order's own status guards. The payment capture itself is never reversed
// from here; a quota violation produces a compensating order cancellation.
type Consumer struct {
	orders Repository
	quota  QuotaChecker
	dedup  dedup.Store
	window time.Duration
	logger *slog.Logger
}

// NewConsumer creates a payment event consumer for orders.
// window <= 0 falls back to the default dedup window.
func NewConsumer(orders Repository, quota QuotaChecker, store dedup.Store, window time.Duration, logger *slog.Logger) *Consumer {
	if window <= 0 {
		window = dedup.DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		orders: orders,
		quota:  quota,
		dedup:  store,
		window: window,
		logger: logger,
	}
}

// HandleEvent processes one payment event. Errors are returned for the
// dispatcher to log; they never prevent later events from being processed.
func (c *Consumer) HandleEvent(ctx context.Context, env *event.Envelope) error {
	switch env.EventType {
	case event.TypePaymentCompleted:
		return c.handleCompleted(ctx, env)
	case event.TypePaymentFailed:
		return c.handleFailed(ctx, env)
	default:
		// Other lifecycle events carry nothing for the order domain.
		return nil
	}
}

func (c *Consumer) handleCompleted(ctx context.Context, env *event.Envelope) error {
	if env.Completed == nil {
		return fmt.Errorf("completed event %s missing payload", env.PaymentID)
	}

	key := env.DedupKey()
	seen, err := c.dedup.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		c.logger.InfoContext(ctx, "duplicate payment event suppressed",
			"payment_id", env.PaymentID, "order_id", env.OrderID)
		return nil
	}

	o, err := c.orders.GetByID(ctx, env.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return fmt.Errorf("order %s not found for completed payment %s", env.OrderID, env.PaymentID)
		}
		return fmt.Errorf("load order: %w", err)
	}

	// Already accepted: nothing to do, but record the key so a redelivery
	// is suppressed straight from the cache.
	if o.Status.IsAcceptedTerminal() {
		c.logger.InfoContext(ctx, "order already finalized, skipping",
			"order_id", o.ID, "order_status", o.Status, "payment_id", env.PaymentID)
		return c.record(ctx, key)
	}

	if !o.Status.IsPayable() {
		return fmt.Errorf("order %s in status %s cannot accept payment %s", o.ID, o.Status, env.PaymentID)
	}

	// The quota may have been consumed by other buyers while the gateway
	// call was in flight. Re-check before accepting.
	available, err := c.quota.Available(ctx, o.ProductID, o.Quantity)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}

	if !available {
		o.Status = StatusCancelled
		o.PaymentState = PaymentStateFailed
		o.FailureReason = QuotaExhaustedReason
		if err := c.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		c.logger.WarnContext(ctx, "order cancelled: quota exhausted at confirmation",
			"order_id", o.ID, "product_id", o.ProductID, "payment_id", env.PaymentID)
		return c.record(ctx, key)
	}

	if err := c.quota.Reserve(ctx, o.ProductID, o.Quantity); err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}

	paidAt := env.Completed.ApprovedAt
	o.Status = StatusPaid
	o.PaymentState = PaymentStatePaid
	o.PaymentMethod = env.Completed.PaymentMethod
	o.PaidAt = &paidAt
	if err := c.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("finalize order: %w", err)
	}

	c.logger.InfoContext(ctx, "order finalized from payment event",
		"order_id", o.ID, "payment_id", env.PaymentID, "paid_amount", env.Completed.PaidAmount)
	return c.record(ctx, key)
}

func (c *Consumer) handleFailed(ctx context.Context, env *event.Envelope) error {
	if env.Failed == nil {
		return fmt.Errorf("failed event %s missing payload", env.PaymentID)
	}

	o, err := c.orders.GetByID(ctx, env.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// Nothing to reconcile; the payment may belong to another domain.
			c.logger.InfoContext(ctx, "no order for failed payment",
				"order_id", env.OrderID, "payment_id", env.PaymentID)
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}

	if !o.Status.IsPayable() {
		return nil
	}

	o.PaymentState = PaymentStateFailed
	o.FailureReason = env.Failed.ErrorMessage
	if err := c.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("mark order payment failed: %w", err)
	}

	c.logger.InfoContext(ctx, "order payment marked failed",
		"order_id", o.ID, "payment_id", env.PaymentID, "error_code", env.Failed.ErrorCode)
	return nil
}

// record adds the dedup key after a successful or explicitly-skipped outcome.
func (c *Consumer) record(ctx context.Context, key string) error {
	if _, err := c.dedup.MarkProcessed(ctx, key, c.window); err != nil {
		return fmt.Errorf("record dedup key: %w", err)
	}
	return nil
}
