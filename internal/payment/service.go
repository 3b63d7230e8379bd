package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketbase/paycore/internal/event"
	"github.com/marketbase/paycore/internal/gateway"
)

// MetadataClientKey is the metadata key under which the gateway session
// client key is stored on the payment record.
const MetadataClientKey = "client_key"

// MetadataAttemptKey records the gateway payment key of an in-flight confirm
// attempt so the reconciliation sweep can query the gateway for ground truth
// if the attempt never completes.
const MetadataAttemptKey = "attempted_payment_key"

// Service orchestrates the payment lifecycle: prepare, confirm, cancel and
// refund. It owns every mutation of a payment record; events are published
// strictly after the corresponding state has been durably persisted.
type Service struct {
	repo      Repository
	gateway   gateway.Gateway
	publisher event.Publisher
	metrics   *Metrics
	logger    *slog.Logger
	timeNow   func() time.Time
}

// NewService creates a payment service. metrics may be nil.
func NewService(repo Repository, gw gateway.Gateway, publisher event.Publisher, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		gateway:   gw,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		timeNow:   func() time.Time { return time.Now().UTC() },
	}
}

// Prepare opens a gateway session and persists a new payment in CREATED.
// The supplied amount is authoritative from this point on. A session
// creation fault propagates to the caller unmodified.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*Payment, error) {
	if req.Amount <= 0 {
		return nil, newError(KindAmountMissing, "")
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID:       req.OrderID,
		OrderName:     req.OrderName,
		Amount:        req.Amount,
		Currency:      currency,
		SuccessURL:    req.SuccessURL,
		FailURL:       req.FailURL,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		s.count("prepare", "failure")
		return nil, err
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetadataClientKey] = session.ClientKey

	p := &Payment{
		ID:            uuid.New().String(),
		Status:        StatusCreated,
		Amount:        req.Amount,
		Currency:      currency,
		TransactionID: "txn_" + uuid.New().String(),
		OrderID:       req.OrderID,
		SourceService: req.SourceService,
		Metadata:      metadata,
		CreatedAt:     s.timeNow(),
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.count("prepare", "failure")
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	s.publish(ctx, &event.Envelope{
		EventType:     event.TypePaymentInitiated,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Timestamp:     s.timeNow(),
		SourceService: p.SourceService,
		Initiated: &event.InitiatedPayload{
			RequestedAmount: p.Amount,
			Currency:        p.Currency,
		},
	})

	s.count("prepare", "success")
	return p, nil
}

// Confirm drives the payment through CONFIRMING to PAID or FAILED.
//
// The confirmation amount is always read from the stored record, never
// accepted from the caller: a forged client-side amount cannot reach the
// gateway. The CREATED -> CONFIRMING step is an atomic conditional update;
// when two confirm attempts race, exactly one proceeds and the other is
// rejected with the already-processing kind.
func (s *Service) Confirm(ctx context.Context, paymentID, paymentKey, orderRef, internalOrderRef string) (*Payment, error) {
	started := s.timeNow()

	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.count("confirm", "rejected")
			return nil, newError(KindNotFound, paymentID)
		}
		s.count("confirm", "failure")
		return nil, fmt.Errorf("load payment: %w", err)
	}

	verifiedAmount := p.Amount
	if verifiedAmount <= 0 {
		s.count("confirm", "rejected")
		return nil, newError(KindAmountMissing, paymentID)
	}

	ok, err := s.repo.TransitionStatus(ctx, paymentID, StatusCreated, StatusConfirming)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.count("confirm", "rejected")
			return nil, newError(KindNotFound, paymentID)
		}
		s.count("confirm", "failure")
		return nil, fmt.Errorf("transition to confirming: %w", err)
	}
	if !ok {
		s.count("confirm", "rejected")
		return nil, newError(KindAlreadyProcessing, paymentID)
	}
	p.Status = StatusConfirming

	// Record the attempted key before the gateway call so the reconciliation
	// sweep has a handle if this attempt never returns.
	if p.Metadata == nil {
		p.Metadata = make(map[string]string, 1)
	}
	p.Metadata[MetadataAttemptKey] = paymentKey
	if err := s.repo.Update(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "failed to record attempted payment key",
			"payment_id", p.ID, "error", err)
	}

	conf, gwErr := s.gateway.Confirm(ctx, paymentKey, orderRef, verifiedAmount)
	if gwErr != nil {
		if err := s.markFailed(ctx, p, gwErr); err != nil {
			s.logger.ErrorContext(ctx, "failed to record payment failure",
				"payment_id", p.ID, "error", err)
		}
		s.count("confirm", "failure")
		s.observeConfirm(started)
		return nil, gwErr
	}

	if err := s.markPaid(ctx, p, conf, resolveOrderID(internalOrderRef, p.OrderID, orderRef)); err != nil {
		s.count("confirm", "failure")
		return nil, err
	}

	s.count("confirm", "success")
	s.observeConfirm(started)
	return p, nil
}

// markPaid records the terminal PAID state after a successful gateway
// confirmation and publishes PAYMENT_COMPLETED. The transition is validated
// against the state machine and persisted before the event goes out.
func (s *Service) markPaid(ctx context.Context, p *Payment, conf *gateway.Confirmation, eventOrderID string) error {
	if !p.Status.CanTransitionTo(StatusPaid) {
		return newTransitionError(p.ID, p.Status, StatusPaid)
	}

	ok, err := s.repo.TransitionStatus(ctx, p.ID, StatusConfirming, StatusPaid)
	if err != nil {
		return fmt.Errorf("transition to paid: %w", err)
	}
	if !ok {
		// Another actor finalized this payment first, typically the
		// reconciliation sweep resolving a confirm attempt it considered
		// stuck. The record already carries a terminal state and its event
		// has been published; writing ours would corrupt both.
		return s.lostFinalize(ctx, p, StatusPaid)
	}

	now := s.timeNow()
	p.Status = StatusPaid
	p.PaymentKey = &conf.PaymentKey
	p.PaidAmount = &conf.PaidAmount
	p.PaymentMethod = &conf.Method
	p.PaidAt = &now
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("persist paid payment: %w", err)
	}

	s.publish(ctx, &event.Envelope{
		EventType:     event.TypePaymentCompleted,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		OrderID:       eventOrderID,
		Timestamp:     s.timeNow(),
		SourceService: p.SourceService,
		Completed: &event.CompletedPayload{
			PaymentKey:    conf.PaymentKey,
			PaidAmount:    conf.PaidAmount,
			PaymentMethod: conf.Method,
			ApprovedAt:    conf.ApprovedAt,
			Card:          conf.Card,
			ReceiptURL:    conf.ReceiptURL,
		},
	})
	return nil
}

// markFailed records the terminal FAILED state after a gateway fault and
// publishes PAYMENT_FAILED. The original fault is preserved for the caller.
func (s *Service) markFailed(ctx context.Context, p *Payment, gwErr error) error {
	ok, err := s.repo.TransitionStatus(ctx, p.ID, StatusConfirming, StatusFailed)
	if err != nil {
		return fmt.Errorf("transition to failed: %w", err)
	}
	if !ok {
		return s.lostFinalize(ctx, p, StatusFailed)
	}

	now := s.timeNow()
	reason := failureReason(gwErr)
	p.Status = StatusFailed
	p.FailureReason = &reason
	p.FailedAt = &now
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("persist failed payment: %w", err)
	}

	s.publish(ctx, &event.Envelope{
		EventType:     event.TypePaymentFailed,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Timestamp:     s.timeNow(),
		SourceService: p.SourceService,
		Failed: &event.FailedPayload{
			ErrorCode:    failureCode(gwErr),
			ErrorMessage: reason,
			FailedAt:     now,
		},
	})
	return nil
}

// lostFinalize reports a lost terminal-state race. The stored status is
// re-read so the returned error names the state that actually won; the stale
// in-memory copy is used only when the re-read itself fails.
func (s *Service) lostFinalize(ctx context.Context, p *Payment, attempted Status) error {
	observed := p.Status
	if current, err := s.repo.GetByID(ctx, p.ID); err == nil {
		observed = current.Status
	}
	s.logger.WarnContext(ctx, "payment transitioned by another actor",
		"payment_id", p.ID,
		"observed_status", string(observed),
		"attempted_status", string(attempted),
	)
	return newTransitionError(p.ID, observed, attempted)
}

// Cancel moves a CREATED payment to CANCELLED. Illegal from any other state.
func (s *Service) Cancel(ctx context.Context, paymentID, reason string) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newError(KindNotFound, paymentID)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}

	if !p.Status.CanTransitionTo(StatusCancelled) {
		s.count("cancel", "rejected")
		return nil, newTransitionError(p.ID, p.Status, StatusCancelled)
	}

	ok, err := s.repo.TransitionStatus(ctx, p.ID, StatusCreated, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("transition to cancelled: %w", err)
	}
	if !ok {
		// Lost a race with a concurrent confirm or cancel.
		s.count("cancel", "rejected")
		return nil, s.lostFinalize(ctx, p, StatusCancelled)
	}

	now := s.timeNow()
	p.Status = StatusCancelled
	p.CancelledAt = &now
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("persist cancelled payment: %w", err)
	}

	s.publish(ctx, &event.Envelope{
		EventType:     event.TypePaymentCancelled,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Timestamp:     s.timeNow(),
		SourceService: p.SourceService,
		Cancelled: &event.CancelledPayload{
			CancelReason: reason,
			CancelledAt:  now,
		},
	})

	s.count("cancel", "success")
	return p, nil
}

// Refund reverses the full captured amount of a PAID payment.
func (s *Service) Refund(ctx context.Context, paymentID, reason string) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newError(KindNotFound, paymentID)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}

	if !p.Status.CanTransitionTo(StatusRefunded) {
		s.count("refund", "rejected")
		return nil, newTransitionError(p.ID, p.Status, StatusRefunded)
	}
	if p.PaymentKey == nil || *p.PaymentKey == "" {
		s.count("refund", "rejected")
		return nil, newError(KindKeyMissing, paymentID)
	}

	result, err := s.gateway.Refund(ctx, *p.PaymentKey, reason)
	if err != nil {
		s.count("refund", "failure")
		return nil, err
	}

	ok, err := s.repo.TransitionStatus(ctx, p.ID, StatusPaid, StatusRefunded)
	if err != nil {
		return nil, fmt.Errorf("transition to refunded: %w", err)
	}
	if !ok {
		s.count("refund", "rejected")
		return nil, newTransitionError(p.ID, p.Status, StatusRefunded)
	}

	refundedAt := result.RefundedAt
	if refundedAt.IsZero() {
		refundedAt = s.timeNow()
	}
	p.Status = StatusRefunded
	p.RefundedAt = &refundedAt
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("persist refunded payment: %w", err)
	}

	refundAmount := result.RefundAmount
	if refundAmount == 0 && p.PaidAmount != nil {
		refundAmount = *p.PaidAmount
	}

	s.publish(ctx, &event.Envelope{
		EventType:     event.TypePaymentRefunded,
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Timestamp:     s.timeNow(),
		SourceService: p.SourceService,
		Refunded: &event.RefundedPayload{
			RefundAmount: refundAmount,
			RefundReason: reason,
			RefundedAt:   refundedAt,
		},
	})

	s.count("refund", "success")
	return p, nil
}

// ReconcileStuck resolves payments that entered CONFIRMING more than
// olderThan ago and never reached a terminal state, typically because the
// gateway call hung or the process died mid-confirm. The gateway is queried
// for ground truth: an approved charge finalizes the payment as PAID, a
// gateway-side decline as FAILED. Transport errors leave the record for the
// next sweep. Returns the number of payments resolved.
func (s *Service) ReconcileStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.timeNow().Add(-olderThan)
	stuck, err := s.repo.ListStuckConfirming(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stuck payments: %w", err)
	}

	resolved := 0
	for _, p := range stuck {
		key := p.Metadata[MetadataAttemptKey]
		if key == "" {
			// No gateway handle was ever recorded; nothing to query.
			if err := s.markFailed(ctx, p, &gateway.Error{
				Code:    "reconcile_no_payment_key",
				Message: "confirm attempt left no payment key to query",
			}); err != nil {
				s.logger.ErrorContext(ctx, "failed to fail stuck payment",
					"payment_id", p.ID, "error", err)
				continue
			}
			resolved++
			continue
		}

		conf, lookupErr := s.gateway.Lookup(ctx, key)
		if lookupErr == nil {
			if err := s.markPaid(ctx, p, conf, p.OrderID); err != nil {
				s.logger.ErrorContext(ctx, "failed to finalize stuck payment",
					"payment_id", p.ID, "error", err)
				continue
			}
			resolved++
			continue
		}

		var ge *gateway.Error
		if errors.As(lookupErr, &ge) {
			if err := s.markFailed(ctx, p, ge); err != nil {
				s.logger.ErrorContext(ctx, "failed to fail stuck payment",
					"payment_id", p.ID, "error", err)
				continue
			}
			resolved++
			continue
		}

		// Transport failure reaching the gateway: keep the record for the
		// next sweep rather than guessing a terminal state.
		s.logger.WarnContext(ctx, "gateway unreachable during reconciliation",
			"payment_id", p.ID, "error", lookupErr)
	}
	return resolved, nil
}

// GetStatus returns the payment by ID without side effects.
func (s *Service) GetStatus(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newError(KindNotFound, paymentID)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// GetByTransactionID returns the payment with the given transaction ID.
func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	p, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newError(KindNotFound, "")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// GetByOrderID returns the most recent payment for the given order.
func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	p, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newError(KindNotFound, "")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// publish sends the event after the state change has been persisted. Publish
// failures are logged, not returned: the durable record is the source of
// truth and the reconciliation sweep covers missed events.
func (s *Service) publish(ctx context.Context, env *event.Envelope) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment event",
			"event_type", env.EventType,
			"payment_id", env.PaymentID,
			"error", err,
		)
		return
	}
	if s.metrics != nil {
		s.metrics.IncEventsPublished(string(env.EventType))
	}
}

func (s *Service) count(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.IncOperations(operation, outcome)
	}
}

func (s *Service) observeConfirm(started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveConfirmDuration(s.timeNow().Sub(started).Seconds())
	}
}

// resolveOrderID picks the event order reference: the caller's internal
// reference wins, then the stored order ID, then the gateway reference.
func resolveOrderID(internalOrderRef, storedOrderID, gatewayOrderRef string) string {
	if internalOrderRef != "" {
		return internalOrderRef
	}
	if storedOrderID != "" {
		return storedOrderID
	}
	return gatewayOrderRef
}

// failureReason extracts an operator-facing diagnostic from a gateway fault.
func failureReason(err error) string {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return ge.Code + ": " + ge.Message
	}
	return err.Error()
}

// failureCode extracts a machine-readable error code from a gateway fault.
func failureCode(err error) string {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return "gateway_unreachable"
}
