package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// The conditional status transition is expressed directly in SQL
// (UPDATE ... WHERE id = $n AND status = $m) so the compare-and-swap happens
// inside the database, not in application code.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const paymentColumns = `id, status, amount, currency, transaction_id, order_id, source_service,
	metadata, payment_key, paid_amount, payment_method, paid_at,
	failure_reason, failed_at, cancelled_at, refunded_at, created_at, updated_at`

// Create inserts a new payment record.
func (r *PostgresRepository) Create(ctx context.Context, p *Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payments (id, status, amount, currency, transaction_id, order_id,
			source_service, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.Status, p.Amount, p.Currency, p.TransactionID, nullString(p.OrderID),
		nullString(p.SourceService), metadata, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment record by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

// GetByTransactionID retrieves a payment record by its transaction ID.
func (r *PostgresRepository) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = $1
	`, transactionID)
	return scanPayment(row)
}

// GetByOrderID retrieves the most recent payment record for an order.
func (r *PostgresRepository) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID)
	return scanPayment(row)
}

// Update persists the mutable lifecycle fields of an existing record.
// Status and amount are deliberately excluded: status moves only through
// TransitionStatus and amount never changes after creation.
func (r *PostgresRepository) Update(ctx context.Context, p *Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET metadata = $2,
			payment_key = $3,
			paid_amount = $4,
			payment_method = $5,
			paid_at = $6,
			failure_reason = $7,
			failed_at = $8,
			cancelled_at = $9,
			refunded_at = $10,
			updated_at = NOW()
		WHERE id = $1
	`, p.ID, metadata, p.PaymentKey, p.PaidAmount, p.PaymentMethod, p.PaidAt,
		p.FailureReason, p.FailedAt, p.CancelledAt, p.RefundedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// TransitionStatus performs the atomic conditional status change. The WHERE
// clause carries the expected current status, so under concurrent confirms
// exactly one UPDATE reports an affected row.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition payment status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing record.
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("check payment exists: %w", err)
		}
		if !exists {
			return false, ErrRecordNotFound
		}
		return false, nil
	}
	return true, nil
}

// ListStuckConfirming returns CONFIRMING payments last updated before cutoff.
func (r *PostgresRepository) ListStuckConfirming(ctx context.Context, cutoff time.Time) ([]*Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`, StatusConfirming, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck confirming: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close rows", "error", err)
		}
	}()

	var stuck []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		stuck = append(stuck, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck confirming: %w", err)
	}
	return stuck, nil
}

// ListSettledBetween returns settled payments with paid_at in [from, to).
func (r *PostgresRepository) ListSettledBetween(ctx context.Context, from, to time.Time) ([]*Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status IN ($1, $2) AND paid_at >= $3 AND paid_at < $4
		ORDER BY paid_at
	`, StatusPaid, StatusRefunded, from, to)
	if err != nil {
		return nil, fmt.Errorf("list settled: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close rows", "error", err)
		}
	}()

	var settled []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		settled = append(settled, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settled: %w", err)
	}
	return settled, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanPayment.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	var (
		p          Payment
		orderID    sql.NullString
		sourceSvc  sql.NullString
		metadata   []byte
		paymentKey sql.NullString
		paidAmount sql.NullInt64
		method     sql.NullString
		paidAt     sql.NullTime
		failReason sql.NullString
		failedAt   sql.NullTime
		cancelled  sql.NullTime
		refunded   sql.NullTime
	)

	err := row.Scan(&p.ID, &p.Status, &p.Amount, &p.Currency, &p.TransactionID,
		&orderID, &sourceSvc, &metadata, &paymentKey, &paidAmount, &method, &paidAt,
		&failReason, &failedAt, &cancelled, &refunded, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	if orderID.Valid {
		p.OrderID = orderID.String
	}
	if sourceSvc.Valid {
		p.SourceService = sourceSvc.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if paymentKey.Valid {
		p.PaymentKey = &paymentKey.String
	}
	if paidAmount.Valid {
		p.PaidAmount = &paidAmount.Int64
	}
	if method.Valid {
		p.PaymentMethod = &method.String
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	if failReason.Valid {
		p.FailureReason = &failReason.String
	}
	if failedAt.Valid {
		t := failedAt.Time
		p.FailedAt = &t
	}
	if cancelled.Valid {
		t := cancelled.Time
		p.CancelledAt = &t
	}
	if refunded.Valid {
		t := refunded.Time
		p.RefundedAt = &t
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
