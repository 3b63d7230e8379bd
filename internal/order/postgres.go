package order

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new Postgres-backed order repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

const orderColumns = `id, product_id, quantity, status, payment_state,
	payment_method, paid_at, failure_reason, created_at, updated_at`

// Create inserts a new order.
func (r *PostgresRepository) Create(ctx context.Context, o *Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, product_id, quantity, status, payment_state,
			payment_method, paid_at, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.ProductID, o.Quantity, o.Status, o.PaymentState,
		nullString(o.PaymentMethod), o.PaidAt, nullString(o.FailureReason),
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)

	var (
		o          Order
		method     sql.NullString
		paidAt     sql.NullTime
		failReason sql.NullString
	)
	err := row.Scan(&o.ID, &o.ProductID, &o.Quantity, &o.Status, &o.PaymentState,
		&method, &paidAt, &failReason, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if method.Valid {
		o.PaymentMethod = method.String
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	if failReason.Valid {
		o.FailureReason = failReason.String
	}
	return &o, nil
}

// Update replaces an existing order.
func (r *PostgresRepository) Update(ctx context.Context, o *Order) error {
	o.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET product_id = $2, quantity = $3, status = $4, payment_state = $5,
			payment_method = $6, paid_at = $7, failure_reason = $8, updated_at = $9
		WHERE id = $1
	`, o.ID, o.ProductID, o.Quantity, o.Status, o.PaymentState,
		nullString(o.PaymentMethod), o.PaidAt, nullString(o.FailureReason), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// nullString converts an empty string to a NULL-able value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
