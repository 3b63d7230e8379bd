// Package export builds settlement files from settled payments and uploads
// them to S3-compatible object storage for the finance pipeline.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marketbase/paycore/internal/payment"
)

// Format defines supported settlement file formats.
type Format string

const (
	// FormatCSV exports settlements as comma-separated values.
	FormatCSV Format = "csv"
	// FormatJSON exports settlements as a JSON array.
	FormatJSON Format = "json"
)

// ErrInvalidRange is returned when the export range is empty or inverted.
var ErrInvalidRange = errors.New("export range must satisfy from < to")

// SettledLister is the slice of the payment repository the exporter needs.
type SettledLister interface {
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]*payment.Payment, error)
}

// row is one settlement line in the exported file.
type row struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id,omitempty"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	PaidAmount    int64  `json:"paid_amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method,omitempty"`
	PaidAt        string `json:"paid_at"`
	RefundedAt    string `json:"refunded_at,omitempty"`
}

// BuildSettlementFile renders settled payments in the requested format.
func BuildSettlementFile(payments []*payment.Payment, format Format) ([]byte, error) {
	rows := make([]row, 0, len(payments))
	for _, p := range payments {
		r := row{
			PaymentID:     p.ID,
			TransactionID: p.TransactionID,
			OrderID:       p.OrderID,
			Status:        string(p.Status),
			Amount:        p.Amount,
			Currency:      p.Currency,
		}
		if p.PaidAmount != nil {
			r.PaidAmount = *p.PaidAmount
		}
		if p.PaymentMethod != nil {
			r.PaymentMethod = *p.PaymentMethod
		}
		if p.PaidAt != nil {
			r.PaidAt = p.PaidAt.UTC().Format(time.RFC3339)
		}
		if p.RefundedAt != nil {
			r.RefundedAt = p.RefundedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, r)
	}

	switch format {
	case FormatCSV:
		return toCSV(rows)
	case FormatJSON:
		return json.MarshalIndent(rows, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// toCSV renders settlement rows as CSV with a header line.
func toCSV(rows []row) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"Payment ID",
		"Transaction ID",
		"Order ID",
		"Status",
		"Amount",
		"Paid Amount",
		"Currency",
		"Payment Method",
		"Paid At (UTC)",
		"Refunded At (UTC)",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.PaymentID,
			r.TransactionID,
			r.OrderID,
			r.Status,
			strconv.FormatInt(r.Amount, 10),
			strconv.FormatInt(r.PaidAmount, 10),
			r.Currency,
			r.PaymentMethod,
			r.PaidAt,
			r.RefundedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ObjectKey returns the storage key for a settlement file covering [from, to).
// Pattern: settlements/{YYYY-MM-DD}/settlements_{from}_{to}.{ext}
func ObjectKey(from, to time.Time, format Format) string {
	const stamp = "20060102T150405Z"
	return fmt.Sprintf("settlements/%s/settlements_%s_%s.%s",
		from.UTC().Format("2006-01-02"),
		from.UTC().Format(stamp),
		to.UTC().Format(stamp),
		format,
	)
}
