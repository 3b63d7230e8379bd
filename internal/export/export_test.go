package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/marketbase/paycore/internal/payment"
)

func settledPayment(id string, status payment.Status) *payment.Payment {
	amount := int64(50000)
	method := "card"
	paidAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &payment.Payment{
		ID:            id,
		TransactionID: "txn_" + id,
		OrderID:       "ord_" + id,
		Status:        status,
		Amount:        50000,
		Currency:      "KRW",
		PaidAmount:    &amount,
		PaymentMethod: &method,
		PaidAt:        &paidAt,
	}
}

func TestBuildSettlementFile_CSV(t *testing.T) {
	refundedAt := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	refunded := settledPayment("2", payment.StatusRefunded)
	refunded.RefundedAt = &refundedAt

	data, err := BuildSettlementFile([]*payment.Payment{
		settledPayment("1", payment.StatusPaid),
		refunded,
	}, FormatCSV)
	if err != nil {
		t.Fatalf("BuildSettlementFile failed: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d CSV lines, want header plus 2 rows", len(records))
	}
	if records[0][0] != "Payment ID" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][0] != "1" || records[1][3] != "PAID" || records[1][4] != "50000" {
		t.Errorf("paid row = %v", records[1])
	}
	if records[2][3] != "REFUNDED" || records[2][9] != "2026-08-02T09:00:00Z" {
		t.Errorf("refunded row = %v", records[2])
	}
}

func TestBuildSettlementFile_JSON(t *testing.T) {
	data, err := BuildSettlementFile([]*payment.Payment{settledPayment("1", payment.StatusPaid)}, FormatJSON)
	if err != nil {
		t.Fatalf("BuildSettlementFile failed: %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["payment_id"] != "1" || rows[0]["status"] != "PAID" {
		t.Errorf("row = %v", rows[0])
	}
	if rows[0]["paid_at"] != "2026-08-01T12:00:00Z" {
		t.Errorf("paid_at = %v", rows[0]["paid_at"])
	}
}

func TestBuildSettlementFile_EmptyInput(t *testing.T) {
	data, err := BuildSettlementFile(nil, FormatCSV)
	if err != nil {
		t.Fatalf("BuildSettlementFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Errorf("empty export must still carry the header, got %d lines", len(lines))
	}

	data, err = BuildSettlementFile(nil, FormatJSON)
	if err != nil {
		t.Fatalf("BuildSettlementFile failed: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty JSON export = %q, want []", data)
	}
}

func TestBuildSettlementFile_UnsupportedFormat(t *testing.T) {
	if _, err := BuildSettlementFile(nil, Format("xml")); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}

func TestBuildSettlementFile_NilOptionalFields(t *testing.T) {
	p := settledPayment("1", payment.StatusPaid)
	p.PaidAmount = nil
	p.PaymentMethod = nil
	p.PaidAt = nil

	data, err := BuildSettlementFile([]*payment.Payment{p}, FormatCSV)
	if err != nil {
		t.Fatalf("BuildSettlementFile failed: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if records[1][5] != "0" || records[1][7] != "" || records[1][8] != "" {
		t.Errorf("row with nil fields = %v", records[1])
	}
}

func TestObjectKey(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	got := ObjectKey(from, to, FormatCSV)
	want := "settlements/2026-08-01/settlements_20260801T000000Z_20260802T000000Z.csv"
	if got != want {
		t.Errorf("ObjectKey = %q, want %q", got, want)
	}

	if key := ObjectKey(from, to, FormatJSON); !strings.HasSuffix(key, ".json") {
		t.Errorf("JSON key = %q, want .json suffix", key)
	}
}

func TestObjectKey_NonUTCInput(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	from := time.Date(2026, 8, 1, 9, 0, 0, 0, kst) // 00:00 UTC
	to := from.Add(24 * time.Hour)

	got := ObjectKey(from, to, FormatCSV)
	if !strings.HasPrefix(got, "settlements/2026-08-01/") {
		t.Errorf("ObjectKey = %q, want UTC date partition", got)
	}
}
