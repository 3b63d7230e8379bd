package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marketbase/paycore/internal/event"
	"github.com/marketbase/paycore/internal/gateway"
	"github.com/marketbase/paycore/internal/payment"
)

func newTestHandlers(t *testing.T) (*PaymentHandlers, *payment.Service, *gateway.FakeGateway) {
	t.Helper()
	repo := payment.NewInMemoryRepository()
	gw := gateway.NewFakeGateway()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus(logger)
	svc := payment.NewService(repo, gw, bus, nil, logger)
	return NewPaymentHandlers(svc), svc, gw
}

func preparePaymentViaAPI(t *testing.T, h *PaymentHandlers, amount int64) payment.Payment {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"order_id":   "ord_1",
		"order_name": "Standard plan",
		"amount":     amount,
	})
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandlePayments(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("prepare status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var p payment.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("invalid prepare response: %v", err)
	}
	return p
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandlePayments_Prepare(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	p := preparePaymentViaAPI(t, h, 50000)
	if p.Status != payment.StatusCreated {
		t.Errorf("Status = %s, want %s", p.Status, payment.StatusCreated)
	}
	if p.ID == "" || p.TransactionID == "" {
		t.Error("response must carry generated identifiers")
	}
}

func TestHandlePayments_Validation(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", "{not json", ErrCodeBadRequest},
		{"missing order id", `{"amount": 1000}`, ErrCodeValidation},
		{"missing amount", `{"order_id": "ord_1"}`, string(payment.KindAmountMissing)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.HandlePayments(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			resp := decodeErrorResponse(t, rec)
			if resp.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestHandlePayments_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/payments", nil)
	rec := httptest.NewRecorder()
	h.HandlePayments(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandlePaymentByID_Confirm(t *testing.T) {
	h, _, gw := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	// The confirm body carries no amount; it cannot override the stored one.
	body := `{"payment_key": "pk_1", "order_ref": "ord_gw_1", "amount": 1}`
	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/confirm", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var confirmed payment.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &confirmed); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if confirmed.Status != payment.StatusPaid {
		t.Errorf("Status = %s, want %s", confirmed.Status, payment.StatusPaid)
	}

	calls := gw.ConfirmCalls()
	if len(calls) != 1 {
		t.Fatalf("gateway Confirm called %d times, want 1", len(calls))
	}
	if calls[0].Amount != 50000 {
		t.Errorf("gateway amount = %d, want stored 50000", calls[0].Amount)
	}
}

func TestHandlePaymentByID_ConfirmValidation(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	tests := []struct {
		name string
		body string
	}{
		{"missing payment key", `{"order_ref": "ord_1"}`},
		{"missing order ref", `{"payment_key": "pk_1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/confirm", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.HandlePaymentByID(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp := decodeErrorResponse(t, rec); resp.Error.Code != ErrCodeValidation {
				t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeValidation)
			}
		})
	}
}

func TestHandlePaymentByID_ConfirmConflict(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	confirm := func() *httptest.ResponseRecorder {
		body := `{"payment_key": "pk_1", "order_ref": "ord_1"}`
		req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/confirm", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.HandlePaymentByID(rec, req)
		return rec
	}

	if rec := confirm(); rec.Code != http.StatusOK {
		t.Fatalf("first confirm status = %d", rec.Code)
	}

	rec := confirm()
	if rec.Code != http.StatusConflict {
		t.Errorf("second confirm status = %d, want 409", rec.Code)
	}
	if resp := decodeErrorResponse(t, rec); resp.Error.Code != string(payment.KindAlreadyProcessing) {
		t.Errorf("error code = %q, want %q", resp.Error.Code, payment.KindAlreadyProcessing)
	}
}

func TestHandlePaymentByID_ConfirmGatewayDecline(t *testing.T) {
	h, _, gw := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	gw.ConfirmErr = &gateway.Error{Code: "card_declined", Message: "insufficient funds"}

	body := `{"payment_key": "pk_1", "order_ref": "ord_1"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/confirm", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error.Code != ErrCodeGateway {
		t.Errorf("error code = %q, want %q", resp.Error.Code, ErrCodeGateway)
	}
	if resp.Error.Message != "insufficient funds" {
		t.Errorf("error message = %q, want the gateway message", resp.Error.Message)
	}
}

func TestHandlePaymentByID_GetByID(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	req := httptest.NewRequest(http.MethodGet, "/payments/"+p.ID, nil)
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got payment.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("ID = %q, want %q", got.ID, p.ID)
	}
}

func TestHandlePaymentByID_GetNotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/payments/missing", nil)
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp := decodeErrorResponse(t, rec); resp.Error.Code != string(payment.KindNotFound) {
		t.Errorf("error code = %q, want %q", resp.Error.Code, payment.KindNotFound)
	}
}

func TestHandlePaymentByID_GetByTransactionAndOrder(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	for _, path := range []string{
		"/payments/by-transaction/" + p.TransactionID,
		"/payments/by-order/ord_1",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.HandlePaymentByID(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
			continue
		}
		var got payment.Payment
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("invalid response: %v", err)
		}
		if got.ID != p.ID {
			t.Errorf("GET %s ID = %q, want %q", path, got.ID, p.ID)
		}
	}
}

func TestHandlePaymentByID_Cancel(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/cancel", strings.NewReader(`{"reason": "changed my mind"}`))
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got payment.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Status != payment.StatusCancelled {
		t.Errorf("Status = %s, want %s", got.Status, payment.StatusCancelled)
	}
}

func TestHandlePaymentByID_CancelWithoutBody(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with empty reason", rec.Code)
	}
}

func TestHandlePaymentByID_RefundFlow(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	p := preparePaymentViaAPI(t, h, 50000)

	// Refund before payment: conflict.
	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/refund", strings.NewReader(`{"reason": "too early"}`))
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("premature refund status = %d, want 409", rec.Code)
	}

	body := `{"payment_key": "pk_1", "order_ref": "ord_1"}`
	req = httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/confirm", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/payments/"+p.ID+"/refund", strings.NewReader(`{"reason": "defective goods"}`))
	rec = httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refund status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got payment.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Status != payment.StatusRefunded {
		t.Errorf("Status = %s, want %s", got.Status, payment.StatusRefunded)
	}
}

func TestHandlePaymentByID_UnknownSubpath(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/pay_1/capture", nil)
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePaymentByID_EmptyPath(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
	rec := httptest.NewRecorder()
	h.HandlePaymentByID(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
