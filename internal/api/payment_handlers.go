// Package api provides HTTP handlers for the payment lifecycle endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marketbase/paycore/internal/middleware"
	"github.com/marketbase/paycore/internal/payment"
)

// PaymentHandlers holds dependencies for payment endpoints.
type PaymentHandlers struct {
	service *payment.Service
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(service *payment.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// confirmRequest is the body for POST /payments/{id}/confirm.
// There is deliberately no amount field; the charge amount is read from the
// stored record on the server side.
type confirmRequest struct {
	PaymentKey       string `json:"payment_key"`
	OrderRef         string `json:"order_ref"`
	InternalOrderRef string `json:"internal_order_ref,omitempty"`
}

// reasonRequest is the optional body for cancel and refund.
type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandlePayments dispatches requests on the /payments collection.
// POST /payments prepares a new payment.
func (h *PaymentHandlers) HandlePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req payment.PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	if req.OrderID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "order_id is required")
		return
	}

	p, err := h.service.Prepare(ctx, req)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusCreated, p)
}

// HandlePaymentByID dispatches requests under /payments/.
//
//	GET  /payments/{id}
//	GET  /payments/by-transaction/{txn}
//	GET  /payments/by-order/{orderID}
//	POST /payments/{id}/confirm
//	POST /payments/{id}/cancel
//	POST /payments/{id}/refund
func (h *PaymentHandlers) HandlePaymentByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/payments/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	switch {
	case len(pathParts) == 2 && pathParts[0] == "by-transaction":
		h.getByTransaction(w, r, pathParts[1])
	case len(pathParts) == 2 && pathParts[0] == "by-order":
		h.getByOrder(w, r, pathParts[1])
	case len(pathParts) == 1:
		h.getByID(w, r, pathParts[0])
	case len(pathParts) == 2 && pathParts[1] == "confirm":
		h.confirm(w, r, pathParts[0])
	case len(pathParts) == 2 && pathParts[1] == "cancel":
		h.cancel(w, r, pathParts[0])
	case len(pathParts) == 2 && pathParts[1] == "refund":
		h.refund(w, r, pathParts[0])
	default:
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

func (h *PaymentHandlers) getByID(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	p, err := h.service.GetStatus(ctx, id)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, p)
}

func (h *PaymentHandlers) getByTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	p, err := h.service.GetByTransactionID(ctx, transactionID)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, p)
}

func (h *PaymentHandlers) getByOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	p, err := h.service.GetByOrderID(ctx, orderID)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, p)
}

func (h *PaymentHandlers) confirm(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	if req.PaymentKey == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "payment_key is required")
		return
	}
	if req.OrderRef == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "order_ref is required")
		return
	}

	p, err := h.service.Confirm(ctx, id, req.PaymentKey, req.OrderRef, req.InternalOrderRef)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, p)
}

func (h *PaymentHandlers) cancel(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	req := decodeReason(r)
	p, err := h.service.Cancel(ctx, id, req.Reason)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, p)
}

func (h *PaymentHandlers) refund(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	req := decodeReason(r)
	p, err := h.service.Refund(ctx, id, req.Reason)
	if err != nil {
		WritePaymentError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, p)
}

// decodeReason reads an optional {"reason": "..."} body. An empty or
// malformed body yields an empty reason rather than an error.
func decodeReason(r *http.Request) reasonRequest {
	var req reasonRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
