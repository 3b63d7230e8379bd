// Package api provides HTTP API utilities including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketbase/paycore/internal/gateway"
	"github.com/marketbase/paycore/internal/middleware"
	"github.com/marketbase/paycore/internal/payment"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeGateway indicates the payment gateway rejected the request.
	ErrCodeGateway = "gateway_error"

	// ErrCodeGatewayUnreachable indicates the payment gateway could not be reached.
	ErrCodeGatewayUnreachable = "gateway_unreachable"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
// It writes the appropriate HTTP status code and returns a JSON error body.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error_code will be automatically logged by the logging middleware
// for all 4xx and 5xx responses if you call SetErrorCode on the context
// and pass the updated context to WriteError.
//
// Example:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Payment not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	// Update the context in the response writer if supported (for logging middleware)
	middleware.UpdateResponseContext(w, ctx)

	// Create error response
	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	// Marshal to JSON
	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	// Write response
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// WritePaymentError maps a payment service error to an HTTP error response.
// Tagged lifecycle errors keep their kind as the wire error code; gateway
// rejections surface as gateway_error with the gateway's message.
func WritePaymentError(w http.ResponseWriter, ctx context.Context, err error) {
	var payErr *payment.Error
	if errors.As(err, &payErr) {
		code := string(payErr.Kind)
		status := paymentErrorStatus(payErr.Kind)
		ctx = middleware.SetErrorCode(ctx, code)
		WriteError(w, ctx, status, code, payErr.Error())
		return
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeGateway)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeGateway, gwErr.Message)
		return
	}

	if errors.Is(err, payment.ErrRecordNotFound) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Payment not found")
		return
	}

	slog.ErrorContext(ctx, "unhandled payment error", "error", err)
	ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}

// paymentErrorStatus returns the HTTP status for a payment error kind.
func paymentErrorStatus(kind payment.ErrorKind) int {
	switch kind {
	case payment.KindNotFound:
		return http.StatusNotFound
	case payment.KindAlreadyProcessing:
		return http.StatusConflict
	case payment.KindInvalidTransition:
		return http.StatusConflict
	case payment.KindAmountMissing, payment.KindKeyMissing:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
// This is a convenience function to map error codes to HTTP status codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeGateway, ErrCodeGatewayUnreachable:
		return http.StatusBadGateway
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
