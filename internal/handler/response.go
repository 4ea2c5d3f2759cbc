package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:           http.StatusBadRequest,
	domain.KindNotFound:             http.StatusNotFound,
	domain.KindForbidden:            http.StatusForbidden,
	domain.KindConflict:             http.StatusConflict,
	domain.KindInsufficientFunds:    http.StatusConflict,
	domain.KindInsufficientHoldings: http.StatusConflict,
	domain.KindTransient:            http.StatusServiceUnavailable,
}

var errorMessages = map[error]string{
	domain.ErrAccountAlreadyExists:    "An account with this id already exists",
	domain.ErrAccountNotFound:         "Account not found",
	domain.ErrInstrumentAlreadyExists: "An instrument with this symbol already exists",
	domain.ErrInstrumentNotFound:      "Instrument not found",
	domain.ErrBandNotFound:            "No price band for the trading day",
	domain.ErrOrderNotFound:           "Order not found",
	domain.ErrOrderNotOwned:           "Order belongs to another account",
	domain.ErrOrderNotCancellable:     "Order is not open and cannot be cancelled",
	domain.ErrOrderNotModifiable:      "Order cannot be modified",
	domain.ErrInsufficientFunds:       "Insufficient available cash",
	domain.ErrInsufficientHoldings:    "Insufficient available shares",
	domain.ErrTransientStore:          "The ledger is temporarily unavailable, retry the request",
}

// WriteServiceError maps a service error to its HTTP status and error body.
func WriteServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, validationErr.Code, validationErr.Message)
		return
	}

	status, ok := kindStatus[domain.KindOf(err)]
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}
	for sentinel, msg := range errorMessages {
		if errors.Is(err, sentinel) {
			WriteError(w, status, sentinel.Error(), msg)
			return
		}
	}
	WriteError(w, status, string(domain.KindOf(err)), err.Error())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
