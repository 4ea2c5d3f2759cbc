package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteJSON(w, http.StatusCreated, sessionResponse{Mode: "manual", Phase: "pre_open"})

		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if w.Code != http.StatusCreated {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
		}

		var result sessionResponse
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result.Phase != "pre_open" {
			t.Errorf("phase = %q, want %q", result.Phase, "pre_open")
		}
	})

	t.Run("amounts stay exact decimals and auction prices are null", func(t *testing.T) {
		amounts := newAmountCodec(2)
		placed := time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC)
		o := &domain.Order{
			OrderID:           7,
			AccountID:         "acc-1",
			Symbol:            "VNM",
			Side:              domain.OrderSideBuy,
			Type:              domain.OrderTypeATO,
			Quantity:          100,
			RemainingQuantity: 100,
			Status:            domain.OrderStatusPending,
			PlacedAt:          placed,
			UpdatedAt:         placed,
		}
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, map[string]any{
			"balance": amounts.format(1234505),
			"order":   buildOrderResponse(o, amounts),
		})

		body := w.Body.String()
		if !strings.Contains(body, `"balance":12345.05`) {
			t.Errorf("body = %s, want balance 12345.05 as a JSON number", body)
		}
		if !strings.Contains(body, `"price":null`) {
			t.Errorf("body = %s, want a null price for an auction order", body)
		}
		if !strings.Contains(body, `"placed_at":"2026-10-19T09:05:00Z"`) {
			t.Errorf("body = %s, want RFC 3339 placed_at", body)
		}
	})
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		status  int
		code    string
		message string
	}{
		{http.StatusBadRequest, "invalid_request", "missing required field"},
		{http.StatusNotFound, "order_not_found", "Order not found"},
		{http.StatusConflict, "insufficient_funds", "Insufficient available cash"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteError(w, tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Errorf("status code = %d, want %d", w.Code, tt.status)
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want %q", got, "application/json")
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.Error != tt.code || resp.Message != tt.message {
				t.Errorf("body = %+v, want %q / %q", resp, tt.code, tt.message)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type modify struct {
		Price    *json.Number `json:"price"`
		Quantity *int64       `json:"quantity"`
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{"valid", "application/json", `{"price":10100,"quantity":20}`, false},
		{"charset suffix", "application/json; charset=utf-8", `{"quantity":20}`, false},
		{"missing content type", "", `{"quantity":20}`, true},
		{"wrong content type", "text/plain", `{"quantity":20}`, true},
		{"malformed", "application/json", `{quantity}`, true},
		{"unknown field", "application/json", `{"quantity":20,"tif":"day"}`, true},
		{"empty body", "application/json", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPatch, "/orders/1", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			var req modify
			err := ParseJSON(r, &req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), "Content-Type") {
					t.Errorf("error = %q, should mention Content-Type", err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Quantity == nil || *req.Quantity != 20 {
				t.Errorf("quantity = %v, want 20", req.Quantity)
			}
		})
	}
}

func TestAmountCodec(t *testing.T) {
	tests := []struct {
		name     string
		decimals int32
		in       string
		want     int64
		wantErr  bool
	}{
		{"whole units", 0, "10000", 10000, false},
		{"fraction rejected without decimals", 0, "100.5", 0, true},
		{"two decimals", 2, "12.35", 1235, false},
		{"trailing zeros", 2, "12.50", 1250, false},
		{"too precise", 2, "12.345", 0, true},
		{"exponent form", 0, "1e4", 10000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newAmountCodec(tt.decimals)
			got, err := c.parse("price", json.Number(tt.in), domain.CodeInvalidPrice)
			if tt.wantErr {
				var v *domain.ValidationError
				if !errors.As(err, &v) || v.Code != domain.CodeInvalidPrice {
					t.Fatalf("err = %v, want %s validation error", err, domain.CodeInvalidPrice)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parse(%q) = %d, want %d", tt.in, got, tt.want)
			}
			if back := c.format(got); back.String() != domain.FormatAmount(tt.want, tt.decimals) {
				t.Errorf("format(%d) = %s", got, back)
			}
		})
	}

	t.Run("optional absent", func(t *testing.T) {
		got, err := newAmountCodec(0).parseOptional("price", nil, domain.CodeInvalidPrice)
		if err != nil || got != nil {
			t.Errorf("parseOptional(nil) = %v, %v; want nil, nil", got, err)
		}
	})
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.NewValidationError(domain.CodePriceOutOfBand, "out of band"), http.StatusBadRequest, domain.CodePriceOutOfBand},
		{"not found", domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"wrapped not found", fmt.Errorf("lookup: %w", domain.ErrAccountNotFound), http.StatusNotFound, "account_not_found"},
		{"forbidden", domain.ErrOrderNotOwned, http.StatusForbidden, "order_not_owned"},
		{"conflict", domain.ErrOrderNotCancellable, http.StatusConflict, "order_not_cancellable"},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds"},
		{"insufficient holdings", domain.ErrInsufficientHoldings, http.StatusConflict, "insufficient_holdings"},
		{"transient", fmt.Errorf("commit: %w", domain.ErrTransientStore), http.StatusServiceUnavailable, "transient_store_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteServiceError(w, tt.err)

			if w.Code != tt.status {
				t.Errorf("status code = %d, want %d", w.Code, tt.status)
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.Error != tt.code {
				t.Errorf("error = %q, want %q", resp.Error, tt.code)
			}
			if resp.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}
