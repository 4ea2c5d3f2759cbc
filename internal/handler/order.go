package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/service"
	"github.com/go-chi/chi/v5"
)

// AccountHeader carries the id of the account acting on an order.
const AccountHeader = "X-Account-Id"

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
	amounts  amountCodec
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService, amounts amountCodec) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc, amounts: amounts}
}

// placeOrderRequest is the JSON request body for POST /orders.
type placeOrderRequest struct {
	Symbol   string       `json:"symbol"`
	Side     string       `json:"side"`
	Type     string       `json:"type"`
	Price    *json.Number `json:"price"`
	Quantity int64        `json:"quantity"`
}

// modifyOrderRequest is the JSON request body for PATCH /orders/{order_id}.
type modifyOrderRequest struct {
	Price    *json.Number `json:"price"`
	Quantity *int64       `json:"quantity"`
}

// orderResponse is the JSON representation of an order. Price is null for
// auction order types.
type orderResponse struct {
	OrderID           int64        `json:"order_id"`
	AccountID         string       `json:"account_id"`
	Symbol            string       `json:"symbol"`
	Side              string       `json:"side"`
	Type              string       `json:"type"`
	Price             *json.Number `json:"price"`
	Quantity          int64        `json:"quantity"`
	FilledQuantity    int64        `json:"filled_quantity"`
	RemainingQuantity int64        `json:"remaining_quantity"`
	Status            string       `json:"status"`
	PlacedAt          string       `json:"placed_at"`
	UpdatedAt         string       `json:"updated_at"`
	CancelledAt       *string      `json:"cancelled_at"`
}

// PlaceOrder handles POST /orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	price, err := h.amounts.parseOptional("price", req.Price, domain.CodeInvalidPrice)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	svcReq := service.PlaceOrderRequest{
		AccountID: accountID,
		Symbol:    req.Symbol,
		Side:      domain.OrderSide(req.Side),
		Type:      domain.OrderType(req.Type),
		Quantity:  req.Quantity,
	}
	if price != nil {
		svcReq.Price = *price
	}
	order, err := h.orderSvc.PlaceOrder(r.Context(), svcReq)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order, h.amounts))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	accountID, orderID, ok := orderTarget(w, r)
	if !ok {
		return
	}

	order, err := h.orderSvc.GetOrder(accountID, orderID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order, h.amounts))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID, orderID, ok := orderTarget(w, r)
	if !ok {
		return
	}

	order, err := h.orderSvc.CancelOrder(r.Context(), accountID, orderID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order, h.amounts))
}

// ModifyOrder handles PATCH /orders/{order_id}.
func (h *OrderHandler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	accountID, orderID, ok := orderTarget(w, r)
	if !ok {
		return
	}
	var req modifyOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	price, err := h.amounts.parseOptional("price", req.Price, domain.CodeInvalidPrice)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	order, err := h.orderSvc.ModifyOrder(r.Context(), service.ModifyOrderRequest{
		AccountID: accountID,
		OrderID:   orderID,
		Price:     price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order, h.amounts))
}

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(AccountHeader)
	if id == "" {
		WriteError(w, http.StatusBadRequest, domain.CodeInvalidRequest, AccountHeader+" header is required")
		return "", false
	}
	return id, true
}

func orderTarget(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return "", 0, false
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		WriteError(w, http.StatusNotFound, domain.ErrOrderNotFound.Error(), "Order not found")
		return "", 0, false
	}
	return accountID, orderID, true
}

func buildOrderResponse(o *domain.Order, amounts amountCodec) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		AccountID:         o.AccountID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Type:              string(o.Type),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		Status:            string(o.Status),
		PlacedAt:          formatTime(o.PlacedAt),
		UpdatedAt:         formatTime(o.UpdatedAt),
		CancelledAt:       formatTimePtr(o.CancelledAt),
	}
	if o.Type == domain.OrderTypeLimit {
		p := amounts.format(o.Price)
		resp.Price = &p
	}
	return resp
}
