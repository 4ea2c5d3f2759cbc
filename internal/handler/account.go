package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/service"
	"github.com/go-chi/chi/v5"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	amounts    amountCodec
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, amounts amountCodec) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc, amounts: amounts}
}

// registerAccountRequest is the JSON request body for POST /accounts.
type registerAccountRequest struct {
	AccountID       string         `json:"account_id"`
	InitialCash     json.Number    `json:"initial_cash"`
	InitialHoldings []holdingInput `json:"initial_holdings"`
}

// holdingInput is a single holding in the registration request.
type holdingInput struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// accountResponse is the JSON response for POST /accounts (201 Created).
type accountResponse struct {
	AccountID   string            `json:"account_id"`
	CashBalance json.Number       `json:"cash_balance"`
	Holdings    []holdingResponse `json:"holdings"`
	CreatedAt   string            `json:"created_at"`
}

// holdingResponse is a single holding in the account response.
type holdingResponse struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// balanceResponse is the JSON response for GET /accounts/{account_id}/balance.
type balanceResponse struct {
	AccountID    string                   `json:"account_id"`
	CashBalance  json.Number              `json:"cash_balance"`
	ReservedCash json.Number              `json:"reserved_cash"`
	Holdings     []holdingBalanceResponse `json:"holdings"`
	UpdatedAt    string                   `json:"updated_at"`
}

// holdingBalanceResponse is a single holding in the balance response.
type holdingBalanceResponse struct {
	Symbol            string `json:"symbol"`
	Quantity          int64  `json:"quantity"`
	ReservedQuantity  int64  `json:"reserved_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// Register handles POST /accounts.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var cash int64
	if req.InitialCash != "" {
		var err error
		if cash, err = h.amounts.parse("initial_cash", req.InitialCash, domain.CodeInvalidRequest); err != nil {
			WriteServiceError(w, err)
			return
		}
	}
	holdings := make([]service.HoldingInput, len(req.InitialHoldings))
	for i, h := range req.InitialHoldings {
		holdings[i] = service.HoldingInput{
			Symbol:   h.Symbol,
			Quantity: h.Quantity,
		}
	}

	account, err := h.accountSvc.Register(r.Context(), service.RegisterAccountRequest{
		AccountID:       req.AccountID,
		InitialCash:     cash,
		InitialHoldings: holdings,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	respHoldings := make([]holdingResponse, 0, len(account.Holdings))
	for symbol, qty := range account.Holdings {
		respHoldings = append(respHoldings, holdingResponse{Symbol: symbol, Quantity: qty})
	}
	sort.Slice(respHoldings, func(i, j int) bool { return respHoldings[i].Symbol < respHoldings[j].Symbol })

	WriteJSON(w, http.StatusCreated, accountResponse{
		AccountID:   account.AccountID,
		CashBalance: h.amounts.format(account.CashBalance),
		Holdings:    respHoldings,
		CreatedAt:   formatTime(account.CreatedAt),
	})
}

// GetBalance handles GET /accounts/{account_id}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	balance, err := h.accountSvc.GetBalance(accountID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	holdings := make([]holdingBalanceResponse, len(balance.Holdings))
	for i, h := range balance.Holdings {
		holdings[i] = holdingBalanceResponse{
			Symbol:            h.Symbol,
			Quantity:          h.Quantity,
			ReservedQuantity:  h.ReservedQuantity,
			AvailableQuantity: h.AvailableQuantity,
		}
	}

	WriteJSON(w, http.StatusOK, balanceResponse{
		AccountID:    balance.AccountID,
		CashBalance:  h.amounts.format(balance.CashBalance),
		ReservedCash: h.amounts.format(balance.ReservedCash),
		Holdings:     holdings,
		UpdatedAt:    formatTime(balance.UpdatedAt),
	})
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var statusFilter *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		statusFilter = &status
	}

	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}

	orders, total, err := h.accountSvc.ListOrders(accountID, statusFilter, page, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	list := make([]orderResponse, len(orders))
	for i, o := range orders {
		list[i] = buildOrderResponse(o, h.amounts)
	}
	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: list,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// queryInt reads an integer query parameter, writing a 400 response when it
// is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		WriteError(w, http.StatusBadRequest, domain.CodeInvalidRequest, name+" must be a valid integer")
		return 0, false
	}
	return v, true
}
