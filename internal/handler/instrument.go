package handler

import (
	"encoding/json"
	"net/http"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/service"
	"github.com/efreitasn/bourse/internal/store"
	"github.com/go-chi/chi/v5"
)

// InstrumentHandler handles HTTP requests for instrument endpoints.
type InstrumentHandler struct {
	instrumentSvc *service.InstrumentService
	amounts       amountCodec
}

// NewInstrumentHandler creates a new InstrumentHandler.
func NewInstrumentHandler(instrumentSvc *service.InstrumentService, amounts amountCodec) *InstrumentHandler {
	return &InstrumentHandler{instrumentSvc: instrumentSvc, amounts: amounts}
}

type registerInstrumentRequest struct {
	Symbol         string      `json:"symbol"`
	TotalShares    int64       `json:"total_shares"`
	ReferencePrice json.Number `json:"reference_price"`
	Status         string      `json:"status"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type setBandRequest struct {
	ReferencePrice json.Number `json:"reference_price"`
}

type instrumentResponse struct {
	Symbol      string `json:"symbol"`
	TotalShares int64  `json:"total_shares"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// bandResponse is the day's price limits plus its open/high/low/close,
// which are null until the first trade.
type bandResponse struct {
	Symbol    string       `json:"symbol"`
	Date      string       `json:"date"`
	Reference json.Number  `json:"reference_price"`
	Ceiling   json.Number  `json:"ceiling_price"`
	Floor     json.Number  `json:"floor_price"`
	Open      *json.Number `json:"open_price"`
	High      *json.Number `json:"high_price"`
	Low       *json.Number `json:"low_price"`
	Close     *json.Number `json:"close_price"`
}

type bookPriceLevel struct {
	Price         json.Number `json:"price"`
	TotalQuantity int64       `json:"total_quantity"`
	OrderCount    int         `json:"order_count"`
}

type bookResponse struct {
	Symbol     string           `json:"symbol"`
	Band       *bandResponse    `json:"band"`
	Bids       []bookPriceLevel `json:"bids"`
	Asks       []bookPriceLevel `json:"asks"`
	Spread     *json.Number     `json:"spread"`
	SnapshotAt string           `json:"snapshot_at"`
}

type tradeResponse struct {
	TradeID     int64       `json:"trade_id"`
	Symbol      string      `json:"symbol"`
	BuyOrderID  int64       `json:"buy_order_id"`
	SellOrderID int64       `json:"sell_order_id"`
	Price       json.Number `json:"price"`
	Quantity    int64       `json:"quantity"`
	Phase       string      `json:"phase"`
	ExecutedAt  string      `json:"executed_at"`
}

// Register handles POST /instruments.
func (h *InstrumentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerInstrumentRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reference, err := h.amounts.parse("reference_price", req.ReferencePrice, domain.CodeInvalidPrice)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	inst, err := h.instrumentSvc.Register(r.Context(), service.RegisterInstrumentRequest{
		Symbol:      req.Symbol,
		TotalShares: req.TotalShares,
		Reference:   reference,
		Status:      domain.InstrumentStatus(req.Status),
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildInstrumentResponse(inst))
}

// List handles GET /instruments.
func (h *InstrumentHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter *domain.InstrumentStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.InstrumentStatus(s)
		filter = &status
	}
	list, err := h.instrumentSvc.List(filter)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	resp := make([]instrumentResponse, len(list))
	for i, inst := range list {
		resp[i] = buildInstrumentResponse(inst)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /instruments/{symbol}.
func (h *InstrumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	inst, err := h.instrumentSvc.Get(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildInstrumentResponse(inst))
}

// SetStatus handles PUT /instruments/{symbol}/status.
func (h *InstrumentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	inst, err := h.instrumentSvc.SetStatus(r.Context(), chi.URLParam(r, "symbol"), domain.InstrumentStatus(req.Status))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildInstrumentResponse(inst))
}

// GetBand handles GET /instruments/{symbol}/band.
func (h *InstrumentHandler) GetBand(w http.ResponseWriter, r *http.Request) {
	band, err := h.instrumentSvc.Band(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.buildBandResponse(band))
}

// SetBand handles PUT /instruments/{symbol}/band.
func (h *InstrumentHandler) SetBand(w http.ResponseWriter, r *http.Request) {
	var req setBandRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reference, err := h.amounts.parse("reference_price", req.ReferencePrice, domain.CodeInvalidPrice)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	band, err := h.instrumentSvc.SetBand(r.Context(), chi.URLParam(r, "symbol"), reference)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.buildBandResponse(band))
}

// GetBook handles GET /instruments/{symbol}/book.
func (h *InstrumentHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(w, r, "depth", 10)
	if !ok {
		return
	}
	book, err := h.instrumentSvc.Book(chi.URLParam(r, "symbol"), depth)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := bookResponse{
		Symbol:     book.Symbol,
		Bids:       h.buildLevels(book.Bids),
		Asks:       h.buildLevels(book.Asks),
		SnapshotAt: formatTime(book.SnapshotAt),
	}
	if book.Band != nil {
		band := h.buildBandResponse(book.Band)
		resp.Band = &band
	}
	if book.Spread != nil {
		s := h.amounts.format(*book.Spread)
		resp.Spread = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ListTrades handles GET /instruments/{symbol}/trades.
func (h *InstrumentHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.instrumentSvc.Trades(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	resp := make([]tradeResponse, len(trades))
	for i, t := range trades {
		resp[i] = buildTradeResponse(t, h.amounts)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func buildInstrumentResponse(inst *domain.Instrument) instrumentResponse {
	return instrumentResponse{
		Symbol:      inst.Symbol,
		TotalShares: inst.TotalShares,
		Status:      string(inst.Status),
		CreatedAt:   formatTime(inst.CreatedAt),
		UpdatedAt:   formatTime(inst.UpdatedAt),
	}
}

func buildTradeResponse(t *domain.Trade, amounts amountCodec) tradeResponse {
	return tradeResponse{
		TradeID:     t.TradeID,
		Symbol:      t.Symbol,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       amounts.format(t.Price),
		Quantity:    t.Quantity,
		Phase:       string(t.Phase),
		ExecutedAt:  formatTime(t.ExecutedAt),
	}
}

func (h *InstrumentHandler) buildBandResponse(b *domain.PriceBand) bandResponse {
	optional := func(v int64) *json.Number {
		if v == 0 {
			return nil
		}
		n := h.amounts.format(v)
		return &n
	}
	return bandResponse{
		Symbol:    b.Symbol,
		Date:      b.Date,
		Reference: h.amounts.format(b.Reference),
		Ceiling:   h.amounts.format(b.Ceiling),
		Floor:     h.amounts.format(b.Floor),
		Open:      optional(b.Open),
		High:      optional(b.High),
		Low:       optional(b.Low),
		Close:     optional(b.Close),
	}
}

func (h *InstrumentHandler) buildLevels(levels []store.PriceLevel) []bookPriceLevel {
	out := make([]bookPriceLevel, len(levels))
	for i, l := range levels {
		out[i] = bookPriceLevel{
			Price:         h.amounts.format(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}
