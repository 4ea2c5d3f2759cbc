package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/service"
)

// Services groups the services exposed over HTTP.
type Services struct {
	Accounts    *service.AccountService
	Instruments *service.InstrumentService
	Orders      *service.OrderService
	Session     *service.SessionService
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware. Amounts are exchanged as decimals
// with priceDecimals places.
func NewRouter(svc Services, hub *events.Hub[events.Event], priceDecimals int32, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	amounts := newAmountCodec(priceDecimals)
	accountH := NewAccountHandler(svc.Accounts, amounts)
	instrumentH := NewInstrumentHandler(svc.Instruments, amounts)
	orderH := NewOrderHandler(svc.Orders, amounts)
	sessionH := NewSessionHandler(svc.Session)
	streamH := NewStreamHandler(hub, amounts, logger)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", accountH.Register)
		r.Get("/{account_id}/balance", accountH.GetBalance)
		r.Get("/{account_id}/orders", accountH.ListOrders)
	})

	r.Route("/instruments", func(r chi.Router) {
		r.Post("/", instrumentH.Register)
		r.Get("/", instrumentH.List)
		r.Route("/{symbol}", func(r chi.Router) {
			r.Get("/", instrumentH.Get)
			r.Put("/status", instrumentH.SetStatus)
			r.Get("/band", instrumentH.GetBand)
			r.Put("/band", instrumentH.SetBand)
			r.Get("/book", instrumentH.GetBook)
			r.Get("/trades", instrumentH.ListTrades)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orderH.PlaceOrder)
		r.Get("/{order_id}", orderH.GetOrder)
		r.Patch("/{order_id}", orderH.ModifyOrder)
		r.Delete("/{order_id}", orderH.CancelOrder)
	})

	r.Get("/session", sessionH.GetStatus)
	r.Put("/session/mode", sessionH.SetMode)
	r.Put("/session/phase", sessionH.SetPhase)

	r.Get("/ws/events", streamH.Events)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
