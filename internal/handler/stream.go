package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/bourse/internal/events"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// StreamHandler pushes engine events to websocket clients.
type StreamHandler struct {
	hub      *events.Hub[events.Event]
	amounts  amountCodec
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *events.Hub[events.Event], amounts amountCodec, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:      hub,
		amounts:  amounts,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
	}
}

// eventMessage is one event on the stream. Data holds the order, trade or
// session status and is omitted for book.changed.
type eventMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Events handles GET /ws/events. With ?symbol=, only that instrument's
// events and session changes are sent.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(streamBuffer)
	defer h.hub.Unsubscribe(sub)

	// The read loop only serves control frames; it ends when the client goes away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if symbol != "" && e.Symbol != "" && e.Symbol != symbol {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(h.buildMessage(e)); err != nil {
				h.logger.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *StreamHandler) buildMessage(e events.Event) eventMessage {
	msg := eventMessage{
		ID:        e.ID.String(),
		Type:      string(e.Type),
		Symbol:    e.Symbol,
		Timestamp: formatTime(e.Timestamp),
	}
	switch {
	case e.Order != nil:
		msg.Data = buildOrderResponse(e.Order, h.amounts)
	case e.Trade != nil:
		msg.Data = buildTradeResponse(e.Trade, h.amounts)
	case e.Session != nil:
		msg.Data = buildSessionResponse(*e.Session)
	}
	return msg
}
