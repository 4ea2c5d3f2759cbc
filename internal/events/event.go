package events

import (
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/google/uuid"
)

// Type names an engine event.
type Type string

const (
	TypeOrderPlaced    Type = "order.placed"
	TypeOrderCancelled Type = "order.cancelled"
	TypeOrderModified  Type = "order.modified"
	TypeTradeExecuted  Type = "trade.executed"
	TypeBookChanged    Type = "book.changed"
	TypeSessionChanged Type = "session.changed"
)

// Event is a notification emitted after a committed state change. Exactly
// one of Order, Trade and Session is set, except for book.changed which
// carries only the symbol.
type Event struct {
	ID        uuid.UUID
	Type      Type
	Symbol    string
	Timestamp time.Time
	Order     *domain.Order
	Trade     *domain.Trade
	Session   *domain.SessionStatus
}

// Publisher receives events. Implementations must not block the caller.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

func newEvent(typ Type, symbol string, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, Symbol: symbol, Timestamp: at}
}

func orderEvent(typ Type, o *domain.Order, at time.Time) Event {
	e := newEvent(typ, o.Symbol, at)
	e.Order = o.Clone()
	return e
}

func OrderPlaced(o *domain.Order, at time.Time) Event {
	return orderEvent(TypeOrderPlaced, o, at)
}

func OrderCancelled(o *domain.Order, at time.Time) Event {
	return orderEvent(TypeOrderCancelled, o, at)
}

func OrderModified(o *domain.Order, at time.Time) Event {
	return orderEvent(TypeOrderModified, o, at)
}

func TradeExecuted(t *domain.Trade) Event {
	e := newEvent(TypeTradeExecuted, t.Symbol, t.ExecutedAt)
	c := *t
	e.Trade = &c
	return e
}

func BookChanged(symbol string, at time.Time) Event {
	return newEvent(TypeBookChanged, symbol, at)
}

func SessionChanged(status domain.SessionStatus, at time.Time) Event {
	e := newEvent(TypeSessionChanged, "", at)
	e.Session = &status
	return e
}
