package domain

import "time"

// OrderType distinguishes limit orders from the two call-auction order types.
type OrderType string

const (
	OrderTypeLimit OrderType = "limit"
	OrderTypeATO   OrderType = "ato" // at-the-opening, valid for the opening auction only
	OrderTypeATC   OrderType = "atc" // at-the-close, valid for the closing auction only
)

// IsAuction reports whether the type carries no limit price.
func (t OrderType) IsAuction() bool {
	return t == OrderTypeATO || t == OrderTypeATC
}

// AwaitsAuction reports whether an open order of type t can still take part
// in its auction while the session is in phase p. Limit orders always can.
func (t OrderType) AwaitsAuction(p Phase) bool {
	switch t {
	case OrderTypeATO:
		return p == PhasePreOpen || p == PhaseOpeningAuction
	case OrderTypeATC:
		return p == PhaseContinuous || p == PhaseClosingAuction
	}
	return true
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeLimit, OrderTypeATO, OrderTypeATC:
		return true
	}
	return false
}

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Order is an instruction to buy or sell an instrument.
type Order struct {
	OrderID           int64
	AccountID         string
	Symbol            string
	Side              OrderSide
	Type              OrderType
	Price             int64 // limit price, 0 for auction types
	ReservedPrice     int64 // per-share cash held for buys
	Quantity          int64
	FilledQuantity    int64
	RemainingQuantity int64
	Status            OrderStatus
	PlacedAt          time.Time
	UpdatedAt         time.Time
	CancelledAt       *time.Time
}

// IsOpen reports whether the order can still trade.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartiallyFilled
}

// Fill records an execution of qty against the order and updates its status.
func (o *Order) Fill(qty int64, at time.Time) {
	o.FilledQuantity += qty
	o.RemainingQuantity -= qty
	if o.RemainingQuantity == 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = at
}

// Reservation returns the cash currently held for the order's remaining
// quantity. Sells and terminal orders hold no cash.
func (o *Order) Reservation() int64 {
	if o.Side != OrderSideBuy || !o.IsOpen() {
		return 0
	}
	return o.RemainingQuantity * o.ReservedPrice
}

// PlacedBefore reports whether o has time priority over other.
func (o *Order) PlacedBefore(other *Order) bool {
	if !o.PlacedAt.Equal(other.PlacedAt) {
		return o.PlacedAt.Before(other.PlacedAt)
	}
	return o.OrderID < other.OrderID
}

// Clone returns a copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
