package domain

import "time"

// Trade is a matched execution between a buy and a sell order.
type Trade struct {
	TradeID     int64
	Symbol      string
	BuyOrderID  int64
	SellOrderID int64
	BuyerID     string
	SellerID    string
	Price       int64 // minor units
	Quantity    int64
	Phase       Phase // phase in which the trade executed
	ExecutedAt  time.Time
}

// Value returns price × quantity.
func (t *Trade) Value() int64 {
	return t.Price * t.Quantity
}

// AuctionKind selects which call auction an auction pass serves.
type AuctionKind string

const (
	AuctionOpening AuctionKind = "opening"
	AuctionClosing AuctionKind = "closing"
)

// OrderType returns the auction order type collected for this auction.
func (k AuctionKind) OrderType() OrderType {
	if k == AuctionClosing {
		return OrderTypeATC
	}
	return OrderTypeATO
}

// AuctionKindOf returns the auction an auction order type is collected for.
func AuctionKindOf(t OrderType) (AuctionKind, bool) {
	switch t {
	case OrderTypeATO:
		return AuctionOpening, true
	case OrderTypeATC:
		return AuctionClosing, true
	}
	return "", false
}

// AuctionResult summarises one call-auction pass for an instrument.
type AuctionResult struct {
	Symbol    string
	Kind      AuctionKind
	Price     int64 // clearing price, 0 when nothing executed
	Volume    int64
	Imbalance int64 // |demand − supply| at the clearing price
	Trades    []*Trade
	Cancelled []*Order
}
