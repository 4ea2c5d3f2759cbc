package domain

import (
	"fmt"
	"math"
)

// TradingRules holds the exchange-wide lot and tick sizes and the daily
// price band width.
type TradingRules struct {
	LotSize     int64
	TickSize    int64
	BandPercent int64 // band half-width as a percentage of the reference price
}

// CheckQuantity validates an order quantity against the lot size.
func (r TradingRules) CheckQuantity(qty int64) error {
	if qty <= 0 {
		return NewValidationError(CodeInvalidQuantity, "quantity must be a positive integer")
	}
	if qty%r.LotSize != 0 {
		return NewValidationError(CodeInvalidQuantity,
			fmt.Sprintf("quantity must be a multiple of the lot size %d", r.LotSize))
	}
	return nil
}

// CheckNotional rejects a quantity whose value at price does not fit in an
// int64 amount.
func (r TradingRules) CheckNotional(qty, price int64) error {
	if price > 0 && qty > math.MaxInt64/price {
		return NewValidationError(CodeInvalidQuantity,
			fmt.Sprintf("quantity %d at price %d exceeds the largest representable amount", qty, price))
	}
	return nil
}

// CheckPrice validates a limit price against the tick size.
func (r TradingRules) CheckPrice(price int64) error {
	if price <= 0 {
		return NewValidationError(CodeInvalidPrice, "price must be greater than 0")
	}
	if price%r.TickSize != 0 {
		return NewValidationError(CodeInvalidPrice,
			fmt.Sprintf("price must be a multiple of the tick size %d", r.TickSize))
	}
	return nil
}

// CheckInBand validates that a limit price lies within the day's band.
func (r TradingRules) CheckInBand(price int64, band *PriceBand) error {
	if !band.Contains(price) {
		return NewValidationError(CodePriceOutOfBand,
			fmt.Sprintf("price %d is outside the band [%d, %d]", price, band.Floor, band.Ceiling))
	}
	return nil
}

// Band computes the price band for a reference price: ceiling and floor sit
// BandPercent away from the reference, rounded inwards to the tick size.
func (r TradingRules) Band(symbol, date string, reference int64) *PriceBand {
	width := reference * r.BandPercent / 100
	ceiling := (reference + width) / r.TickSize * r.TickSize
	floor := reference - width
	if rem := floor % r.TickSize; rem != 0 {
		floor += r.TickSize - rem
	}
	if floor < r.TickSize {
		floor = r.TickSize
	}
	if ceiling < reference {
		ceiling = reference
	}
	if floor > reference {
		floor = reference
	}
	return &PriceBand{
		Symbol:    symbol,
		Date:      date,
		Reference: reference,
		Ceiling:   ceiling,
		Floor:     floor,
	}
}
