package domain

import "time"

// InstrumentStatus is the listing state of an instrument.
type InstrumentStatus string

const (
	InstrumentPendingListing InstrumentStatus = "pending_listing"
	InstrumentTrading        InstrumentStatus = "trading"
	InstrumentHalted         InstrumentStatus = "halted"
)

// Valid reports whether s is a known status.
func (s InstrumentStatus) Valid() bool {
	switch s {
	case InstrumentPendingListing, InstrumentTrading, InstrumentHalted:
		return true
	}
	return false
}

// Instrument is a listed security.
type Instrument struct {
	Symbol      string
	TotalShares int64
	Status      InstrumentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriceBand is the per-day price limit record of an instrument, plus the
// running open/high/low/close of that day. Zero OHLC fields are unset.
type PriceBand struct {
	Symbol    string
	Date      string // 2006-01-02 in the exchange time zone
	Reference int64
	Ceiling   int64
	Floor     int64
	Open      int64
	High      int64
	Low       int64
	Close     int64
}

// Contains reports whether price lies within [Floor, Ceiling].
func (b *PriceBand) Contains(price int64) bool {
	return price >= b.Floor && price <= b.Ceiling
}

// Clamp returns price limited to [Floor, Ceiling].
func (b *PriceBand) Clamp(price int64) int64 {
	if price < b.Floor {
		return b.Floor
	}
	if price > b.Ceiling {
		return b.Ceiling
	}
	return price
}

// RecordTrade folds an execution price into the running high/low/close.
func (b *PriceBand) RecordTrade(price int64) {
	if b.Open == 0 {
		b.Open = price
	}
	if b.High == 0 || price > b.High {
		b.High = price
	}
	if b.Low == 0 || price < b.Low {
		b.Low = price
	}
	b.Close = price
}

// LastPrice returns the close if the instrument traded, else the reference.
func (b *PriceBand) LastPrice() int64 {
	if b.Close != 0 {
		return b.Close
	}
	return b.Reference
}

// DateKey formats t as a trading-day key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
