package domain

import "time"

// Account is an investor's cash and share position on the exchange.
// Buy reservations are debited from CashBalance when the order is placed;
// sell reservations are derived from the account's open sell orders.
type Account struct {
	AccountID   string
	CashBalance int64            // minor units
	Holdings    map[string]int64 // symbol → owned quantity
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Holding returns the owned quantity of symbol, or 0.
func (a *Account) Holding(symbol string) int64 {
	return a.Holdings[symbol]
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Holdings = make(map[string]int64, len(a.Holdings))
	for s, q := range a.Holdings {
		c.Holdings[s] = q
	}
	return &c
}
