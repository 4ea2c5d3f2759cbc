package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

// Expirer cancels day orders when the market closes, and auction orders
// once their auction can no longer run.
type Expirer struct {
	ledger *store.Ledger
	locks  *InstrumentLocks
	clock  domain.Clock
	pub    events.Publisher
	logger *slog.Logger
}

func NewExpirer(ledger *store.Ledger, locks *InstrumentLocks, clock domain.Clock, pub events.Publisher, logger *slog.Logger) *Expirer {
	return &Expirer{
		ledger: ledger,
		locks:  locks,
		clock:  clock,
		pub:    pub,
		logger: logger,
	}
}

// ExpireAll cancels every open order of every instrument, releasing buy
// reservations, and returns the number of orders cancelled.
func (e *Expirer) ExpireAll(ctx context.Context) (int, error) {
	total := 0
	for _, inst := range e.ledger.Instruments(nil) {
		n, err := e.expireSymbol(ctx, inst.Symbol, func(*domain.Order) bool { return true })
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		e.logger.Info("day orders expired", slog.Int("count", total))
	}
	return total, nil
}

// ExpireAuctionOrders cancels the open auction orders of every instrument
// that can no longer take part in their auction during phase, and reopens
// the auctions that phase still leads to. It is run after every phase
// change, so a session closed by an operator or a safety stop releases the
// reservations of the auctions it skipped.
func (e *Expirer) ExpireAuctionOrders(ctx context.Context, phase domain.Phase) (int, error) {
	for _, typ := range []domain.OrderType{domain.OrderTypeATO, domain.OrderTypeATC} {
		if kind, _ := domain.AuctionKindOf(typ); typ.AwaitsAuction(phase) {
			e.locks.Unseal(kind)
		}
	}

	stale := func(o *domain.Order) bool {
		return o.Type.IsAuction() && !o.Type.AwaitsAuction(phase)
	}
	total := 0
	for _, inst := range e.ledger.Instruments(nil) {
		n, err := e.expireSymbol(ctx, inst.Symbol, stale)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		e.logger.Info("auction orders expired", slog.String("phase", string(phase)), slog.Int("count", total))
	}
	return total, nil
}

// expireSymbol cancels the open orders of symbol matched by expire. It holds
// the instrument lock so no pass runs against orders being expired.
func (e *Expirer) expireSymbol(ctx context.Context, symbol string, expire func(*domain.Order) bool) (int, error) {
	unlock := e.locks.Lock(symbol)
	defer unlock()

	n := 0
	now := e.clock.Now()
	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		for _, o := range e.ledger.OpenOrders(symbol, side) {
			if !expire(o) {
				continue
			}
			c, err := cancelOpen(ctx, e.ledger, o, now)
			if err != nil {
				return n, fmt.Errorf("expire order %d: %w", o.OrderID, err)
			}
			if c == nil {
				continue
			}
			n++
			e.pub.Publish(events.OrderCancelled(c, now))
		}
	}
	if n > 0 {
		e.pub.Publish(events.BookChanged(symbol, now))
	}
	return n, nil
}
