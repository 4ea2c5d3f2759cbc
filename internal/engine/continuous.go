package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

// PhaseSource reports the current trading phase.
type PhaseSource interface {
	Phase() domain.Phase
}

// ContinuousMatcher crosses resting limit orders of one instrument during
// the continuous phase.
type ContinuousMatcher struct {
	ledger  *store.Ledger
	settler *Settler
	locks   *InstrumentLocks
	phase   PhaseSource
	clock   domain.Clock
	pub     events.Publisher
	logger  *slog.Logger
}

func NewContinuousMatcher(
	ledger *store.Ledger,
	settler *Settler,
	locks *InstrumentLocks,
	phase PhaseSource,
	clock domain.Clock,
	pub events.Publisher,
	logger *slog.Logger,
) *ContinuousMatcher {
	return &ContinuousMatcher{
		ledger:  ledger,
		settler: settler,
		locks:   locks,
		phase:   phase,
		clock:   clock,
		pub:     pub,
		logger:  logger,
	}
}

// Match runs one matching pass over symbol and returns the trades it
// executed. Outside the continuous phase, or for an instrument that is not
// trading, it does nothing. Running it again on an unchanged book executes
// nothing.
//
// Bids are taken best-first. Each bid walks the asks best-first while they
// cross, trading at the limit price of whichever order was placed first for
// the smaller remaining quantity. Asks of the bid's own account are skipped
// but stay available to later bids, so no crossing pair of different
// accounts is left behind.
func (m *ContinuousMatcher) Match(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	unlock := m.locks.Lock(symbol)
	defer unlock()

	if m.phase.Phase() != domain.PhaseContinuous {
		return nil, nil
	}
	inst, err := m.ledger.Instrument(symbol)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.InstrumentTrading {
		return nil, nil
	}
	band, err := m.ledger.Band(symbol, m.clock.Today())
	if err != nil {
		return nil, err
	}

	buys := limitsInBand(m.ledger.OpenOrders(symbol, domain.OrderSideBuy), band)
	sells := limitsInBand(m.ledger.OpenOrders(symbol, domain.OrderSideSell), band)

	var trades []*domain.Trade
	defer func() {
		if len(trades) > 0 {
			m.pub.Publish(events.BookChanged(symbol, m.clock.Now()))
		}
	}()

	remaining := make([]int64, len(sells))
	for k, o := range sells {
		remaining[k] = o.RemainingQuantity
	}

	for i := 0; i < len(buys); i++ {
		for k := 0; k < len(sells) && buys[i].IsOpen(); k++ {
			if m.phase.Phase() != domain.PhaseContinuous {
				return trades, nil
			}
			buy, sell := buys[i], sells[k]
			if buy.Price < sell.Price {
				break
			}
			if remaining[k] == 0 || buy.AccountID == sell.AccountID {
				continue
			}

			price := sell.Price
			if buy.PlacedBefore(sell) {
				price = buy.Price
			}

			exec, err := m.settler.Settle(ctx, buy, sell, price, math.MaxInt64, domain.PhaseContinuous)
			var stale *StaleOrderError
			if errors.As(err, &stale) {
				if !stale.Closed {
					// The modification re-notified the worker; the next pass
					// sees the new ranking.
					return trades, nil
				}
				if stale.OrderID == buy.OrderID {
					break
				}
				remaining[k] = 0
				continue
			}
			var short *ReservationError
			if errors.As(err, &short) {
				m.logger.Error("buy order under-reserved, skipped",
					slog.Int64("order_id", short.OrderID),
					slog.Int64("reserved", short.Reserved),
					slog.Int64("price", short.Price),
				)
				break
			}
			if err != nil {
				return trades, err
			}

			trades = append(trades, exec.Trade)
			m.pub.Publish(events.TradeExecuted(exec.Trade))
			m.logger.Debug("trade executed",
				slog.String("symbol", symbol),
				slog.Int64("trade_id", exec.Trade.TradeID),
				slog.Int64("price", exec.Trade.Price),
				slog.Int64("quantity", exec.Trade.Quantity),
			)

			buys[i], sells[k] = exec.Buy, exec.Sell
			remaining[k] = exec.Sell.RemainingQuantity
		}
	}
	return trades, nil
}

// limitsInBand keeps the limit orders priced inside the band, preserving
// priority order.
func limitsInBand(orders []*domain.Order, band *domain.PriceBand) []*domain.Order {
	result := orders[:0]
	for _, o := range orders {
		if o.Type == domain.OrderTypeLimit && band.Contains(o.Price) {
			result = append(result, o)
		}
	}
	return result
}
