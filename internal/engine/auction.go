package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

// TieBreak selects among candidate prices with equal executable volume.
type TieBreak string

const (
	// TieBreakReference prefers the price closest to the reference, then the
	// smaller imbalance, then the lower price.
	TieBreakReference TieBreak = "reference"
	// TieBreakImbalance prefers the smaller imbalance, then the price closest
	// to the reference, then the lower price.
	TieBreakImbalance TieBreak = "imbalance"
)

// Valid reports whether t is a known rule.
func (t TieBreak) Valid() bool {
	return t == TieBreakReference || t == TieBreakImbalance
}

// AuctionMatcher runs call auctions: it finds the single price that
// maximises executable volume and executes every crossing pair at it.
type AuctionMatcher struct {
	ledger   *store.Ledger
	settler  *Settler
	locks    *InstrumentLocks
	clock    domain.Clock
	tieBreak TieBreak
	pub      events.Publisher
	logger   *slog.Logger
}

func NewAuctionMatcher(
	ledger *store.Ledger,
	settler *Settler,
	locks *InstrumentLocks,
	clock domain.Clock,
	tieBreak TieBreak,
	pub events.Publisher,
	logger *slog.Logger,
) *AuctionMatcher {
	if !tieBreak.Valid() {
		tieBreak = TieBreakReference
	}
	return &AuctionMatcher{
		ledger:   ledger,
		settler:  settler,
		locks:    locks,
		clock:    clock,
		tieBreak: tieBreak,
		pub:      pub,
		logger:   logger,
	}
}

// auctionLevel is the order-book state at one candidate price.
type auctionLevel struct {
	Price     int64
	Demand    int64
	Supply    int64
	Volume    int64
	Imbalance int64
}

// Run executes the kind auction for symbol. With final set, auction orders
// of the kind that remain unmatched are cancelled and their reservations
// released, and later orders of the kind are refused until the auction
// reopens. A halted instrument does not trade, but its auction orders are
// still cancelled on the final pass.
func (a *AuctionMatcher) Run(ctx context.Context, symbol string, kind domain.AuctionKind, final bool) (*domain.AuctionResult, error) {
	unlock := a.locks.Lock(symbol)
	defer unlock()
	if final {
		defer a.locks.Seal(symbol, kind)
	}

	result := &domain.AuctionResult{Symbol: symbol, Kind: kind}
	inst, err := a.ledger.Instrument(symbol)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.InstrumentTrading {
		if !final {
			return result, nil
		}
		var pending []*domain.Order
		for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
			pending = append(pending, ofType(a.ledger.OpenOrders(symbol, side), kind.OrderType())...)
		}
		result.Cancelled, err = a.cancelUnmatched(ctx, pending)
		a.publishBook(symbol, result)
		return result, err
	}
	band, err := a.ledger.Band(symbol, a.clock.Today())
	if err != nil {
		return nil, err
	}

	buys := auctionEligible(a.ledger.OpenOrders(symbol, domain.OrderSideBuy), kind, band)
	sells := auctionEligible(a.ledger.OpenOrders(symbol, domain.OrderSideSell), kind, band)
	pending := append(ofType(buys, kind.OrderType()), ofType(sells, kind.OrderType())...)

	if level, ok := clearingLevel(buys, sells, band, a.tieBreak); ok {
		result.Price = level.Price
		result.Imbalance = level.Imbalance
		trades, err := a.execute(ctx, buys, sells, level, auctionPhase(kind))
		result.Trades = trades
		for _, t := range trades {
			result.Volume += t.Quantity
		}
		if err != nil {
			a.publishBook(symbol, result)
			return result, err
		}
	}

	if final {
		cancelled, err := a.cancelUnmatched(ctx, pending)
		result.Cancelled = cancelled
		if err != nil {
			a.publishBook(symbol, result)
			return result, err
		}
	}

	a.publishBook(symbol, result)
	a.logger.Info("auction completed",
		slog.String("symbol", symbol),
		slog.String("kind", string(kind)),
		slog.Bool("final", final),
		slog.Int64("price", result.Price),
		slog.Int64("volume", result.Volume),
		slog.Int("cancelled", len(result.Cancelled)),
	)
	return result, nil
}

func (a *AuctionMatcher) publishBook(symbol string, result *domain.AuctionResult) {
	if len(result.Trades) > 0 || len(result.Cancelled) > 0 {
		a.pub.Publish(events.BookChanged(symbol, a.clock.Now()))
	}
}

// execute pairs buys and sells in priority order at the clearing price until
// the clearing volume is exhausted. A buy is matched against the
// highest-priority sell of another account; same-account sells stay
// available for later buys.
func (a *AuctionMatcher) execute(ctx context.Context, buys, sells []*domain.Order, level auctionLevel, phase domain.Phase) ([]*domain.Trade, error) {
	remBuy := make([]int64, len(buys))
	for i, o := range buys {
		remBuy[i] = o.RemainingQuantity
	}
	remSell := make([]int64, len(sells))
	for k, o := range sells {
		remSell[k] = o.RemainingQuantity
	}

	var trades []*domain.Trade
	budget := level.Volume
	for i := 0; i < len(buys) && budget > 0; i++ {
		if !executableAt(buys[i], level.Price) {
			break
		}
		for k := 0; k < len(sells) && remBuy[i] > 0 && budget > 0; k++ {
			if remSell[k] == 0 || sells[k].AccountID == buys[i].AccountID {
				continue
			}
			if !executableAt(sells[k], level.Price) {
				break
			}

			q := min(remBuy[i], remSell[k], budget)
			exec, err := a.settler.Settle(ctx, buys[i], sells[k], level.Price, q, phase)
			var stale *StaleOrderError
			if errors.As(err, &stale) {
				if stale.OrderID == buys[i].OrderID {
					remBuy[i] = 0
				} else {
					remSell[k] = 0
				}
				continue
			}
			var short *ReservationError
			if errors.As(err, &short) {
				a.logger.Error("buy order under-reserved, skipped",
					slog.Int64("order_id", short.OrderID),
					slog.Int64("reserved", short.Reserved),
					slog.Int64("price", short.Price),
				)
				remBuy[i] = 0
				continue
			}
			if err != nil {
				return trades, err
			}

			trades = append(trades, exec.Trade)
			a.pub.Publish(events.TradeExecuted(exec.Trade))
			budget -= exec.Trade.Quantity
			buys[i], sells[k] = exec.Buy, exec.Sell
			remBuy[i] = exec.Buy.RemainingQuantity
			remSell[k] = exec.Sell.RemainingQuantity
		}
	}
	return trades, nil
}

// cancelUnmatched cancels the orders of the pass snapshot that are still
// open. Orders filled by the pass are skipped.
func (a *AuctionMatcher) cancelUnmatched(ctx context.Context, orders []*domain.Order) ([]*domain.Order, error) {
	var cancelled []*domain.Order
	now := a.clock.Now()
	for _, o := range orders {
		c, err := cancelOpen(ctx, a.ledger, o, now)
		if err != nil {
			return cancelled, fmt.Errorf("cancel unmatched %s order %d: %w", o.Type, o.OrderID, err)
		}
		if c == nil {
			continue
		}
		cancelled = append(cancelled, c)
		a.pub.Publish(events.OrderCancelled(c, now))
	}
	return cancelled, nil
}

// ofType returns the orders of type typ, in a new slice.
func ofType(orders []*domain.Order, typ domain.OrderType) []*domain.Order {
	var result []*domain.Order
	for _, o := range orders {
		if o.Type == typ {
			result = append(result, o)
		}
	}
	return result
}

func auctionPhase(kind domain.AuctionKind) domain.Phase {
	if kind == domain.AuctionClosing {
		return domain.PhaseClosingAuction
	}
	return domain.PhaseOpeningAuction
}

// auctionEligible keeps the auction orders of kind and the limit orders
// inside the band, preserving priority order.
func auctionEligible(orders []*domain.Order, kind domain.AuctionKind, band *domain.PriceBand) []*domain.Order {
	result := orders[:0]
	for _, o := range orders {
		switch {
		case o.Type == kind.OrderType():
			result = append(result, o)
		case o.Type == domain.OrderTypeLimit && band.Contains(o.Price):
			result = append(result, o)
		}
	}
	return result
}

// executableAt reports whether o participates at price p.
func executableAt(o *domain.Order, p int64) bool {
	if o.Type.IsAuction() {
		return true
	}
	if o.Side == domain.OrderSideBuy {
		return o.Price >= p
	}
	return o.Price <= p
}

// clearingLevel evaluates every candidate price, the distinct limit prices
// plus the reference clamped to the band, and returns the one with the
// largest executable volume. ok is false when nothing can execute.
func clearingLevel(buys, sells []*domain.Order, band *domain.PriceBand, tb TieBreak) (auctionLevel, bool) {
	seen := map[int64]struct{}{band.Clamp(band.Reference): {}}
	for _, o := range buys {
		if o.Type == domain.OrderTypeLimit {
			seen[o.Price] = struct{}{}
		}
	}
	for _, o := range sells {
		if o.Type == domain.OrderTypeLimit {
			seen[o.Price] = struct{}{}
		}
	}
	candidates := make([]int64, 0, len(seen))
	for p := range seen {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var best auctionLevel
	found := false
	for _, p := range candidates {
		level := auctionLevel{Price: p}
		for _, o := range buys {
			if executableAt(o, p) {
				level.Demand += o.RemainingQuantity
			}
		}
		for _, o := range sells {
			if executableAt(o, p) {
				level.Supply += o.RemainingQuantity
			}
		}
		level.Volume = min(level.Demand, level.Supply)
		level.Imbalance = abs(level.Demand - level.Supply)
		if level.Volume == 0 {
			continue
		}
		if !found || better(level, best, band.Reference, tb) {
			best = level
			found = true
		}
	}
	return best, found
}

// better reports whether a beats b.
func better(a, b auctionLevel, reference int64, tb TieBreak) bool {
	if a.Volume != b.Volume {
		return a.Volume > b.Volume
	}
	da, db := abs(a.Price-reference), abs(b.Price-reference)
	if tb == TieBreakImbalance {
		if a.Imbalance != b.Imbalance {
			return a.Imbalance < b.Imbalance
		}
		if da != db {
			return da < db
		}
	} else {
		if da != db {
			return da < db
		}
		if a.Imbalance != b.Imbalance {
			return a.Imbalance < b.Imbalance
		}
	}
	return a.Price < b.Price
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
