package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/store"
)

// StaleOrderError reports that an order changed between the matcher's
// snapshot and settlement.
type StaleOrderError struct {
	OrderID int64
	Closed  bool // no longer open; otherwise repriced or re-queued
}

func (e *StaleOrderError) Error() string {
	if e.Closed {
		return fmt.Sprintf("order %d is no longer open", e.OrderID)
	}
	return fmt.Sprintf("order %d changed since snapshot", e.OrderID)
}

// ReservationError reports a buy whose reserved cash per share is below the
// trade price. The pair is left unexecuted.
type ReservationError struct {
	OrderID  int64
	Reserved int64
	Price    int64
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("order %d reserved %d per share, trade price is %d", e.OrderID, e.Reserved, e.Price)
}

// ErrAmountOverflow is returned when a trade would push an amount past the
// int64 range.
var ErrAmountOverflow = errors.New("amount overflow")

// Execution is the outcome of one settled pair.
type Execution struct {
	Trade *domain.Trade
	Buy   *domain.Order
	Sell  *domain.Order
}

// Settler books trades. Each trade is settled in its own ledger
// transaction holding both accounts, both orders and the instrument.
type Settler struct {
	ledger *store.Ledger
	clock  domain.Clock
}

func NewSettler(ledger *store.Ledger, clock domain.Clock) *Settler {
	return &Settler{ledger: ledger, clock: clock}
}

// Settle executes min(remaining buy, remaining sell, maxQty) at price
// between the snapshot orders buy and sell. Both orders are re-read inside
// the transaction; a *StaleOrderError is returned when either changed and a
// *ReservationError when the buy holds less cash than price. Any other
// failure rolls the pair back and wraps domain.ErrTransientStore.
func (s *Settler) Settle(ctx context.Context, buy, sell *domain.Order, price, maxQty int64, phase domain.Phase) (*Execution, error) {
	exec, err := s.settle(ctx, buy, sell, price, maxQty, phase)
	if err == nil {
		return exec, nil
	}
	var stale *StaleOrderError
	var short *ReservationError
	if errors.As(err, &stale) || errors.As(err, &short) ||
		errors.Is(err, ErrAmountOverflow) || errors.Is(err, domain.ErrTransientStore) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: settle %d/%d: %w", domain.ErrTransientStore, buy.OrderID, sell.OrderID, err)
}

func (s *Settler) settle(ctx context.Context, buySnap, sellSnap *domain.Order, price, maxQty int64, phase domain.Phase) (*Execution, error) {
	if buySnap.AccountID == sellSnap.AccountID {
		return nil, fmt.Errorf("self trade between orders %d and %d", buySnap.OrderID, sellSnap.OrderID)
	}
	symbol := buySnap.Symbol

	tx, err := s.ledger.Begin(ctx,
		store.AccountKey(buySnap.AccountID),
		store.AccountKey(sellSnap.AccountID),
		store.OrderKey(buySnap.OrderID),
		store.OrderKey(sellSnap.OrderID),
		store.InstrumentKey(symbol),
	)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	buy, err := reread(tx, buySnap)
	if err != nil {
		return nil, err
	}
	sell, err := reread(tx, sellSnap)
	if err != nil {
		return nil, err
	}

	qty := min(buy.RemainingQuantity, sell.RemainingQuantity, maxQty)
	if qty <= 0 {
		return nil, fmt.Errorf("non-positive fill quantity %d", qty)
	}
	if price <= 0 || price > buy.ReservedPrice {
		return nil, &ReservationError{OrderID: buy.OrderID, Reserved: buy.ReservedPrice, Price: price}
	}
	if qty > math.MaxInt64/price {
		return nil, fmt.Errorf("%w: %d shares at %d", ErrAmountOverflow, qty, price)
	}
	value := qty * price

	now := s.clock.Now()
	band, err := tx.Band(symbol, domain.DateKey(now))
	if err != nil {
		return nil, err
	}
	buyer, err := tx.Account(buy.AccountID)
	if err != nil {
		return nil, err
	}
	seller, err := tx.Account(sell.AccountID)
	if err != nil {
		return nil, err
	}
	if seller.Holding(symbol) < qty {
		return nil, fmt.Errorf("seller %s holds %d %s, needs %d", seller.AccountID, seller.Holding(symbol), symbol, qty)
	}
	refund := qty * (buy.ReservedPrice - price)
	if seller.CashBalance > math.MaxInt64-value || buyer.CashBalance > math.MaxInt64-refund {
		return nil, fmt.Errorf("%w: settling %d shares at %d", ErrAmountOverflow, qty, price)
	}

	trade := &domain.Trade{
		Symbol:      symbol,
		BuyOrderID:  buy.OrderID,
		SellOrderID: sell.OrderID,
		BuyerID:     buy.AccountID,
		SellerID:    sell.AccountID,
		Price:       price,
		Quantity:    qty,
		Phase:       phase,
		ExecutedAt:  now,
	}
	if err := tx.InsertTrade(trade); err != nil {
		return nil, err
	}

	buy.Fill(qty, now)
	sell.Fill(qty, now)
	if err := tx.SaveOrder(buy); err != nil {
		return nil, err
	}
	if err := tx.SaveOrder(sell); err != nil {
		return nil, err
	}

	seller.Holdings[symbol] -= qty
	if seller.Holdings[symbol] == 0 {
		delete(seller.Holdings, symbol)
	}
	seller.CashBalance += value
	seller.UpdatedAt = now
	buyer.Holdings[symbol] += qty
	buyer.CashBalance += refund
	buyer.UpdatedAt = now
	if err := tx.SaveAccount(seller); err != nil {
		return nil, err
	}
	if err := tx.SaveAccount(buyer); err != nil {
		return nil, err
	}

	band.RecordTrade(price)
	if err := tx.SaveBand(band); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Execution{Trade: trade, Buy: buy, Sell: sell}, nil
}

// reread loads the current version of snap and checks that it is still the
// order the matcher ranked.
func reread(tx *store.Tx, snap *domain.Order) (*domain.Order, error) {
	o, err := tx.Order(snap.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.IsOpen() {
		return nil, &StaleOrderError{OrderID: o.OrderID, Closed: true}
	}
	if o.Price != snap.Price || !o.PlacedAt.Equal(snap.PlacedAt) {
		return nil, &StaleOrderError{OrderID: o.OrderID}
	}
	return o, nil
}

// Cancel marks o cancelled inside tx and refunds the cash reserved for its
// remaining quantity. The caller must hold the owner's account lock and the
// order lock. RemainingQuantity is left as it was.
func Cancel(tx *store.Tx, o *domain.Order, at time.Time) error {
	refund := o.Reservation()
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &at
	o.UpdatedAt = at

	if refund > 0 {
		a, err := tx.Account(o.AccountID)
		if err != nil {
			return err
		}
		a.CashBalance += refund
		a.UpdatedAt = at
		if err := tx.SaveAccount(a); err != nil {
			return err
		}
	}
	return tx.SaveOrder(o)
}

// cancelOpen cancels the order in its own transaction. It returns nil
// without error if the order is already terminal.
func cancelOpen(ctx context.Context, ledger *store.Ledger, snap *domain.Order, at time.Time) (*domain.Order, error) {
	tx, err := ledger.Begin(ctx, store.AccountKey(snap.AccountID), store.OrderKey(snap.OrderID))
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := tx.Order(snap.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.IsOpen() {
		return nil, nil
	}
	if err := Cancel(tx, o, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}
