package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/store"
)

func TestCancel_RefundsRemainingReservation(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "buyer", 10_000_000, nil)
	e.account(t, "seller", 0, map[string]int64{"VNM": 50})

	buy := e.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, 10_000, 100)
	e.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, 10_000, 50)
	if trades, _ := e.continuous.Match(context.Background(), "VNM"); len(trades) != 1 {
		t.Fatalf("expected a partial fill, got %d trades", len(trades))
	}
	if got := e.cash(t, "buyer"); got != 9_000_000 {
		t.Fatalf("expected buyer cash 9000000 before cancel, got %d", got)
	}

	keys := []store.Key{store.AccountKey("buyer"), store.OrderKey(buy.OrderID)}
	err := e.ledger.Update(context.Background(), keys, func(tx *store.Tx) error {
		o, err := tx.Order(buy.OrderID)
		if err != nil {
			return err
		}
		return Cancel(tx, o, testDay)
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := e.cash(t, "buyer"); got != 9_500_000 {
		t.Errorf("expected refund of 500000, cash %d", got)
	}
	o := e.order(t, buy.OrderID)
	if o.Status != domain.OrderStatusCancelled || o.CancelledAt == nil {
		t.Errorf("expected cancelled order with timestamp, got %s", o.Status)
	}
	if o.RemainingQuantity != 50 || o.FilledQuantity != 50 {
		t.Errorf("expected filled 50 remaining 50 kept, got %d/%d", o.FilledQuantity, o.RemainingQuantity)
	}
}

func TestCancel_SellHoldsNoCash(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "seller", 0, map[string]int64{"VNM": 100})
	sell := e.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, 10_000, 100)

	c, err := cancelOpen(context.Background(), e.ledger, sell, testDay)
	if err != nil {
		t.Fatalf("cancelOpen: %v", err)
	}
	if c == nil || c.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %+v", c)
	}
	if got := e.cash(t, "seller"); got != 0 {
		t.Errorf("expected no cash movement, got %d", got)
	}
	if got := e.holding(t, "seller", "VNM"); got != 100 {
		t.Errorf("expected holdings untouched, got %d", got)
	}

	again, err := cancelOpen(context.Background(), e.ledger, sell, testDay)
	if err != nil || again != nil {
		t.Fatalf("expected no-op on terminal order, got %+v, %v", again, err)
	}
}

func TestSettle_StaleSnapshots(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "buyer", 10_000_000, nil)
	e.account(t, "seller", 0, map[string]int64{"VNM": 100})
	buy := e.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, 10_000, 100)
	sell := e.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, 10_000, 100)

	repriced := buy.Clone()
	repriced.Price = 9_900
	_, err := e.settler.Settle(context.Background(), repriced, sell, 10_000, 100, domain.PhaseContinuous)
	var stale *StaleOrderError
	if !errors.As(err, &stale) || stale.Closed || stale.OrderID != buy.OrderID {
		t.Fatalf("expected repriced stale error for buy, got %v", err)
	}

	if _, err := cancelOpen(context.Background(), e.ledger, sell, testDay); err != nil {
		t.Fatalf("cancelOpen: %v", err)
	}
	_, err = e.settler.Settle(context.Background(), buy, sell, 10_000, 100, domain.PhaseContinuous)
	if !errors.As(err, &stale) || !stale.Closed || stale.OrderID != sell.OrderID {
		t.Fatalf("expected closed stale error for sell, got %v", err)
	}
	if got := e.holding(t, "buyer", "VNM"); got != 0 {
		t.Fatalf("no shares should move, buyer holds %d", got)
	}
}

func TestSettle_RespectsMaxQuantity(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "buyer", 10_000_000, nil)
	e.account(t, "seller", 0, map[string]int64{"VNM": 100})
	buy := e.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, 10_000, 100)
	sell := e.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, 10_000, 100)

	exec, err := e.settler.Settle(context.Background(), buy, sell, 10_000, 30, domain.PhaseOpeningAuction)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if exec.Trade.Quantity != 30 || exec.Trade.Phase != domain.PhaseOpeningAuction {
		t.Fatalf("expected 30 shares in opening_auction, got %d in %s", exec.Trade.Quantity, exec.Trade.Phase)
	}
	if exec.Buy.RemainingQuantity != 70 || exec.Sell.RemainingQuantity != 70 {
		t.Fatalf("expected 70 remaining on both sides, got %d/%d", exec.Buy.RemainingQuantity, exec.Sell.RemainingQuantity)
	}
	if got := e.ledger.Trades("VNM"); len(got) != 1 || got[0].TradeID != exec.Trade.TradeID {
		t.Fatalf("trade not recorded: %+v", got)
	}
}

func TestSettle_RejectsSelfTrade(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "acc", 10_000_000, map[string]int64{"VNM": 100})
	buy := e.place(t, "acc", domain.OrderSideBuy, domain.OrderTypeLimit, 10_000, 100)
	sell := e.place(t, "acc", domain.OrderSideSell, domain.OrderTypeLimit, 10_000, 100)

	if _, err := e.settler.Settle(context.Background(), buy, sell, 10_000, 100, domain.PhaseContinuous); err == nil {
		t.Fatal("expected self trade to be rejected")
	}
}

func TestSettle_RejectsPriceAboveReservation(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "buyer", 10_000_000, nil)
	e.account(t, "seller", 0, map[string]int64{"VNM": 100})
	buy := e.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, 9_500, 100)
	sell := e.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, 9_500, 100)

	_, err := e.settler.Settle(context.Background(), buy, sell, 10_000, 100, domain.PhaseContinuous)
	var short *ReservationError
	if !errors.As(err, &short) || short.OrderID != buy.OrderID || short.Reserved != 9_500 {
		t.Fatalf("expected a reservation error for the buy, got %v", err)
	}
	if errors.Is(err, domain.ErrTransientStore) {
		t.Fatal("a short reservation is not a transient failure")
	}
	if got := e.cash(t, "buyer"); got != 10_000_000-950_000 {
		t.Errorf("buyer cash moved to %d", got)
	}
	if got := e.cash(t, "seller"); got != 0 {
		t.Errorf("seller cash moved to %d", got)
	}
	if len(e.ledger.Trades("VNM")) != 0 {
		t.Error("no trade should be recorded")
	}
}

func TestSettle_RejectsCashOverflow(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "buyer", 10_000_000, nil)
	e.account(t, "seller", math.MaxInt64-500_000, map[string]int64{"VNM": 100})
	buy := e.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, 10_000, 100)
	sell := e.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, 10_000, 100)

	_, err := e.settler.Settle(context.Background(), buy, sell, 10_000, 100, domain.PhaseContinuous)
	if !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if got := e.cash(t, "seller"); got != math.MaxInt64-500_000 {
		t.Errorf("seller cash moved to %d", got)
	}
	if got := e.order(t, buy.OrderID).RemainingQuantity; got != 100 {
		t.Errorf("buy filled despite the rollback, remaining %d", got)
	}
}
