package domain

import (
	"testing"
	"time"
)

func TestOrder_Fill(t *testing.T) {
	now := time.Now()
	o := &Order{Quantity: 200, RemainingQuantity: 200, Status: OrderStatusPending}

	o.Fill(100, now)
	if o.Status != OrderStatusPartiallyFilled {
		t.Errorf("Status = %s, want partially_filled", o.Status)
	}
	if o.RemainingQuantity != 100 || o.FilledQuantity != 100 {
		t.Errorf("remaining/filled = %d/%d, want 100/100", o.RemainingQuantity, o.FilledQuantity)
	}

	o.Fill(100, now)
	if o.Status != OrderStatusFilled {
		t.Errorf("Status = %s, want filled", o.Status)
	}
	if o.IsOpen() {
		t.Error("filled order should not be open")
	}
}

func TestOrder_Reservation(t *testing.T) {
	buy := &Order{Side: OrderSideBuy, ReservedPrice: 10_000, RemainingQuantity: 50, Status: OrderStatusPartiallyFilled}
	if got := buy.Reservation(); got != 500_000 {
		t.Errorf("Reservation() = %d, want 500000", got)
	}

	sell := &Order{Side: OrderSideSell, Price: 10_000, RemainingQuantity: 50, Status: OrderStatusPending}
	if got := sell.Reservation(); got != 0 {
		t.Errorf("sell Reservation() = %d, want 0", got)
	}

	buy.Status = OrderStatusCancelled
	if got := buy.Reservation(); got != 0 {
		t.Errorf("cancelled Reservation() = %d, want 0", got)
	}
}

func TestOrder_PlacedBefore(t *testing.T) {
	t0 := time.Now()
	a := &Order{OrderID: 2, PlacedAt: t0}
	b := &Order{OrderID: 1, PlacedAt: t0.Add(time.Millisecond)}
	if !a.PlacedBefore(b) {
		t.Error("earlier timestamp should have priority")
	}

	c := &Order{OrderID: 1, PlacedAt: t0}
	if !c.PlacedBefore(a) {
		t.Error("equal timestamps should fall back to the lower order id")
	}
}

func TestOrder_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	o := &Order{OrderID: 1, CancelledAt: &now}
	c := o.Clone()
	c.RemainingQuantity = 99
	*c.CancelledAt = now.Add(time.Hour)
	if o.RemainingQuantity == 99 || !o.CancelledAt.Equal(now) {
		t.Error("mutating the clone changed the original")
	}
}

func TestOrderType_IsAuction(t *testing.T) {
	if OrderTypeLimit.IsAuction() {
		t.Error("limit is not an auction type")
	}
	if !OrderTypeATO.IsAuction() || !OrderTypeATC.IsAuction() {
		t.Error("ato and atc are auction types")
	}
	if OrderType("market").Valid() {
		t.Error("market is not a valid type")
	}
}

func TestOrderType_AwaitsAuction(t *testing.T) {
	tests := []struct {
		typ   OrderType
		phase Phase
		want  bool
	}{
		{OrderTypeATO, PhasePreOpen, true},
		{OrderTypeATO, PhaseOpeningAuction, true},
		{OrderTypeATO, PhaseContinuous, false},
		{OrderTypeATO, PhaseClosed, false},
		{OrderTypeATC, PhasePreOpen, false},
		{OrderTypeATC, PhaseContinuous, true},
		{OrderTypeATC, PhaseClosingAuction, true},
		{OrderTypeATC, PhaseClosed, false},
		{OrderTypeLimit, PhaseClosed, true},
	}
	for _, tt := range tests {
		if got := tt.typ.AwaitsAuction(tt.phase); got != tt.want {
			t.Errorf("%s.AwaitsAuction(%s) = %v, want %v", tt.typ, tt.phase, got, tt.want)
		}
	}

	if k, ok := AuctionKindOf(OrderTypeATC); !ok || k != AuctionClosing {
		t.Errorf("AuctionKindOf(atc) = %q, %v", k, ok)
	}
	if _, ok := AuctionKindOf(OrderTypeLimit); ok {
		t.Error("limit orders belong to no auction")
	}
}
