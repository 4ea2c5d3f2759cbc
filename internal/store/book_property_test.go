package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"pgregory.net/rapid"
)

func genBookOrder(id int64, side domain.OrderSide) *rapid.Generator[*domain.Order] {
	return rapid.Custom(func(t *rapid.T) *domain.Order {
		typ := rapid.SampledFrom([]domain.OrderType{domain.OrderTypeLimit, domain.OrderTypeLimit, domain.OrderTypeATO}).Draw(t, "type")
		var price int64
		if typ == domain.OrderTypeLimit {
			price = rapid.Int64Range(1, 20).Draw(t, "ticks") * 100
		}
		// Few distinct seconds so time ties fall back to the order id.
		sec := rapid.IntRange(0, 10).Draw(t, "sec")
		return &domain.Order{
			OrderID:           id,
			Side:              side,
			Type:              typ,
			Price:             price,
			Quantity:          10,
			RemainingQuantity: 10,
			Status:            domain.OrderStatusPending,
			PlacedAt:          time.Date(2026, 1, 1, 9, 0, sec, 0, time.UTC),
		}
	})
}

// higherPriority is the reference ordering the index must reproduce.
func higherPriority(a, b *domain.Order) bool {
	if a.Type.IsAuction() != b.Type.IsAuction() {
		return a.Type.IsAuction()
	}
	if a.Price != b.Price {
		if a.Side == domain.OrderSideBuy {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	return a.PlacedBefore(b)
}

func TestProperty_BookPriorityOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		side := rapid.SampledFrom([]domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell}).Draw(t, "side")
		n := rapid.IntRange(1, 40).Draw(t, "n")

		b := newBook()
		orders := make(map[int64]*domain.Order, n)
		for i := 1; i <= n; i++ {
			o := genBookOrder(int64(i), side).Draw(t, fmt.Sprintf("order-%d", i))
			orders[o.OrderID] = o
			b.update(o)
		}

		// Close a random subset; closed orders must vanish from the index.
		for i := 1; i <= n; i++ {
			if rapid.Bool().Draw(t, fmt.Sprintf("close-%d", i)) {
				o := orders[int64(i)]
				o.Status = domain.OrderStatusFilled
				b.update(o)
			}
		}

		var prev *domain.Order
		seen := 0
		b.side(side).Ascend(func(e bookEntry) bool {
			o := orders[e.OrderID]
			if !o.IsOpen() {
				t.Fatalf("closed order %d still indexed", o.OrderID)
			}
			if prev != nil && higherPriority(o, prev) {
				t.Fatalf("order %d ranked after %d but has higher priority", o.OrderID, prev.OrderID)
			}
			prev = o
			seen++
			return true
		})

		open := 0
		for _, o := range orders {
			if o.IsOpen() {
				open++
			}
		}
		if seen != open || len(b.index) != open {
			t.Fatalf("expected %d indexed orders, walked %d, index has %d", open, seen, len(b.index))
		}
	})
}
