package store

import (
	"math"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/google/btree"
)

// bookEntry is the position of one open order in its symbol's index.
type bookEntry struct {
	Price    int64 // effective price: auction buys sort first at MaxInt64, auction sells at 0
	PlacedAt time.Time
	OrderID  int64
}

// PriceLevel is an aggregated price level of open limit orders.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// bidLess orders buys by price descending, then placement time, then id.
// Min() is the highest-priority buy.
func bidLess(a, b bookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.PlacedAt.Equal(b.PlacedAt) {
		return a.PlacedAt.Before(b.PlacedAt)
	}
	return a.OrderID < b.OrderID
}

// askLess orders sells by price ascending, then placement time, then id.
func askLess(a, b bookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.PlacedAt.Equal(b.PlacedAt) {
		return a.PlacedAt.Before(b.PlacedAt)
	}
	return a.OrderID < b.OrderID
}

func effectivePrice(o *domain.Order) int64 {
	if !o.Type.IsAuction() {
		return o.Price
	}
	if o.Side == domain.OrderSideBuy {
		return math.MaxInt64
	}
	return 0
}

// book indexes the open orders of a single symbol in priority order.
// It is guarded by the ledger mutex.
type book struct {
	bids  *btree.BTreeG[bookEntry]
	asks  *btree.BTreeG[bookEntry]
	index map[int64]bookEntry
}

func newBook() *book {
	const degree = 32
	return &book{
		bids:  btree.NewG[bookEntry](degree, bidLess),
		asks:  btree.NewG[bookEntry](degree, askLess),
		index: make(map[int64]bookEntry),
	}
}

// update re-indexes o: it is removed, then re-inserted if still open.
// Price or placement time changes therefore move the order.
func (b *book) update(o *domain.Order) {
	b.remove(o.OrderID)
	if !o.IsOpen() {
		return
	}
	entry := bookEntry{Price: effectivePrice(o), PlacedAt: o.PlacedAt, OrderID: o.OrderID}
	b.index[o.OrderID] = entry
	b.side(o.Side).ReplaceOrInsert(entry)
}

func (b *book) remove(orderID int64) {
	entry, ok := b.index[orderID]
	if !ok {
		return
	}
	delete(b.index, orderID)
	b.bids.Delete(entry)
	b.asks.Delete(entry)
}

func (b *book) side(s domain.OrderSide) *btree.BTreeG[bookEntry] {
	if s == domain.OrderSideBuy {
		return b.bids
	}
	return b.asks
}

// topLevels aggregates at most n price levels of limit orders on one side.
func topLevels(tree *btree.BTreeG[bookEntry], orders map[int64]*domain.Order, n int) []PriceLevel {
	levels := make([]PriceLevel, 0, n)
	if n <= 0 {
		return levels
	}
	tree.Ascend(func(entry bookEntry) bool {
		o := orders[entry.OrderID]
		if o.Type.IsAuction() {
			return true
		}
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += o.RemainingQuantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: o.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}
