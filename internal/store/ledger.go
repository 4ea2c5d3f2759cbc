package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/bourse/internal/domain"
)

// Ledger is the transactional store of accounts, instruments, price bands,
// orders and trades. Committed state lives in memory behind a RWMutex and is
// mirrored to a Journal; writes go through a Tx holding row locks.
type Ledger struct {
	journal Journal
	locks   *lockTable

	mu            sync.RWMutex
	accounts      map[string]*domain.Account
	instruments   map[string]*domain.Instrument
	bands         map[string]*domain.PriceBand // symbol/date → band
	orders        map[int64]*domain.Order
	accountOrders map[string][]int64         // account → order ids, placement order
	trades        map[string][]*domain.Trade // symbol → trades, execution order
	books         map[string]*book

	lastOrderID atomic.Int64
	lastTradeID atomic.Int64
}

// NewLedger creates a ledger backed by j and restores the rows j holds.
// A nil journal yields a memory-only ledger.
func NewLedger(j Journal) (*Ledger, error) {
	if j == nil {
		j = memJournal{}
	}
	l := &Ledger{
		journal:       j,
		locks:         newLockTable(),
		accounts:      make(map[string]*domain.Account),
		instruments:   make(map[string]*domain.Instrument),
		bands:         make(map[string]*domain.PriceBand),
		orders:        make(map[int64]*domain.Order),
		accountOrders: make(map[string][]int64),
		trades:        make(map[string][]*domain.Trade),
		books:         make(map[string]*book),
	}

	m, err := j.Load()
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	l.apply(m)
	for _, o := range m.Orders {
		if o.OrderID > l.lastOrderID.Load() {
			l.lastOrderID.Store(o.OrderID)
		}
	}
	for _, t := range m.Trades {
		if t.TradeID > l.lastTradeID.Load() {
			l.lastTradeID.Store(t.TradeID)
		}
	}
	return l, nil
}

// Begin starts a transaction holding the row locks for keys. It blocks until
// every lock is held or ctx is done.
func (l *Ledger) Begin(ctx context.Context, keys ...Key) (*Tx, error) {
	held, err := l.locks.acquireAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	tx := &Tx{
		ledger:      l,
		keys:        held,
		locked:      make(map[Key]struct{}, len(held)),
		accounts:    make(map[string]*domain.Account),
		instruments: make(map[string]*domain.Instrument),
		bands:       make(map[string]*domain.PriceBand),
		orders:      make(map[int64]*domain.Order),
		newOrders:   make(map[int64]struct{}),
	}
	for _, k := range held {
		tx.locked[k] = struct{}{}
	}
	return tx, nil
}

// Update runs fn inside a transaction and commits it when fn returns nil.
func (l *Ledger) Update(ctx context.Context, keys []Key, fn func(tx *Tx) error) error {
	tx, err := l.Begin(ctx, keys...)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// apply installs committed rows. The journal write has already succeeded.
func (l *Ledger) apply(m *Mutation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, a := range m.Accounts {
		l.accounts[a.AccountID] = a
	}
	for _, i := range m.Instruments {
		l.instruments[i.Symbol] = i
	}
	for _, b := range m.Bands {
		l.bands[bandKey(b.Symbol, b.Date)] = b
	}
	for _, o := range m.Orders {
		if _, exists := l.orders[o.OrderID]; !exists {
			l.accountOrders[o.AccountID] = append(l.accountOrders[o.AccountID], o.OrderID)
		}
		l.orders[o.OrderID] = o
		l.bookFor(o.Symbol).update(o)
	}
	for _, t := range m.Trades {
		l.trades[t.Symbol] = append(l.trades[t.Symbol], t)
	}
}

func (l *Ledger) bookFor(symbol string) *book {
	b, ok := l.books[symbol]
	if !ok {
		b = newBook()
		l.books[symbol] = b
	}
	return b
}

func bandKey(symbol, date string) string {
	return symbol + "/" + date
}

// Account returns a copy of the committed account.
func (l *Ledger) Account(id string) (*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a.Clone(), nil
}

// Instrument returns a copy of the committed instrument.
func (l *Ledger) Instrument(symbol string) (*domain.Instrument, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.instruments[symbol]
	if !ok {
		return nil, domain.ErrInstrumentNotFound
	}
	c := *i
	return &c, nil
}

// Instruments returns every instrument sorted by symbol. If status is
// non-nil only instruments in that status are included.
func (l *Ledger) Instruments(status *domain.InstrumentStatus) []*domain.Instrument {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*domain.Instrument, 0, len(l.instruments))
	for _, i := range l.instruments {
		if status != nil && i.Status != *status {
			continue
		}
		c := *i
		result = append(result, &c)
	}
	sort.Slice(result, func(a, b int) bool { return result[a].Symbol < result[b].Symbol })
	return result
}

// Band returns a copy of the band of symbol for date.
func (l *Ledger) Band(symbol, date string) (*domain.PriceBand, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.bands[bandKey(symbol, date)]
	if !ok {
		return nil, domain.ErrBandNotFound
	}
	c := *b
	return &c, nil
}

// PreviousBand returns the latest band of symbol dated strictly before date.
func (l *Ledger) PreviousBand(symbol, date string) (*domain.PriceBand, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest *domain.PriceBand
	for _, b := range l.bands {
		if b.Symbol != symbol || b.Date >= date {
			continue
		}
		if latest == nil || b.Date > latest.Date {
			latest = b
		}
	}
	if latest == nil {
		return nil, domain.ErrBandNotFound
	}
	c := *latest
	return &c, nil
}

// Order returns a copy of the committed order.
func (l *Ledger) Order(id int64) (*domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// OrdersByAccount returns an account's orders newest first. If status is
// non-nil, only orders matching that status are included. Pagination is
// 1-based. It returns the requested page and the total number of matching
// orders.
func (l *Ledger) OrdersByAccount(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.accountOrders[accountID]
	filtered := make([]*domain.Order, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		o := l.orders[ids[i]]
		if status != nil && o.Status != *status {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	result := make([]*domain.Order, 0, end-start)
	for _, o := range filtered[start:end] {
		result = append(result, o.Clone())
	}
	return result, total
}

// OpenOrdersByAccount returns copies of the account's open orders.
func (l *Ledger) OpenOrdersByAccount(accountID string) []*domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.Order
	for _, id := range l.accountOrders[accountID] {
		if o := l.orders[id]; o.IsOpen() {
			result = append(result, o.Clone())
		}
	}
	return result
}

// OpenOrders returns copies of the open orders on one side of symbol in
// priority order: auction orders first, then best price, then earliest
// placement.
func (l *Ledger) OpenOrders(symbol string, side domain.OrderSide) []*domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.books[symbol]
	if !ok {
		return nil
	}
	var result []*domain.Order
	b.side(side).Ascend(func(e bookEntry) bool {
		result = append(result, l.orders[e.OrderID].Clone())
		return true
	})
	return result
}

// Depth returns up to n aggregated limit price levels per side of symbol.
func (l *Ledger) Depth(symbol string, n int) (bids, asks []PriceLevel) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.books[symbol]
	if !ok {
		return []PriceLevel{}, []PriceLevel{}
	}
	return topLevels(b.bids, l.orders, n), topLevels(b.asks, l.orders, n)
}

// Trades returns the trades of symbol in execution order.
func (l *Ledger) Trades(symbol string) []*domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trades := l.trades[symbol]
	result := make([]*domain.Trade, len(trades))
	for i, t := range trades {
		c := *t
		result[i] = &c
	}
	return result
}
