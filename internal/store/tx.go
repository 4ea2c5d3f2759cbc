package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/efreitasn/bourse/internal/domain"
)

var (
	// ErrNotLocked is returned when a transaction writes a row whose lock it
	// did not declare in Begin.
	ErrNotLocked = errors.New("row not locked by transaction")
	// ErrTxDone is returned when a committed or rolled back transaction is used.
	ErrTxDone = errors.New("transaction already finished")
)

// Tx is a ledger transaction. Reads return copies; writes are buffered and
// become visible to other readers only on Commit. A Tx must end with Commit
// or Rollback, which release its row locks.
type Tx struct {
	ledger *Ledger
	keys   []Key
	locked map[Key]struct{}

	accounts    map[string]*domain.Account
	instruments map[string]*domain.Instrument
	bands       map[string]*domain.PriceBand
	orders      map[int64]*domain.Order
	newOrders   map[int64]struct{}
	trades      []*domain.Trade
	done        bool
}

func (tx *Tx) requireLock(k Key) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.locked[k]; !ok {
		return fmt.Errorf("%w: %s", ErrNotLocked, k)
	}
	return nil
}

// Account returns the account as seen by this transaction.
func (tx *Tx) Account(id string) (*domain.Account, error) {
	if a, ok := tx.accounts[id]; ok {
		return a.Clone(), nil
	}
	return tx.ledger.Account(id)
}

// InsertAccount stages a new account. It returns
// domain.ErrAccountAlreadyExists if the id is taken.
func (tx *Tx) InsertAccount(a *domain.Account) error {
	if err := tx.requireLock(AccountKey(a.AccountID)); err != nil {
		return err
	}
	if _, err := tx.Account(a.AccountID); err == nil {
		return domain.ErrAccountAlreadyExists
	}
	tx.accounts[a.AccountID] = a.Clone()
	return nil
}

// SaveAccount stages an update of an account.
func (tx *Tx) SaveAccount(a *domain.Account) error {
	if err := tx.requireLock(AccountKey(a.AccountID)); err != nil {
		return err
	}
	tx.accounts[a.AccountID] = a.Clone()
	return nil
}

// Instrument returns the instrument as seen by this transaction.
func (tx *Tx) Instrument(symbol string) (*domain.Instrument, error) {
	if i, ok := tx.instruments[symbol]; ok {
		c := *i
		return &c, nil
	}
	return tx.ledger.Instrument(symbol)
}

// InsertInstrument stages a new instrument. It returns
// domain.ErrInstrumentAlreadyExists if the symbol is taken.
func (tx *Tx) InsertInstrument(i *domain.Instrument) error {
	if err := tx.requireLock(InstrumentKey(i.Symbol)); err != nil {
		return err
	}
	if _, err := tx.Instrument(i.Symbol); err == nil {
		return domain.ErrInstrumentAlreadyExists
	}
	c := *i
	tx.instruments[i.Symbol] = &c
	return nil
}

// SaveInstrument stages an update of an instrument.
func (tx *Tx) SaveInstrument(i *domain.Instrument) error {
	if err := tx.requireLock(InstrumentKey(i.Symbol)); err != nil {
		return err
	}
	c := *i
	tx.instruments[i.Symbol] = &c
	return nil
}

// Band returns the band of symbol for date as seen by this transaction.
func (tx *Tx) Band(symbol, date string) (*domain.PriceBand, error) {
	if b, ok := tx.bands[bandKey(symbol, date)]; ok {
		c := *b
		return &c, nil
	}
	return tx.ledger.Band(symbol, date)
}

// SaveBand stages a band insert or update. It requires the instrument lock.
func (tx *Tx) SaveBand(b *domain.PriceBand) error {
	if err := tx.requireLock(InstrumentKey(b.Symbol)); err != nil {
		return err
	}
	c := *b
	tx.bands[bandKey(b.Symbol, b.Date)] = &c
	return nil
}

// Order returns the order as seen by this transaction.
func (tx *Tx) Order(id int64) (*domain.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o.Clone(), nil
	}
	return tx.ledger.Order(id)
}

// InsertOrder assigns the next order id to o and stages it. It requires the
// lock of the owning account.
func (tx *Tx) InsertOrder(o *domain.Order) error {
	if err := tx.requireLock(AccountKey(o.AccountID)); err != nil {
		return err
	}
	o.OrderID = tx.ledger.lastOrderID.Add(1)
	tx.orders[o.OrderID] = o.Clone()
	tx.newOrders[o.OrderID] = struct{}{}
	return nil
}

// SaveOrder stages an update of an existing order.
func (tx *Tx) SaveOrder(o *domain.Order) error {
	if _, inserted := tx.newOrders[o.OrderID]; !inserted {
		if err := tx.requireLock(OrderKey(o.OrderID)); err != nil {
			return err
		}
	}
	tx.orders[o.OrderID] = o.Clone()
	return nil
}

// InsertTrade assigns the next trade id to t and stages it. It requires the
// instrument lock.
func (tx *Tx) InsertTrade(t *domain.Trade) error {
	if err := tx.requireLock(InstrumentKey(t.Symbol)); err != nil {
		return err
	}
	t.TradeID = tx.ledger.lastTradeID.Add(1)
	c := *t
	tx.trades = append(tx.trades, &c)
	return nil
}

// OpenSellQuantity returns the remaining quantity of the account's open
// sells on symbol, excluding the order excludeID. It requires the account
// lock so that the sum cannot change underneath the caller.
func (tx *Tx) OpenSellQuantity(accountID, symbol string, excludeID int64) (int64, error) {
	if err := tx.requireLock(AccountKey(accountID)); err != nil {
		return 0, err
	}

	var total int64
	count := func(o *domain.Order) {
		if o.OrderID == excludeID || o.Symbol != symbol || o.Side != domain.OrderSideSell || !o.IsOpen() {
			return
		}
		total += o.RemainingQuantity
	}

	tx.ledger.mu.RLock()
	for _, id := range tx.ledger.accountOrders[accountID] {
		if _, staged := tx.orders[id]; staged {
			continue
		}
		count(tx.ledger.orders[id])
	}
	tx.ledger.mu.RUnlock()

	for _, o := range tx.orders {
		if o.AccountID == accountID {
			count(o)
		}
	}
	return total, nil
}

// Commit journals the staged rows, publishes them and releases the row
// locks. If the journal write fails nothing is published and the error
// wraps domain.ErrTransientStore.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.finish()

	m := tx.mutation()
	if m.empty() {
		return nil
	}
	if err := tx.ledger.journal.Write(m); err != nil {
		return fmt.Errorf("%w: journal write: %w", domain.ErrTransientStore, err)
	}
	tx.ledger.apply(m)
	return nil
}

// Rollback discards the staged rows and releases the row locks. It is a
// no-op on a finished transaction.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	tx.ledger.locks.releaseAll(tx.keys)
}

func (tx *Tx) mutation() *Mutation {
	m := &Mutation{Trades: tx.trades}
	for _, a := range tx.accounts {
		m.Accounts = append(m.Accounts, a)
	}
	for _, i := range tx.instruments {
		m.Instruments = append(m.Instruments, i)
	}
	for _, b := range tx.bands {
		m.Bands = append(m.Bands, b)
	}
	for _, o := range tx.orders {
		m.Orders = append(m.Orders, o)
	}
	// New orders must be indexed per account in id order.
	sort.Slice(m.Orders, func(i, j int) bool { return m.Orders[i].OrderID < m.Orders[j].OrderID })
	return m
}
