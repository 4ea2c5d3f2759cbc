package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/efreitasn/bourse/internal/domain"
)

// Mutation is the set of rows written by one committed transaction, or the
// full ledger contents when returned by Journal.Load.
type Mutation struct {
	Accounts    []*domain.Account
	Instruments []*domain.Instrument
	Bands       []*domain.PriceBand
	Orders      []*domain.Order
	Trades      []*domain.Trade
}

func (m *Mutation) empty() bool {
	return len(m.Accounts) == 0 && len(m.Instruments) == 0 && len(m.Bands) == 0 &&
		len(m.Orders) == 0 && len(m.Trades) == 0
}

// Journal persists committed mutations. Write must be atomic: either every
// row of m is durable or none is.
type Journal interface {
	Write(m *Mutation) error
	Load() (*Mutation, error)
}

// memJournal keeps nothing; the ledger is memory-only.
type memJournal struct{}

func (memJournal) Write(*Mutation) error    { return nil }
func (memJournal) Load() (*Mutation, error) { return &Mutation{}, nil }

const (
	prefixAccount    = "ledger/account/"
	prefixInstrument = "ledger/instrument/"
	prefixBand       = "ledger/band/"
	prefixOrder      = "ledger/order/"
	prefixTrade      = "ledger/trade/"
)

// PebbleJournal stores ledger rows in a pebble database, one key per row and
// one batch per transaction. The database may be shared with other
// components that use their own key prefixes.
type PebbleJournal struct {
	db   *pebble.DB
	opts *pebble.WriteOptions
}

// NewPebbleJournal wraps db. With syncWrites each batch is fsynced before
// Write returns.
func NewPebbleJournal(db *pebble.DB, syncWrites bool) *PebbleJournal {
	opts := pebble.NoSync
	if syncWrites {
		opts = pebble.Sync
	}
	return &PebbleJournal{db: db, opts: opts}
}

// Write commits every row of m in a single batch.
func (j *PebbleJournal) Write(m *Mutation) error {
	b := j.db.NewBatch()
	defer b.Close()

	for _, a := range m.Accounts {
		if err := setJSON(b, prefixAccount+a.AccountID, a); err != nil {
			return err
		}
	}
	for _, i := range m.Instruments {
		if err := setJSON(b, prefixInstrument+i.Symbol, i); err != nil {
			return err
		}
	}
	for _, band := range m.Bands {
		if err := setJSON(b, prefixBand+band.Symbol+"/"+band.Date, band); err != nil {
			return err
		}
	}
	for _, o := range m.Orders {
		if err := setJSON(b, fmt.Sprintf("%s%020d", prefixOrder, o.OrderID), o); err != nil {
			return err
		}
	}
	for _, t := range m.Trades {
		if err := setJSON(b, fmt.Sprintf("%s%020d", prefixTrade, t.TradeID), t); err != nil {
			return err
		}
	}
	return b.Commit(j.opts)
}

func setJSON(b *pebble.Batch, key string, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Set([]byte(key), val, nil)
}

// Load reads back every ledger row. Orders and trades come back in id order.
func (j *PebbleJournal) Load() (*Mutation, error) {
	m := &Mutation{}
	err := scanPrefix(j.db, prefixAccount, func(val []byte) error {
		var a domain.Account
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		if a.Holdings == nil {
			a.Holdings = make(map[string]int64)
		}
		m.Accounts = append(m.Accounts, &a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	err = scanPrefix(j.db, prefixInstrument, func(val []byte) error {
		var i domain.Instrument
		if err := json.Unmarshal(val, &i); err != nil {
			return err
		}
		m.Instruments = append(m.Instruments, &i)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	err = scanPrefix(j.db, prefixBand, func(val []byte) error {
		var b domain.PriceBand
		if err := json.Unmarshal(val, &b); err != nil {
			return err
		}
		m.Bands = append(m.Bands, &b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load bands: %w", err)
	}
	err = scanPrefix(j.db, prefixOrder, func(val []byte) error {
		var o domain.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		m.Orders = append(m.Orders, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	err = scanPrefix(j.db, prefixTrade, func(val []byte) error {
		var t domain.Trade
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		m.Trades = append(m.Trades, &t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	return m, nil
}

func scanPrefix(db *pebble.DB, prefix string, fn func(val []byte) error) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}
