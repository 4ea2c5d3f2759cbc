package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

// fatalHelper is satisfied by *testing.T and *rapid.T.
type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

var testDay = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

type stubPhase struct {
	mu sync.Mutex
	p  domain.Phase
}

func (s *stubPhase) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

func (s *stubPhase) set(p domain.Phase) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(typ events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// flakyJournal fails writes while fail is set.
type flakyJournal struct {
	fail atomic.Bool
}

func (j *flakyJournal) Write(*store.Mutation) error {
	if j.fail.Load() {
		return errors.New("journal unavailable")
	}
	return nil
}

func (j *flakyJournal) Load() (*store.Mutation, error) { return &store.Mutation{}, nil }

type testEnv struct {
	ledger     *store.Ledger
	journal    *flakyJournal
	clock      domain.Clock
	phase      *stubPhase
	pub        *recorder
	locks      *InstrumentLocks
	settler    *Settler
	continuous *ContinuousMatcher
	auction    *AuctionMatcher
	placed     int
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestEnv creates an engine over a fresh ledger with instrument VNM
// trading in the band [9,300, 10,700] around a 10,000 reference.
func newTestEnv(t fatalHelper) *testEnv {
	t.Helper()
	j := &flakyJournal{}
	ledger, err := store.NewLedger(j)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	e := &testEnv{
		ledger:  ledger,
		journal: j,
		clock:   domain.NewClock(time.UTC, func() time.Time { return testDay }),
		phase:   &stubPhase{p: domain.PhaseContinuous},
		pub:     &recorder{},
		locks:   NewInstrumentLocks(),
	}
	e.settler = NewSettler(ledger, e.clock)
	e.continuous = NewContinuousMatcher(ledger, e.settler, e.locks, e.phase, e.clock, e.pub, discardLogger())
	e.auction = NewAuctionMatcher(ledger, e.settler, e.locks, e.clock, TieBreakReference, e.pub, discardLogger())
	e.listInstrument(t, "VNM", 10_000)
	return e
}

func (e *testEnv) listInstrument(t fatalHelper, symbol string, reference int64) {
	t.Helper()
	rules := domain.TradingRules{LotSize: 10, TickSize: 100, BandPercent: 7}
	err := e.ledger.Update(context.Background(), []store.Key{store.InstrumentKey(symbol)}, func(tx *store.Tx) error {
		if err := tx.InsertInstrument(&domain.Instrument{Symbol: symbol, TotalShares: 1_000_000, Status: domain.InstrumentTrading}); err != nil {
			return err
		}
		return tx.SaveBand(rules.Band(symbol, domain.DateKey(testDay), reference))
	})
	if err != nil {
		t.Fatalf("list %s: %v", symbol, err)
	}
}

func (e *testEnv) account(t fatalHelper, id string, cash int64, holdings map[string]int64) {
	t.Helper()
	if holdings == nil {
		holdings = map[string]int64{}
	}
	err := e.ledger.Update(context.Background(), []store.Key{store.AccountKey(id)}, func(tx *store.Tx) error {
		return tx.InsertAccount(&domain.Account{AccountID: id, CashBalance: cash, Holdings: holdings})
	})
	if err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
}

// place books an accepted order the way intake does: buys debit their
// reservation, auction buys reserve at the ceiling. Each call is placed one
// millisecond after the previous one.
func (e *testEnv) place(t fatalHelper, accountID string, side domain.OrderSide, typ domain.OrderType, price, qty int64) *domain.Order {
	t.Helper()
	band, err := e.ledger.Band("VNM", domain.DateKey(testDay))
	if err != nil {
		t.Fatalf("band: %v", err)
	}
	e.placed++
	o := &domain.Order{
		AccountID:         accountID,
		Symbol:            "VNM",
		Side:              side,
		Type:              typ,
		Price:             price,
		ReservedPrice:     price,
		Quantity:          qty,
		RemainingQuantity: qty,
		Status:            domain.OrderStatusPending,
		PlacedAt:          testDay.Add(time.Duration(e.placed) * time.Millisecond),
	}
	if typ.IsAuction() {
		o.ReservedPrice = band.Ceiling
	}
	err = e.ledger.Update(context.Background(), []store.Key{store.AccountKey(accountID)}, func(tx *store.Tx) error {
		if side == domain.OrderSideBuy {
			a, err := tx.Account(accountID)
			if err != nil {
				return err
			}
			a.CashBalance -= o.ReservedPrice * qty
			if a.CashBalance < 0 {
				return domain.ErrInsufficientFunds
			}
			if err := tx.SaveAccount(a); err != nil {
				return err
			}
		}
		return tx.InsertOrder(o)
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return o
}

func (e *testEnv) cash(t fatalHelper, id string) int64 {
	t.Helper()
	a, err := e.ledger.Account(id)
	if err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
	return a.CashBalance
}

func (e *testEnv) holding(t fatalHelper, id, symbol string) int64 {
	t.Helper()
	a, err := e.ledger.Account(id)
	if err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
	return a.Holding(symbol)
}

func (e *testEnv) order(t fatalHelper, id int64) *domain.Order {
	t.Helper()
	o, err := e.ledger.Order(id)
	if err != nil {
		t.Fatalf("order %d: %v", id, err)
	}
	return o
}
