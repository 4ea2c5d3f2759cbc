package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/store"
)

var testDay = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

var testRules = domain.TradingRules{LotSize: 10, TickSize: 100, BandPercent: 7}

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

// fakeNotifier records the symbols a matching pass was requested for.
type fakeNotifier struct {
	mu      sync.Mutex
	symbols []string
}

func (n *fakeNotifier) Notify(symbol string) {
	n.mu.Lock()
	n.symbols = append(n.symbols, symbol)
	n.mu.Unlock()
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.symbols)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	ledger      *store.Ledger
	locks       *engine.InstrumentLocks
	now         time.Time
	clock       domain.Clock
	phase       *stubPhase
	notifier    *fakeNotifier
	pub         *recorder
	orders      *OrderService
	accounts    *AccountService
	instruments *InstrumentService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestEnv creates the services over a fresh ledger with VNM listed at a
// 10,000 reference, band [9,300, 10,700], during the continuous phase.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger, err := store.NewLedger(nil)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	e := &testEnv{
		ledger:   ledger,
		locks:    engine.NewInstrumentLocks(),
		now:      testDay,
		phase:    &stubPhase{p: domain.PhaseContinuous},
		notifier: &fakeNotifier{},
		pub:      &recorder{},
	}
	e.clock = domain.NewClock(time.UTC, func() time.Time { return e.now })
	logger := discardLogger()
	e.orders = NewOrderService(ledger, e.locks, testRules, e.phase, e.clock, e.notifier, e.pub, logger)
	e.accounts = NewAccountService(ledger, e.clock, logger)
	e.instruments = NewInstrumentService(ledger, testRules, e.phase, e.clock, e.notifier, e.pub, logger)

	if _, err := e.instruments.Register(context.Background(), RegisterInstrumentRequest{
		Symbol:      "VNM",
		TotalShares: 1_000_000,
		Reference:   10_000,
	}); err != nil {
		t.Fatalf("register VNM: %v", err)
	}
	return e
}

// matchers returns real matchers over the env's ledger and locks.
func (e *testEnv) matchers() (*engine.ContinuousMatcher, *engine.AuctionMatcher) {
	logger := discardLogger()
	settler := engine.NewSettler(e.ledger, e.clock)
	return engine.NewContinuousMatcher(e.ledger, settler, e.locks, e.phase, e.clock, e.pub, logger),
		engine.NewAuctionMatcher(e.ledger, settler, e.locks, e.clock, engine.TieBreakReference, e.pub, logger)
}

func (e *testEnv) tick() {
	e.now = e.now.Add(time.Second)
}

func (e *testEnv) account(t *testing.T, id string, cash int64, holdings ...HoldingInput) {
	t.Helper()
	if _, err := e.accounts.Register(context.Background(), RegisterAccountRequest{
		AccountID:       id,
		InitialCash:     cash,
		InitialHoldings: holdings,
	}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func (e *testEnv) place(t *testing.T, acct string, side domain.OrderSide, typ domain.OrderType, price, qty int64) *domain.Order {
	t.Helper()
	o, err := e.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		AccountID: acct,
		Symbol:    "VNM",
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return o
}

func (e *testEnv) cash(t *testing.T, id string) int64 {
	t.Helper()
	a, err := e.ledger.Account(id)
	if err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
	return a.CashBalance
}

// codeOf returns the validation code of err, or "".
func codeOf(err error) string {
	var v *domain.ValidationError
	if errors.As(err, &v) {
		return v.Code
	}
	return ""
}

func int64Ptr(v int64) *int64 { return &v }
