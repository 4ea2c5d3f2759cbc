package engine

import (
	"fmt"
	"sync"

	"github.com/efreitasn/bourse/internal/domain"
)

// InstrumentLocks is a thread-safe map of symbol → mutex. A matching or
// auction pass holds its instrument's mutex for the whole pass, so passes on
// one instrument never overlap.
//
// It also records which auctions have run their final pass, so auction
// orders that arrive too late are refused instead of booked.
type InstrumentLocks struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex

	sealMu sync.Mutex
	sealed map[sealKey]struct{}
}

type sealKey struct {
	symbol string
	kind   domain.AuctionKind
}

func NewInstrumentLocks() *InstrumentLocks {
	return &InstrumentLocks{
		locks:  make(map[string]*sync.Mutex),
		sealed: make(map[sealKey]struct{}),
	}
}

// Lock acquires the mutex of symbol and returns its release function.
func (l *InstrumentLocks) Lock(symbol string) func() {
	m := l.get(symbol)
	m.Lock()
	return m.Unlock
}

// WhileOpen runs fn holding the mutex of symbol. It returns a
// phase_not_eligible error without calling fn once the final kind auction of
// symbol has run.
func (l *InstrumentLocks) WhileOpen(symbol string, kind domain.AuctionKind, fn func() error) error {
	unlock := l.Lock(symbol)
	defer unlock()

	if l.Sealed(symbol, kind) {
		return domain.NewValidationError(domain.CodePhaseNotEligible,
			fmt.Sprintf("the %s auction of %s has concluded", kind, symbol))
	}
	return fn()
}

// Seal records that the final kind auction of symbol has run. Callers hold
// the mutex of symbol.
func (l *InstrumentLocks) Seal(symbol string, kind domain.AuctionKind) {
	l.sealMu.Lock()
	l.sealed[sealKey{symbol, kind}] = struct{}{}
	l.sealMu.Unlock()
}

// Sealed reports whether the final kind auction of symbol has run.
func (l *InstrumentLocks) Sealed(symbol string, kind domain.AuctionKind) bool {
	l.sealMu.Lock()
	defer l.sealMu.Unlock()
	_, ok := l.sealed[sealKey{symbol, kind}]
	return ok
}

// Unseal reopens the kind auction of every instrument.
func (l *InstrumentLocks) Unseal(kind domain.AuctionKind) {
	l.sealMu.Lock()
	defer l.sealMu.Unlock()
	for k := range l.sealed {
		if k.kind == kind {
			delete(l.sealed, k)
		}
	}
}

func (l *InstrumentLocks) get(symbol string) *sync.Mutex {
	l.mu.RLock()
	m, ok := l.locks[symbol]
	l.mu.RUnlock()
	if ok {
		return m
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if m, ok = l.locks[symbol]; ok {
		return m
	}
	m = &sync.Mutex{}
	l.locks[symbol] = m
	return m
}
