package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Key identifies a lockable ledger row.
type Key string

// AccountKey is the lock key of an account row. Holding it is required to
// write the account or to insert orders owned by it.
func AccountKey(accountID string) Key { return Key("account/" + accountID) }

// InstrumentKey is the lock key of an instrument row. It also covers the
// instrument's price bands and trades.
func InstrumentKey(symbol string) Key { return Key("instrument/" + symbol) }

// OrderKey is the lock key of an order row.
func OrderKey(orderID int64) Key { return Key(fmt.Sprintf("order/%020d", orderID)) }

type rowLock struct {
	sem  chan struct{}
	refs int
}

// lockTable hands out exclusive row locks. Entries are reference counted
// and dropped once nobody holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[Key]*rowLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[Key]*rowLock)}
}

// acquireAll locks every key in sorted order, so concurrent transactions
// cannot deadlock. On failure nothing stays locked.
func (t *lockTable) acquireAll(ctx context.Context, keys []Key) ([]Key, error) {
	sorted := make([]Key, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for i, k := range sorted {
		if err := t.acquire(ctx, k); err != nil {
			t.releaseAll(sorted[:i])
			return nil, err
		}
	}
	return sorted, nil
}

func (t *lockTable) acquire(ctx context.Context, k Key) error {
	t.mu.Lock()
	l, ok := t.locks[k]
	if !ok {
		l = &rowLock{sem: make(chan struct{}, 1)}
		t.locks[k] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.unref(k, l)
		return ctx.Err()
	}
}

func (t *lockTable) releaseAll(keys []Key) {
	for _, k := range keys {
		t.mu.Lock()
		l := t.locks[k]
		t.mu.Unlock()
		<-l.sem
		t.unref(k, l)
	}
}

func (t *lockTable) unref(k Key, l *rowLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, k)
	}
}
