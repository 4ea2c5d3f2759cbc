package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

// Matcher runs one matching pass for a symbol.
type Matcher interface {
	Match(ctx context.Context, symbol string) ([]*domain.Trade, error)
}

type symbolState struct {
	armed   bool // debounce timer pending
	queued  bool
	running bool
	dirty   bool // notified while running
}

// Dispatcher is the matching worker pool. Notify marks a symbol dirty;
// workers pick dirty symbols off a bounded queue and run a matching pass.
// A symbol is never queued twice, and a symbol notified during its own pass
// is re-queued exactly once after the pass, so at most one pass per symbol
// is in flight. Symbols notified before Start wait and are queued when the
// workers start; Notify never blocks on them.
type Dispatcher struct {
	matcher  Matcher
	workers  int
	debounce time.Duration
	logger   *slog.Logger
	queue    chan string

	mu      sync.Mutex
	state   map[string]*symbolState
	started bool
	stop    <-chan struct{}
	waiting []string // queued before Start
}

func NewDispatcher(matcher Matcher, workers, queueSize int, debounce time.Duration, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		matcher:  matcher,
		workers:  workers,
		debounce: debounce,
		logger:   logger,
		queue:    make(chan string, queueSize),
		state:    make(map[string]*symbolState),
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.started = true
	d.stop = ctx.Done()
	waiting := d.waiting
	d.waiting = nil
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}
	if len(waiting) == 0 {
		return
	}
	go func() {
		for _, symbol := range waiting {
			select {
			case d.queue <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Notify requests a matching pass for symbol.
func (d *Dispatcher) Notify(symbol string) {
	d.mu.Lock()
	st := d.stateFor(symbol)
	switch {
	case st.armed || st.queued:
		d.mu.Unlock()
		return
	case st.running:
		st.dirty = true
		d.mu.Unlock()
		return
	case d.debounce > 0:
		st.armed = true
		d.mu.Unlock()
		time.AfterFunc(d.debounce, func() {
			d.mu.Lock()
			st.armed = false
			d.mu.Unlock()
			d.enqueue(symbol)
		})
		return
	}
	d.mu.Unlock()
	d.enqueue(symbol)
}

func (d *Dispatcher) stateFor(symbol string) *symbolState {
	st, ok := d.state[symbol]
	if !ok {
		st = &symbolState{}
		d.state[symbol] = st
	}
	return st
}

// enqueue puts symbol on the queue unless it is already queued or running.
func (d *Dispatcher) enqueue(symbol string) {
	d.mu.Lock()
	st := d.stateFor(symbol)
	if st.queued {
		d.mu.Unlock()
		return
	}
	if st.running {
		st.dirty = true
		d.mu.Unlock()
		return
	}
	st.queued = true
	if !d.started {
		d.waiting = append(d.waiting, symbol)
		d.mu.Unlock()
		return
	}
	stop := d.stop
	d.mu.Unlock()

	select {
	case d.queue <- symbol:
	case <-stop:
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case symbol := <-d.queue:
			d.run(ctx, symbol)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, symbol string) {
	d.mu.Lock()
	st := d.stateFor(symbol)
	st.queued = false
	st.running = true
	d.mu.Unlock()

	trades, err := d.matcher.Match(ctx, symbol)
	if err != nil {
		d.logger.Error("matching pass failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	} else if len(trades) > 0 {
		d.logger.Info("matching pass completed",
			slog.String("symbol", symbol),
			slog.Int("trades", len(trades)),
		)
	}

	d.mu.Lock()
	st.running = false
	again := st.dirty
	st.dirty = false
	d.mu.Unlock()

	if again {
		// A worker must not block on its own queue.
		go d.enqueue(symbol)
	}
}
