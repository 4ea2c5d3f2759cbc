package events

import (
	"log/slog"
	"sync"
)

// Subscription receives values broadcast by a Hub. C is closed on
// Unsubscribe.
type Subscription[T any] struct {
	C chan T
}

// Hub fans values out to subscribers. A subscriber whose buffer is full
// misses the value instead of stalling the broadcaster.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	sub := &Subscription[T]{C: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

func (h *Hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.C <- value:
		default:
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Bus is the engine's Publisher: every event goes to the live hub and, when
// configured, to the durable outbox.
type Bus struct {
	hub    *Hub[Event]
	outbox *Outbox
	logger *slog.Logger
}

// NewBus creates a Bus. outbox may be nil.
func NewBus(outbox *Outbox, logger *slog.Logger) *Bus {
	return &Bus{hub: NewHub[Event](), outbox: outbox, logger: logger}
}

// Hub returns the live fan-out hub.
func (b *Bus) Hub() *Hub[Event] {
	return b.hub
}

func (b *Bus) Publish(e Event) {
	b.hub.Broadcast(e)
	if b.outbox == nil {
		return
	}
	if _, err := b.outbox.Append(e); err != nil {
		b.logger.Error("outbox append failed",
			slog.String("event_id", e.ID.String()),
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}
