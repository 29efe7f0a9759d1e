package event

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

// Handler receives events of one type.
type Handler func(Event)

type registration struct {
	id uint64
	h  Handler
}

// typeQueue is the FIFO of one event type. The goroutine that finds it idle
// drains it; publishes that arrive while it drains (including re-entrant
// publishes from a handler) are appended and delivered by the same loop.
type typeQueue struct {
	pending  []Event
	draining bool
	handlers []registration
}

// Bus delivers events synchronously to the handlers registered for their
// type, in registration order. Order is preserved per type only.
type Bus struct {
	mu     sync.Mutex
	queues map[EventType]*typeQueue
	nextID uint64

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewBus(logger zerolog.Logger, metrics *observability.Metrics) *Bus {
	b := &Bus{
		queues:  make(map[EventType]*typeQueue, len(AllEventTypes)),
		logger:  logger,
		metrics: metrics,
	}
	for _, t := range AllEventTypes {
		b.queues[t] = &typeQueue{}
	}
	return b
}

// Subscribe registers h for events of type t and returns its remover.
func (b *Bus) Subscribe(t EventType, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[t]
	if !ok {
		b.logger.Warn().Str("event_type", t.String()).Msg("subscribe to unknown event type ignored")
		return func() {}
	}
	b.nextID++
	id := b.nextID
	q.handlers = append(q.handlers, registration{id: id, h: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, r := range q.handlers {
			if r.id == id {
				q.handlers = append(q.handlers[:i:i], q.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e. When no other delivery of the same type is in
// progress, every handler has run by the time Publish returns.
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	t := e.EventType()

	b.mu.Lock()
	q, ok := b.queues[t]
	if !ok {
		b.mu.Unlock()
		b.metrics.BusDrop(t.String(), "unknown_type")
		return
	}
	q.pending = append(q.pending, e)
	if q.draining {
		b.mu.Unlock()
		return
	}
	q.draining = true

	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		handlers := make([]registration, len(q.handlers))
		copy(handlers, q.handlers)
		b.mu.Unlock()

		for _, r := range handlers {
			b.deliver(r, next)
		}

		b.mu.Lock()
	}
	q.pending = nil
	q.draining = false
	b.mu.Unlock()
}

func (b *Bus) deliver(r registration, e Event) {
	panicked := false
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			b.logger.Error().
				Interface("panic", rec).
				Str("event_type", e.EventType().String()).
				Uint64("handler", r.id).
				Msg("bus handler panicked")
		}
		b.metrics.BusDelivery(e.EventType().String(), panicked)
	}()
	r.h(e)
}

// Pending returns the number of queued events of type t.
func (b *Bus) Pending(t EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[t]; ok {
		return len(q.pending)
	}
	return 0
}
