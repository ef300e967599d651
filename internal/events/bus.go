package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives a published event. Handlers run synchronously on the
// publishing goroutine and must not block; slow consumers (e.g. the SSE
// handler) are expected to buffer into their own channel.
type Handler func(*Event)

// Bus is the process-wide event fan-out. It is safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	seq         atomic.Uint64
	log         zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Handler),
		log:         log.With().Str("component", "events_bus").Logger(),
	}
}

// Subscribe registers handler for events of the given type. The returned
// function unsubscribes it.
func (b *Bus) Subscribe(t EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[t] = append(b.subscribers[t], handler)
	idx := len(b.subscribers[t]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[t]
		if idx < 0 || idx >= len(handlers) {
			return
		}
		b.subscribers[t] = append(handlers[:idx], handlers[idx+1:]...)
	}
}

// Publish assigns the next sequence number, timestamps the payload, and
// fans it out to every subscriber of its type. Publish never blocks on a
// slow subscriber beyond the time that subscriber's own handler takes.
func (b *Bus) Publish(data EventData) *Event {
	evt := &Event{
		Seq:       b.seq.Add(1),
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[evt.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Str("event_type", string(evt.Type)).Msg("event handler panicked")
				}
			}()
			h(evt)
		}()
	}

	return evt
}
