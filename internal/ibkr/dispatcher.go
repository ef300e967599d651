package ibkr

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// waiterBufferSize bounds a single request's event queue; the adapter
// drains it continuously so this only absorbs bursts.
const waiterBufferSize = 32

// broadcastBufferSize bounds each standing subscriber's queue (the
// persistent event→DB writer, the ticker dispatcher). A full buffer drops
// the event rather than blocking the broker read loop — acceptable per the
// "never raise through the event loop" contract, since the next event is
// authoritative for both subscribers.
const broadcastBufferSize = 256

// Dispatcher fans inbound broker events out to per-request waiters (the
// event-driven adapter pattern) and to standing broadcast subscribers (the
// event→DB writer, the ticker cache dispatcher). It is the single reader
// of Connection.Events(), so Connection may be safely shared across many
// concurrent Adapter calls.
type Dispatcher struct {
	conn *Connection
	log  zerolog.Logger

	mu        sync.Mutex
	waiters   map[int64]chan InboundEvent
	broadcast map[int]chan InboundEvent
	nextSubID int
}

// NewDispatcher creates a dispatcher bound to conn. Call Run once, in a
// background goroutine, before issuing any requests through an Adapter.
func NewDispatcher(conn *Connection, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conn:      conn,
		log:       log.With().Str("component", "ibkr_dispatcher").Logger(),
		waiters:   make(map[int64]chan InboundEvent),
		broadcast: make(map[int]chan InboundEvent),
	}
}

// Run consumes Connection.Events() until ctx is cancelled. It must run on
// exactly one goroutine — this goroutine IS the broker event loop; handlers
// fed from it must be non-blocking.
func (d *Dispatcher) Run(ctx context.Context) {
	events := d.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			d.route(evt)
		}
	}
}

func (d *Dispatcher) route(evt InboundEvent) {
	if be, ok := evt.(*BrokerError); ok && IsInformational(be.Code) {
		d.log.Debug().Int("code", be.Code).Str("message", be.Message).Msg("swallowed informational broker code")
		return
	}

	d.mu.Lock()
	waiter, hasWaiter := d.waiters[evt.ReqID()]
	subs := make([]chan InboundEvent, 0, len(d.broadcast))
	for _, ch := range d.broadcast {
		subs = append(subs, ch)
	}
	d.mu.Unlock()

	if hasWaiter {
		select {
		case waiter <- evt:
		default:
			d.log.Warn().Int64("req_id", evt.ReqID()).Msg("waiter queue full, dropping event")
		}
	}

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			d.log.Warn().Msg("broadcast subscriber queue full, dropping event")
		}
	}
}

// registerWaiter installs an exclusive listener for reqID. The returned
// cleanup func is idempotent and must be called on every settle path.
func (d *Dispatcher) registerWaiter(reqID int64) (chan InboundEvent, func()) {
	ch := make(chan InboundEvent, waiterBufferSize)

	d.mu.Lock()
	d.waiters[reqID] = ch
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.waiters, reqID)
			d.mu.Unlock()
		})
	}
	return ch, cleanup
}

// Subscribe installs a standing broadcast listener that receives every
// routed event regardless of request id. Used by the persistent event→DB
// writer and the ticker cache dispatcher, both of which attach exactly
// once per process.
func (d *Dispatcher) Subscribe() (chan InboundEvent, func()) {
	ch := make(chan InboundEvent, broadcastBufferSize)

	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.broadcast[id] = ch
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.broadcast, id)
			d.mu.Unlock()
		})
	}
	return ch, cleanup
}
