package ibkr

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SubscriptionKind distinguishes the two standing broker streams the
// registry manages.
type SubscriptionKind string

const (
	KindRealTimeBars    SubscriptionKind = "realTimeBars"
	KindAccountUpdates  SubscriptionKind = "accountUpdates"
)

// maxRealTimeBarSubscriptions matches the broker's own concurrent
// real-time-bar limit.
const maxRealTimeBarSubscriptions = 50

// ringBufferCapacity is ~25 minutes of 5-second bars.
const ringBufferCapacity = 300

// barRing is a fixed-capacity ring buffer of recent bars.
type barRing struct {
	buf  []RealTimeBarEvent
	next int
	full bool
}

func newBarRing() *barRing {
	return &barRing{buf: make([]RealTimeBarEvent, ringBufferCapacity)}
}

func (r *barRing) push(bar RealTimeBarEvent) {
	r.buf[r.next] = bar
	r.next = (r.next + 1) % ringBufferCapacity
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns bars oldest-first.
func (r *barRing) snapshot() []RealTimeBarEvent {
	if !r.full {
		out := make([]RealTimeBarEvent, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]RealTimeBarEvent, ringBufferCapacity)
	copy(out, r.buf[r.next:])
	copy(out[ringBufferCapacity-r.next:], r.buf[:r.next])
	return out
}

// subscriptionEntry is the registry's internal record. Cleanup closures
// registered elsewhere (the dispatcher waiter, the reconnect handler) close
// over the opaque id, never over *subscriptionEntry itself, breaking the
// cyclic reference a closure-holding-its-own-entry would otherwise create.
type subscriptionEntry struct {
	id         string
	kind       SubscriptionKind
	symbol     string
	exchange   string
	reqID      int64
	createdAt  time.Time
	errLatch   error
	bars       *barRing
	cancelFunc func() // invoked on removal; cancels the broker-side stream
}

// Registry is the session layer's exclusive owner of in-flight broker
// subscriptions.
type Registry struct {
	mu sync.Mutex

	byID       map[string]*subscriptionEntry
	byReqID    map[int64]string // reqID -> opaque id
	bySymbol   map[string]string // "SYMBOL|EXCHANGE" -> opaque id, realtime-bars only
	hasAccount bool

	conn *Connection
	disp *Dispatcher
	log  zerolog.Logger
}

func NewRegistry(conn *Connection, disp *Dispatcher, log zerolog.Logger) *Registry {
	r := &Registry{
		byID:     make(map[string]*subscriptionEntry),
		byReqID:  make(map[int64]string),
		bySymbol: make(map[string]string),
		conn:     conn,
		disp:     disp,
		log:      log.With().Str("component", "ibkr_subscriptions").Logger(),
	}
	conn.OnReconnect(r.resubscribeAll)
	return r
}

func dedupeKey(symbol, exchange string) string {
	return symbol + "|" + exchange
}

// SubscribeRealTimeBars installs a new real-time-bar subscription, deduping
// on (symbol, exchange) and enforcing the concurrent cap.
func (r *Registry) SubscribeRealTimeBars(symbol, exchange string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dedupeKey(symbol, exchange)
	if existing, ok := r.bySymbol[key]; ok {
		return existing, nil
	}

	count := 0
	for _, e := range r.byID {
		if e.kind == KindRealTimeBars {
			count++
		}
	}
	if count >= maxRealTimeBarSubscriptions {
		return "", fmt.Errorf("real-time-bar subscription cap (%d) reached", maxRealTimeBarSubscriptions)
	}

	reqID := r.conn.GetNextReqID()
	id := uuid.NewString()

	entry := &subscriptionEntry{
		id: id, kind: KindRealTimeBars, symbol: symbol, exchange: exchange,
		reqID: reqID, createdAt: time.Now(), bars: newBarRing(),
	}

	if err := r.installRealTimeBarListener(entry); err != nil {
		return "", err
	}

	r.byID[id] = entry
	r.byReqID[reqID] = id
	r.bySymbol[key] = id

	return id, nil
}

// installRealTimeBarListener attaches the broadcast listener that feeds
// bars for this entry's reqID into its ring buffer, and issues the broker
// request. Must be called with r.mu held.
func (r *Registry) installRealTimeBarListener(entry *subscriptionEntry) error {
	sub, cleanupSub := r.disp.Subscribe()
	stop := make(chan struct{})
	id, reqID := entry.id, entry.reqID

	go func() {
		for {
			select {
			case <-stop:
				cleanupSub()
				return
			case evt := <-sub:
				bar, ok := evt.(*RealTimeBarEvent)
				if !ok || bar.RequestID != reqID {
					continue
				}
				r.mu.Lock()
				if live, found := r.byID[id]; found {
					live.bars.push(*bar)
				}
				r.mu.Unlock()
			}
		}
	}()

	entry.cancelFunc = func() {
		close(stop)
		_ = r.conn.Send(OutboundMessage{Kind: "cancel_real_time_bars", ReqID: reqID})
	}

	return r.conn.Send(OutboundMessage{
		Kind:  "req_real_time_bars",
		ReqID: reqID,
		Payload: map[string]string{"symbol": entry.symbol, "exchange": entry.exchange},
	})
}

// SubscribeAccountUpdates installs the single permitted account-updates
// stream; a second request for a different account fails.
func (r *Registry) SubscribeAccountUpdates(account string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasAccount {
		return "", fmt.Errorf("only one account-updates subscription is permitted at a time")
	}

	reqID := r.conn.GetNextReqID()
	id := uuid.NewString()
	entry := &subscriptionEntry{
		id: id, kind: KindAccountUpdates, symbol: account,
		reqID: reqID, createdAt: time.Now(),
	}
	entry.cancelFunc = func() {
		_ = r.conn.Send(OutboundMessage{Kind: "cancel_account_updates", ReqID: reqID})
	}

	if err := r.conn.Send(OutboundMessage{Kind: "req_account_updates", ReqID: reqID, Payload: map[string]string{"account": account}}); err != nil {
		return "", fmt.Errorf("request account updates: %w", err)
	}

	r.byID[id] = entry
	r.byReqID[reqID] = id
	r.hasAccount = true
	return id, nil
}

// Bars returns a snapshot of recent bars for a real-time-bar subscription.
func (r *Registry) Bars(id string) ([]RealTimeBarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok || entry.kind != KindRealTimeBars {
		return nil, fmt.Errorf("no such real-time-bar subscription: %s", id)
	}
	return entry.bars.snapshot(), nil
}

// Unsubscribe removes a subscription and cancels its broker-side stream.
func (r *Registry) Unsubscribe(id string) error {
	r.mu.Lock()
	entry, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("no such subscription: %s", id)
	}
	delete(r.byID, id)
	delete(r.byReqID, entry.reqID)
	if entry.kind == KindRealTimeBars {
		delete(r.bySymbol, dedupeKey(entry.symbol, entry.exchange))
	} else {
		r.hasAccount = false
	}
	cancel := entry.cancelFunc
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// resubscribeAll runs after a reconnect: for every live subscription,
// remove its old listeners, allocate a fresh req id, re-install listeners
// closed over the new id, and re-issue the broker request — preserving the
// opaque id so external holders remain valid.
func (r *Registry) resubscribeAll() {
	r.mu.Lock()
	entries := make([]*subscriptionEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		r.resubscribeOne(entry)
	}
}

func (r *Registry) resubscribeOne(entry *subscriptionEntry) {
	r.mu.Lock()
	if entry.cancelFunc != nil {
		entry.cancelFunc()
	}

	oldReqID := entry.reqID
	newReqID := r.conn.GetNextReqID()
	entry.reqID = newReqID
	delete(r.byReqID, oldReqID)
	r.byReqID[newReqID] = entry.id

	var err error
	switch entry.kind {
	case KindRealTimeBars:
		err = r.installRealTimeBarListener(entry)
	case KindAccountUpdates:
		entry.cancelFunc = func() {
			_ = r.conn.Send(OutboundMessage{Kind: "cancel_account_updates", ReqID: newReqID})
		}
		err = r.conn.Send(OutboundMessage{Kind: "req_account_updates", ReqID: newReqID, Payload: map[string]string{"account": entry.symbol}})
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Error().Err(err).Str("subscription_id", entry.id).Msg("resubscribe failed")
		r.mu.Lock()
		entry.errLatch = err
		r.mu.Unlock()
	}
}

// Count returns the number of live subscriptions of kind.
func (r *Registry) Count(kind SubscriptionKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.byID {
		if e.kind == kind {
			n++
		}
	}
	return n
}
