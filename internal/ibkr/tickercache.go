package ibkr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Tick is the cached market snapshot for one symbol.
type Tick struct {
	Bid      float64
	Ask      float64
	Last     float64
	BidSize  float64
	AskSize  float64
	Volume   float64
	Updated  time.Time
}

// Stale reports whether this tick is older than maxAge relative to now.
func (t Tick) Stale(now time.Time, maxAge time.Duration) bool {
	if t.Updated.IsZero() {
		return true
	}
	return now.Sub(t.Updated) > maxAge
}

// TickerCache is the lock-protected symbol→tick map fed by a single tick
// dispatcher goroutine. Many goroutines may read concurrently; only the
// dispatcher writes.
type TickerCache struct {
	mu   sync.RWMutex
	data map[string]Tick

	tickerToSymbol map[int64]string
}

func NewTickerCache() *TickerCache {
	return &TickerCache{
		data:           make(map[string]Tick),
		tickerToSymbol: make(map[int64]string),
	}
}

// BindTickerID associates a broker tickerId with a symbol so future
// TickPriceEvents for that id can be resolved back to a symbol.
func (c *TickerCache) BindTickerID(tickerID int64, symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickerToSymbol[tickerID] = symbol
}

func (c *TickerCache) UnbindTickerID(tickerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tickerToSymbol, tickerID)
}

// Get returns the cached tick for symbol, if any.
func (c *TickerCache) Get(symbol string) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.data[symbol]
	return t, ok
}

func (c *TickerCache) apply(symbol string, field string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.data[symbol]
	switch field {
	case "bid":
		t.Bid = value
	case "ask":
		t.Ask = value
	case "last":
		t.Last = value
	case "bid_size":
		t.BidSize = value
	case "ask_size":
		t.AskSize = value
	case "volume":
		t.Volume = value
	}
	t.Updated = time.Now()
	c.data[symbol] = t
}

// SnapshotBytes msgpack-encodes the current tick map for persistence across
// restarts. Safe to call concurrently with the dispatcher.
func (c *TickerCache) SnapshotBytes() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := msgpack.Marshal(c.data)
	if err != nil {
		return nil, fmt.Errorf("marshal ticker snapshot: %w", err)
	}
	return data, nil
}

// LoadSnapshot replaces the cache's tick map with the contents of a
// msgpack-encoded snapshot produced by SnapshotBytes. tickerToSymbol
// bindings are rebuilt separately as the broker resubscribes.
func (c *TickerCache) LoadSnapshot(raw []byte) error {
	restored := make(map[string]Tick)
	if err := msgpack.Unmarshal(raw, &restored); err != nil {
		return fmt.Errorf("unmarshal ticker snapshot: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = restored
	return nil
}

// RunDispatcher consumes a broadcast subscription and applies TickPriceEvents
// to the cache, resolving each event's tickerId to a symbol. Callers must
// start exactly one RunDispatcher goroutine per cache.
func (c *TickerCache) RunDispatcher(ctx context.Context, disp *Dispatcher) {
	events, cleanup := disp.Subscribe()
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			tick, ok := evt.(*TickPriceEvent)
			if !ok {
				continue
			}
			c.mu.RLock()
			symbol, known := c.tickerToSymbol[tick.TickerID]
			c.mu.RUnlock()
			if !known {
				continue
			}
			c.apply(symbol, tick.Field, tick.Value)
		}
	}
}
