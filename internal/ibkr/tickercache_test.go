package ibkr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerCache_AppliesBoundTickEvents(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()
	_ = conn

	cache := NewTickerCache()
	cache.BindTickerID(7, "AAPL")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go cache.RunDispatcher(ctx, disp)

	transport.push(&TickPriceEvent{TickerID: 7, Field: "bid", Value: 184.10})
	transport.push(&TickPriceEvent{TickerID: 7, Field: "ask", Value: 184.15})

	require.Eventually(t, func() bool {
		tick, ok := cache.Get("AAPL")
		return ok && tick.Bid == 184.10 && tick.Ask == 184.15
	}, time.Second, 10*time.Millisecond)
}

func TestTickerCache_IgnoresUnboundTickerID(t *testing.T) {
	transport, _, disp, cancel := testSetup()
	defer cancel()

	cache := NewTickerCache()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go cache.RunDispatcher(ctx, disp)

	transport.push(&TickPriceEvent{TickerID: 99, Field: "last", Value: 1.0})
	time.Sleep(30 * time.Millisecond)

	_, ok := cache.Get("UNKNOWN")
	assert.False(t, ok)
}

func TestTick_Stale(t *testing.T) {
	now := time.Now()
	tick := Tick{Updated: now.Add(-10 * time.Minute)}
	assert.True(t, tick.Stale(now, 5*time.Minute))

	fresh := Tick{Updated: now.Add(-1 * time.Minute)}
	assert.False(t, fresh.Stale(now, 5*time.Minute))

	var zero Tick
	assert.True(t, zero.Stale(now, 5*time.Minute))
}
