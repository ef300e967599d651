package ibkr

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DedupesRealTimeBarsBySymbol(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()
	_ = transport
	reg := NewRegistry(conn, disp, zerolog.Nop())

	id1, err := reg.SubscribeRealTimeBars("AAPL", "SMART")
	require.NoError(t, err)
	id2, err := reg.SubscribeRealTimeBars("AAPL", "SMART")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, reg.Count(KindRealTimeBars))
}

func TestRegistry_RealTimeBarCapEnforced(t *testing.T) {
	_, conn, disp, cancel := testSetup()
	defer cancel()
	reg := NewRegistry(conn, disp, zerolog.Nop())

	for i := 0; i < maxRealTimeBarSubscriptions; i++ {
		symbol := string(rune('A' + i%26))
		_, err := reg.SubscribeRealTimeBars(symbol, "SMART-"+string(rune(i)))
		require.NoError(t, err)
	}

	_, err := reg.SubscribeRealTimeBars("OVERFLOW", "SMART")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cap")
}

func TestRegistry_OnlyOneAccountUpdatesSubscription(t *testing.T) {
	_, conn, disp, cancel := testSetup()
	defer cancel()
	reg := NewRegistry(conn, disp, zerolog.Nop())

	_, err := reg.SubscribeAccountUpdates("DU1234")
	require.NoError(t, err)

	_, err = reg.SubscribeAccountUpdates("DU5678")
	require.Error(t, err)
}

func TestRegistry_BarsAccumulateInRingBuffer(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()
	reg := NewRegistry(conn, disp, zerolog.Nop())

	id, err := reg.SubscribeRealTimeBars("MSFT", "SMART")
	require.NoError(t, err)

	sent := transport.sentMessages()
	require.Len(t, sent, 1)
	reqID := sent[0].ReqID

	transport.push(&RealTimeBarEvent{RequestID: reqID, Close: 310.5})
	transport.push(&RealTimeBarEvent{RequestID: reqID, Close: 311.0})

	require.Eventually(t, func() bool {
		bars, err := reg.Bars(id)
		return err == nil && len(bars) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_ResubscribePreservesOpaqueID(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()
	reg := NewRegistry(conn, disp, zerolog.Nop())

	id, err := reg.SubscribeRealTimeBars("TSLA", "SMART")
	require.NoError(t, err)

	before := transport.sentMessages()
	oldReqID := before[0].ReqID

	transport.triggerReconnect()

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		entry, ok := reg.byID[id]
		return ok && entry.reqID != oldReqID
	}, time.Second, 10*time.Millisecond)

	// opaque id still resolves to a live entry
	_, err = reg.Bars(id)
	require.NoError(t, err)
}

func TestRegistry_UnsubscribeCancelsBrokerSide(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()
	reg := NewRegistry(conn, disp, zerolog.Nop())

	id, err := reg.SubscribeRealTimeBars("NVDA", "SMART")
	require.NoError(t, err)

	require.NoError(t, reg.Unsubscribe(id))

	require.Eventually(t, func() bool {
		for _, m := range transport.sentMessages() {
			if m.Kind == "cancel_real_time_bars" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	_, err = reg.Bars(id)
	require.Error(t, err)
}
