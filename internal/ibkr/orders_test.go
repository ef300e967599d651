package ibkr

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketOrder_ValidateRejectsNonPositiveQuantity(t *testing.T) {
	order := NewMarketOrder("aapl", persistence.SideBuy, 0, persistence.TIFDay)
	require.Error(t, order.Validate())
}

func TestLimitOrder_ValidateRequiresPositiveLimitPrice(t *testing.T) {
	order := NewLimitOrder("AAPL", persistence.SideBuy, 10, 0, persistence.TIFDay)
	require.Error(t, order.Validate())

	valid := NewLimitOrder("AAPL", persistence.SideBuy, 10, 184.5, persistence.TIFDay)
	require.NoError(t, valid.Validate())
	require.NotNil(t, valid.LimitPrice())
	assert.Nil(t, valid.StopPrice())
}

func TestStopLimitOrder_CarriesBothPrices(t *testing.T) {
	order := NewStopLimitOrder("AAPL", persistence.SideSell, 10, 180.0, 179.5, persistence.TIFDay)
	require.NoError(t, order.Validate())
	require.NotNil(t, order.StopPrice())
	require.NotNil(t, order.LimitPrice())
	assert.Equal(t, 180.0, *order.StopPrice())
	assert.Equal(t, 179.5, *order.LimitPrice())
}

func TestPlaceOrder_SettlesOnAck(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()

	order := NewLimitOrder("AAPL", persistence.SideBuy, 10, 184.5, persistence.TIFDay)

	go func() {
		time.Sleep(10 * time.Millisecond)
		if sent := transport.sentMessages(); len(sent) > 0 {
			transport.push(&PlaceOrderAckEvent{OrderID: sent[len(sent)-1].ReqID})
		}
	}()

	placed, err := PlaceOrder(context.Background(), conn, disp, order, "")
	require.NoError(t, err)
	assert.Equal(t, persistence.OrderPreSubmitted, placed.Status)
	assert.NotEmpty(t, placed.CorrelationID)
}

func TestPlaceOrder_TimeoutProducesAmbiguousStatus(t *testing.T) {
	_, conn, disp, cancel := testSetup()
	defer cancel()

	order := NewMarketOrder("AAPL", persistence.SideBuy, 10, persistence.TIFDay)

	placed, err := PlaceOrder(context.Background(), conn, disp, order, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, persistence.OrderStatus("Submitted (timeout waiting for confirmation)"), placed.Status)
}

func TestPlaceBracket_SharesCorrelationAndOCAGroup(t *testing.T) {
	transport, conn, disp, cancel := testSetup()
	defer cancel()

	bracket := BracketOrder{
		Parent:     NewLimitOrder("AAPL", persistence.SideBuy, 100, 184.0, persistence.TIFDay),
		TakeProfit: NewLimitOrder("AAPL", persistence.SideSell, 100, 190.0, persistence.TIFGTC),
		StopLoss:   NewStopOrder("AAPL", persistence.SideSell, 100, 180.0, persistence.TIFGTC),
	}

	orders, err := PlaceBracket(context.Background(), conn, disp, bracket)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	for _, o := range orders[1:] {
		assert.Equal(t, orders[0].CorrelationID, o.CorrelationID)
		require.NotNil(t, o.OCAGroup)
		assert.Equal(t, *orders[0].OCAGroup, *o.OCAGroup)
		require.NotNil(t, o.ParentOrderID)
		assert.Equal(t, orders[0].OrderID, *o.ParentOrderID)
	}

	sent := transport.sentMessages()
	require.Len(t, sent, 3)
}
