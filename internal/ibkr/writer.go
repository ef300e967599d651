package ibkr

import (
	"context"
	"sync"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/rs/zerolog"
)

// Writer is the persistent event→database writer: long-lived listeners on
// orderStatus, execDetails, and commissionReport that upsert into the
// order/execution stores. It must attach at most once per process, tolerate
// events for orders the store doesn't know about (placed outside this
// process), and never propagate an error back through the event loop.
type Writer struct {
	store persistence.OrderStore
	bus   *events.Bus
	log   zerolog.Logger

	attachOnce sync.Once
}

func NewWriter(store persistence.OrderStore, bus *events.Bus, log zerolog.Logger) *Writer {
	return &Writer{
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "ibkr_event_writer").Logger(),
	}
}

// Attach installs the writer's broadcast subscription. Calling it more than
// once is a no-op — attachment must happen at most once per writer.
func (w *Writer) Attach(ctx context.Context, disp *Dispatcher) {
	w.attachOnce.Do(func() {
		go w.run(ctx, disp)
	})
}

func (w *Writer) run(ctx context.Context, disp *Dispatcher) {
	ch, cleanup := disp.Subscribe()
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			w.handle(evt)
		}
	}
}

func (w *Writer) handle(evt InboundEvent) {
	switch e := evt.(type) {
	case *OrderStatusEvent:
		w.handleOrderStatus(e)
	case *ExecDetailsEvent:
		w.handleExecDetails(e)
	case *CommissionReportEvent:
		w.handleCommissionReport(e)
	}
}

func (w *Writer) handleOrderStatus(e *OrderStatusEvent) {
	status := persistence.OrderStatus(e.Status)

	if err := w.store.UpdateOrderStatus(e.OrderID, status); err != nil {
		// Order not present in the store (placed externally) or a transient
		// write failure: log and drop. The next event is authoritative.
		w.log.Warn().Err(err).Int64("order_id", e.OrderID).Msg("order status write failed, dropping")
		return
	}

	correlationID := ""
	if order, err := w.store.GetOrderByBrokerID(e.OrderID); err == nil && order != nil {
		correlationID = order.CorrelationID
	}

	w.bus.Publish(&events.OrderStatusData{
		OrderID:       e.OrderID,
		CorrelationID: correlationID,
		Status:        e.Status,
		Filled:        e.Filled,
		Remaining:     e.Remaining,
		AvgFillPrice:  e.AvgFillPrice,
	})
}

func (w *Writer) handleExecDetails(e *ExecDetailsEvent) {
	exec := &persistence.Execution{
		ExecID:   e.ExecID,
		OrderID:  e.OrderID,
		Side:     persistence.Side(e.Side),
		Shares:   e.Shares,
		Price:    e.Price,
		CumQty:   e.CumQty,
		AvgPrice: e.AvgPrice,
		ExecTime: e.Time,
	}

	if err := w.store.InsertExecution(exec); err != nil {
		w.log.Warn().Err(err).Str("exec_id", e.ExecID).Int64("order_id", e.OrderID).Msg("execution write failed, dropping")
		return
	}

	w.bus.Publish(&events.ExecutionData{
		ExecID:   e.ExecID,
		OrderID:  e.OrderID,
		Side:     e.Side,
		Shares:   e.Shares,
		Price:    e.Price,
		CumQty:   e.CumQty,
		AvgPrice: e.AvgPrice,
	})
}

func (w *Writer) handleCommissionReport(e *CommissionReportEvent) {
	if err := w.store.UpdateExecutionCommission(e.ExecID, e.Commission, e.RealizedPnL); err != nil {
		w.log.Warn().Err(err).Str("exec_id", e.ExecID).Msg("commission write failed, dropping")
		return
	}

	w.bus.Publish(&events.CommissionData{
		ExecID:      e.ExecID,
		Commission:  e.Commission,
		RealizedPL:  e.RealizedPnL,
	})
}
