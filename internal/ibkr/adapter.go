package ibkr

import (
	"context"
	"fmt"
	"time"
)

// Timeout tiers for broker request/response round trips.
const (
	DefaultTimeout  = 10 * time.Second
	SnapshotTimeout = 15 * time.Second
	HistoricalTimeout = 30 * time.Second
)

// timeoutPolicy controls whether a timeout without a terminal event resolves
// with whatever was accumulated so far, or rejects outright. Only broker
// operations the broker confirms implicitly (snapshot, open-orders,
// completed-orders, place-order) may use BestEffortOnTimeout.
type timeoutPolicy int

const (
	RejectOnTimeout timeoutPolicy = iota
	BestEffortOnTimeout
)

// Collector processes one inbound event belonging to the request and
// reports whether the terminal event has been reached. Returning a non-nil
// error rejects the request immediately (fatal path); terminal=true without
// an error settles the request successfully.
type Collector func(evt InboundEvent) (terminal bool, err error)

// Adapter implements the event-driven request/response template: allocate a
// request id, register listeners, arm a timeout, settle on the terminal
// event (or timeout, per policy), and always clean up — listener leakage is
// the hazard this type exists to prevent.
type Adapter struct {
	conn *Connection
	disp *Dispatcher
}

func NewAdapter(conn *Connection, disp *Dispatcher) *Adapter {
	return &Adapter{conn: conn, disp: disp}
}

// Do issues msg (with msg.ReqID already allocated by the caller via
// conn.GetNextReqID()), waits for collect to report terminal or for the
// timeout to elapse, and always unregisters the waiter and invokes cancel
// (if non-nil) before returning — cleanup must run on every settle path, or
// the waiter map leaks.
func (a *Adapter) Do(ctx context.Context, reqID int64, msg OutboundMessage, timeout time.Duration, policy timeoutPolicy, collect Collector, cancel func()) error {
	ch, cleanup := a.disp.registerWaiter(reqID)
	defer cleanup()
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	if err := a.conn.Send(msg); err != nil {
		return fmt.Errorf("send broker request %d: %w", reqID, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request %d cancelled: %w", reqID, ctx.Err())

		case <-deadline.C:
			if policy == BestEffortOnTimeout {
				return nil
			}
			return fmt.Errorf("request %d timed out after %s", reqID, timeout)

		case evt := <-ch:
			if be, ok := evt.(*BrokerError); ok {
				return fmt.Errorf("broker error %d for request %d: %s", be.Code, reqID, be.Message)
			}

			terminal, err := collect(evt)
			if err != nil {
				return fmt.Errorf("request %d rejected: %w", reqID, err)
			}
			if terminal {
				return nil
			}
		}
	}
}

// DoBestEffort is a convenience wrapper for operations the broker confirms
// only implicitly: snapshot, open-orders, completed-orders, place-order.
func (a *Adapter) DoBestEffort(ctx context.Context, reqID int64, msg OutboundMessage, timeout time.Duration, collect Collector, cancel func()) error {
	return a.Do(ctx, reqID, msg, timeout, BestEffortOnTimeout, collect, cancel)
}

// DoStrict is a convenience wrapper for operations with no implicit
// confirmation: timeout rejects.
func (a *Adapter) DoStrict(ctx context.Context, reqID int64, msg OutboundMessage, timeout time.Duration, collect Collector, cancel func()) error {
	return a.Do(ctx, reqID, msg, timeout, RejectOnTimeout, collect, cancel)
}
