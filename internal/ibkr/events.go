package ibkr

import "time"

// InboundEvent is one correlated message arriving off the broker socket.
// Every event belongs to at most one outstanding request id, or to no
// request at all (unsolicited events such as orderStatus for externally
// placed orders, or tick streams tied to a standing subscription).
type InboundEvent interface {
	ReqID() int64
}

// Terminal reports whether this event is the terminal event for its
// request (an "*End" event or the broker's success equivalent). Events
// that don't implement Terminal are treated as non-terminal.
type Terminal interface {
	IsTerminal() bool
}

// BrokerError carries a broker-assigned error/info code. Codes in the
// informational set are non-fatal and must be swallowed by adapters;
// everything else is fatal for the owning request.
type BrokerError struct {
	RequestID int64
	Code      int
	Message   string
}

func (e *BrokerError) ReqID() int64    { return e.RequestID }
func (e *BrokerError) IsTerminal() bool { return false }

// informationalCodes are broker diagnostic codes that never fail a
// request — e.g. "market data farm connection is OK" style notices.
// 1100 (connectivity lost) and similar codes are deliberately absent: they
// are fatal and must reject the owning request.
var informationalCodes = map[int]bool{
	2104: true, // market data farm connection is OK
	2106: true, // HMDS data farm connection is OK
	2107: true, // HMDS data farm connection is inactive but should be fine
	2108: true, // market data farm connection is inactive
	2158: true, // sec-def data farm connection is OK
}

// IsInformational reports whether code is a known non-fatal broker diagnostic.
func IsInformational(code int) bool {
	return informationalCodes[code]
}

// OrderStatusEvent mirrors a broker orderStatus callback.
type OrderStatusEvent struct {
	OrderID       int64
	Status        string
	Filled        float64
	Remaining     float64
	AvgFillPrice  float64
	ParentID      int64
}

func (e *OrderStatusEvent) ReqID() int64 { return e.OrderID }

// ExecDetailsEvent mirrors a broker execDetails callback.
type ExecDetailsEvent struct {
	OrderID  int64
	ExecID   string
	Symbol   string
	Side     string
	Shares   float64
	Price    float64
	CumQty   float64
	AvgPrice float64
	Time     time.Time
}

func (e *ExecDetailsEvent) ReqID() int64 { return e.OrderID }

// CommissionReportEvent mirrors a broker commissionReport callback; it
// arrives asynchronously and is correlated to an ExecDetailsEvent by ExecID.
type CommissionReportEvent struct {
	ExecID      string
	Commission  float64
	RealizedPnL float64
}

func (e *CommissionReportEvent) ReqID() int64 { return 0 }

// OpenOrderEvent and OpenOrderEndEvent bound a one-shot open-orders query.
type OpenOrderEvent struct {
	RequestID int64
	OrderID   int64
}

func (e *OpenOrderEvent) ReqID() int64 { return e.RequestID }

type OpenOrderEndEvent struct {
	RequestID int64
}

func (e *OpenOrderEndEvent) ReqID() int64    { return e.RequestID }
func (e *OpenOrderEndEvent) IsTerminal() bool { return true }

// TickPriceEvent is a single ticker-cache update, keyed by the broker's
// ticker id rather than reqid directly.
type TickPriceEvent struct {
	TickerID int64
	Field    string // bid, ask, last, bid_size, ask_size, volume
	Value    float64
}

func (e *TickPriceEvent) ReqID() int64 { return e.TickerID }

// MarketDataSnapshotEndEvent ends a market-data snapshot request.
type MarketDataSnapshotEndEvent struct {
	RequestID int64
}

func (e *MarketDataSnapshotEndEvent) ReqID() int64    { return e.RequestID }
func (e *MarketDataSnapshotEndEvent) IsTerminal() bool { return true }

// RealTimeBarEvent is a single 5-second bar for a standing subscription.
type RealTimeBarEvent struct {
	RequestID int64
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (e *RealTimeBarEvent) ReqID() int64 { return e.RequestID }

// HistoricalDataEvent carries one bar of a historical-ticks query.
type HistoricalDataEvent struct {
	RequestID int64
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (e *HistoricalDataEvent) ReqID() int64 { return e.RequestID }

// HistoricalDataEndEvent ends a historical-ticks query.
type HistoricalDataEndEvent struct {
	RequestID int64
}

func (e *HistoricalDataEndEvent) ReqID() int64    { return e.RequestID }
func (e *HistoricalDataEndEvent) IsTerminal() bool { return true }

// AccountUpdateEvent carries one field of a standing account/position stream.
type AccountUpdateEvent struct {
	RequestID       int64
	Symbol          string
	Position        float64
	AverageCost     float64
	MarketPrice     float64
	UnrealizedPnL   float64
}

func (e *AccountUpdateEvent) ReqID() int64 { return e.RequestID }

// PlaceOrderAckEvent is the broker's initial acceptance of an order (distinct
// from any later orderStatus events) and is the implicit confirmation the
// place-order adapter waits on.
type PlaceOrderAckEvent struct {
	OrderID int64
}

func (e *PlaceOrderAckEvent) ReqID() int64 { return e.OrderID }
