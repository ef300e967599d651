package ibkr

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aristath/ibkr-bridge/internal/persistence"
)

// OrderRequest is a tagged variant over broker order types: each concrete
// type only carries the fields valid for
// its type, so combinations like MKT-with-a-limit-price are unrepresentable
// rather than merely unvalidated.
type OrderRequest interface {
	Symbol() string
	Side() persistence.Side
	Quantity() float64
	Type() persistence.OrderType
	TIF() persistence.TimeInForce
	// LimitPrice, StopPrice, TrailingPct return nil when not applicable to
	// this variant.
	LimitPrice() *float64
	StopPrice() *float64
	TrailingPct() *float64
	Validate() error
}

type base struct {
	symbol   string
	side     persistence.Side
	quantity float64
	tif      persistence.TimeInForce
}

func (b base) Symbol() string                  { return strings.ToUpper(b.symbol) }
func (b base) Side() persistence.Side          { return b.side }
func (b base) Quantity() float64               { return b.quantity }
func (b base) TIF() persistence.TimeInForce    { return b.tif }
func (b base) LimitPrice() *float64            { return nil }
func (b base) StopPrice() *float64             { return nil }
func (b base) TrailingPct() *float64           { return nil }

func (b base) validateCommon() error {
	if b.symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if b.side != persistence.SideBuy && b.side != persistence.SideSell {
		return fmt.Errorf("side must be BUY or SELL")
	}
	if b.quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	return nil
}

// MarketOrder: no limit or stop price representable.
type MarketOrder struct {
	base
}

func NewMarketOrder(symbol string, side persistence.Side, qty float64, tif persistence.TimeInForce) MarketOrder {
	return MarketOrder{base{symbol, side, qty, tif}}
}
func (o MarketOrder) Type() persistence.OrderType { return persistence.OrderTypeMKT }
func (o MarketOrder) Validate() error             { return o.validateCommon() }

// LimitOrder carries only a limit price.
type LimitOrder struct {
	base
	limitPrice float64
}

func NewLimitOrder(symbol string, side persistence.Side, qty, limitPrice float64, tif persistence.TimeInForce) LimitOrder {
	return LimitOrder{base{symbol, side, qty, tif}, limitPrice}
}
func (o LimitOrder) Type() persistence.OrderType { return persistence.OrderTypeLMT }
func (o LimitOrder) LimitPrice() *float64        { p := o.limitPrice; return &p }
func (o LimitOrder) Validate() error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	if o.limitPrice <= 0 {
		return fmt.Errorf("limit price must be positive")
	}
	return nil
}

// StopOrder carries only a stop (trigger) price.
type StopOrder struct {
	base
	stopPrice float64
}

func NewStopOrder(symbol string, side persistence.Side, qty, stopPrice float64, tif persistence.TimeInForce) StopOrder {
	return StopOrder{base{symbol, side, qty, tif}, stopPrice}
}
func (o StopOrder) Type() persistence.OrderType { return persistence.OrderTypeSTP }
func (o StopOrder) StopPrice() *float64         { p := o.stopPrice; return &p }
func (o StopOrder) Validate() error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	if o.stopPrice <= 0 {
		return fmt.Errorf("stop price must be positive")
	}
	return nil
}

// StopLimitOrder carries both a stop trigger and a limit price.
type StopLimitOrder struct {
	base
	stopPrice  float64
	limitPrice float64
}

func NewStopLimitOrder(symbol string, side persistence.Side, qty, stopPrice, limitPrice float64, tif persistence.TimeInForce) StopLimitOrder {
	return StopLimitOrder{base{symbol, side, qty, tif}, stopPrice, limitPrice}
}
func (o StopLimitOrder) Type() persistence.OrderType { return persistence.OrderTypeSTPLMT }
func (o StopLimitOrder) StopPrice() *float64         { p := o.stopPrice; return &p }
func (o StopLimitOrder) LimitPrice() *float64        { p := o.limitPrice; return &p }
func (o StopLimitOrder) Validate() error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	if o.stopPrice <= 0 || o.limitPrice <= 0 {
		return fmt.Errorf("stop and limit prices must be positive")
	}
	return nil
}

// TrailingStopOrder carries only a trailing percent.
type TrailingStopOrder struct {
	base
	trailingPct float64
}

func NewTrailingStopOrder(symbol string, side persistence.Side, qty, trailingPct float64, tif persistence.TimeInForce) TrailingStopOrder {
	return TrailingStopOrder{base{symbol, side, qty, tif}, trailingPct}
}
func (o TrailingStopOrder) Type() persistence.OrderType { return persistence.OrderTypeTRAIL }
func (o TrailingStopOrder) TrailingPct() *float64       { p := o.trailingPct; return &p }
func (o TrailingStopOrder) Validate() error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	if o.trailingPct <= 0 {
		return fmt.Errorf("trailing percent must be positive")
	}
	return nil
}

// MarketOnCloseOrder and LimitOnCloseOrder settle at the close; MOC carries
// no price, LOC carries a limit price.
type MarketOnCloseOrder struct{ base }

func NewMarketOnCloseOrder(symbol string, side persistence.Side, qty float64) MarketOnCloseOrder {
	return MarketOnCloseOrder{base{symbol, side, qty, persistence.TIFDay}}
}
func (o MarketOnCloseOrder) Type() persistence.OrderType { return persistence.OrderTypeMOC }
func (o MarketOnCloseOrder) Validate() error             { return o.validateCommon() }

type LimitOnCloseOrder struct {
	base
	limitPrice float64
}

func NewLimitOnCloseOrder(symbol string, side persistence.Side, qty, limitPrice float64) LimitOnCloseOrder {
	return LimitOnCloseOrder{base{symbol, side, qty, persistence.TIFDay}, limitPrice}
}
func (o LimitOnCloseOrder) Type() persistence.OrderType { return persistence.OrderTypeLOC }
func (o LimitOnCloseOrder) LimitPrice() *float64        { p := o.limitPrice; return &p }
func (o LimitOnCloseOrder) Validate() error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	if o.limitPrice <= 0 {
		return fmt.Errorf("limit price must be positive")
	}
	return nil
}

// orderPayload is the wire shape sent for every variant; fields absent for
// a given variant are simply omitted by omitempty.
type orderPayload struct {
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	Type          string   `json:"order_type"`
	Quantity      float64  `json:"quantity"`
	LimitPrice    *float64 `json:"limit_price,omitempty"`
	StopPrice     *float64 `json:"stop_price,omitempty"`
	TrailingPct   *float64 `json:"trailing_pct,omitempty"`
	TIF           string   `json:"tif"`
	ParentOrderID *int64   `json:"parent_order_id,omitempty"`
	OCAGroup      *string  `json:"oca_group,omitempty"`
	Transmit      bool     `json:"transmit"`
	CorrelationID string   `json:"correlation_id"`
}

func toPayload(req OrderRequest, correlationID string, parentOrderID *int64, ocaGroup *string, transmit bool) orderPayload {
	return orderPayload{
		Symbol: req.Symbol(), Side: string(req.Side()), Type: string(req.Type()),
		Quantity: req.Quantity(), LimitPrice: req.LimitPrice(), StopPrice: req.StopPrice(),
		TrailingPct: req.TrailingPct(), TIF: string(req.TIF()),
		ParentOrderID: parentOrderID, OCAGroup: ocaGroup, Transmit: transmit,
		CorrelationID: correlationID,
	}
}

// PlaceOrder submits a single order and waits for the broker's initial
// acceptance (the implicit confirmation place-order gets), falling back
// to a best-effort "Submitted (timeout waiting for confirmation)" status
// on timeout.
func PlaceOrder(ctx context.Context, conn *Connection, disp *Dispatcher, req OrderRequest, correlationID string) (*persistence.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order request: %w", err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	adapter := NewAdapter(conn, disp)
	reqID := conn.GetNextReqID()
	payload := toPayload(req, correlationID, nil, nil, true)

	status := persistence.OrderPendingSubmit
	settled := false

	err := adapter.DoBestEffort(ctx, reqID, OutboundMessage{Kind: "place_order", ReqID: reqID, Payload: payload}, DefaultTimeout,
		func(evt InboundEvent) (bool, error) {
			switch e := evt.(type) {
			case *PlaceOrderAckEvent:
				settled = true
				status = persistence.OrderPreSubmitted
				return true, nil
			case *OrderStatusEvent:
				settled = true
				status = persistence.OrderStatus(e.Status)
				return true, nil
			}
			return false, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	if !settled {
		// Timed out waiting for an implicit confirmation: synthesize the
		// ambiguous "Submitted (timeout waiting for confirmation)" status;
		// the real status arrives later via the persistent event writer.
		status = "Submitted (timeout waiting for confirmation)"
	}

	return &persistence.Order{
		OrderID:       reqID,
		Symbol:        req.Symbol(),
		Side:          req.Side(),
		Type:          req.Type(),
		Quantity:      req.Quantity(),
		LimitPrice:    req.LimitPrice(),
		StopPrice:     req.StopPrice(),
		TrailingPct:   req.TrailingPct(),
		TIF:           req.TIF(),
		CorrelationID: correlationID,
		Status:        status,
	}, nil
}

// BracketOrder groups a parent entry with two opposing-side children (a
// take-profit limit and a stop-loss stop) under one OCA group and
// correlation id. Transmit semantics guarantee the broker only acts once
// the last leg — the stop-loss — arrives.
type BracketOrder struct {
	Parent     OrderRequest
	TakeProfit OrderRequest
	StopLoss   OrderRequest
}

// PlaceBracket submits all three legs with a shared correlation id and OCA
// group; only the final leg transmits.
func PlaceBracket(ctx context.Context, conn *Connection, disp *Dispatcher, b BracketOrder) ([]*persistence.Order, error) {
	for _, leg := range []OrderRequest{b.Parent, b.TakeProfit, b.StopLoss} {
		if err := leg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid bracket leg: %w", err)
		}
	}

	correlationID := uuid.NewString()
	ocaGroup := "oca-" + correlationID
	adapter := NewAdapter(conn, disp)

	parentID := conn.GetNextReqID()
	if err := conn.Send(OutboundMessage{
		Kind: "place_order", ReqID: parentID,
		Payload: toPayload(b.Parent, correlationID, nil, &ocaGroup, false),
	}); err != nil {
		return nil, fmt.Errorf("place bracket parent: %w", err)
	}

	tpID := conn.GetNextReqID()
	if err := conn.Send(OutboundMessage{
		Kind: "place_order", ReqID: tpID,
		Payload: toPayload(b.TakeProfit, correlationID, &parentID, &ocaGroup, false),
	}); err != nil {
		return nil, fmt.Errorf("place bracket take-profit: %w", err)
	}

	slID := conn.GetNextReqID()
	settled := false
	status := persistence.OrderPendingSubmit
	err := adapter.DoBestEffort(ctx, slID, OutboundMessage{
		Kind: "place_order", ReqID: slID,
		Payload: toPayload(b.StopLoss, correlationID, &parentID, &ocaGroup, true),
	}, DefaultTimeout, func(evt InboundEvent) (bool, error) {
		switch e := evt.(type) {
		case *PlaceOrderAckEvent:
			settled = true
			status = persistence.OrderPreSubmitted
			return true, nil
		case *OrderStatusEvent:
			settled = true
			status = persistence.OrderStatus(e.Status)
			return true, nil
		}
		return false, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("place bracket stop-loss: %w", err)
	}
	if !settled {
		status = "Submitted (timeout waiting for confirmation)"
	}

	mk := func(reqID int64, leg OrderRequest, parent *int64, st persistence.OrderStatus) *persistence.Order {
		return &persistence.Order{
			OrderID: reqID, Symbol: leg.Symbol(), Side: leg.Side(), Type: leg.Type(),
			Quantity: leg.Quantity(), LimitPrice: leg.LimitPrice(), StopPrice: leg.StopPrice(),
			TrailingPct: leg.TrailingPct(), TIF: leg.TIF(), ParentOrderID: parent,
			OCAGroup: &ocaGroup, CorrelationID: correlationID, Status: st,
		}
	}

	orders := []*persistence.Order{
		mk(parentID, b.Parent, nil, persistence.OrderPendingSubmit),
		mk(tpID, b.TakeProfit, &parentID, persistence.OrderPendingSubmit),
		mk(slID, b.StopLoss, &parentID, status),
	}
	return orders, nil
}
