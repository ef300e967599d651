package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aristath/ibkr-bridge/internal/ibkr"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/aristath/ibkr-bridge/internal/risk"
)

// placeOrderRequest is the wire shape for POST /api/orders. It is a flat,
// type-tagged record that this handler translates into one of the concrete
// ibkr.OrderRequest variants so that
// invalid field combinations (e.g. MKT with a limit price) are rejected by
// Validate rather than silently accepted.
type placeOrderRequest struct {
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	Type        string   `json:"type"`
	Quantity    float64  `json:"quantity"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	StopPrice   *float64 `json:"stop_price,omitempty"`
	TrailingPct *float64 `json:"trailing_pct,omitempty"`
	TIF         string   `json:"tif,omitempty"`
}

type placeOrderResponse struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	BrokerOrderID int64  `json:"broker_order_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (req placeOrderRequest) tif() persistence.TimeInForce {
	if req.TIF == "" {
		return persistence.TIFDay
	}
	return persistence.TimeInForce(req.TIF)
}

func (req placeOrderRequest) toBrokerOrder() (ibkr.OrderRequest, error) {
	side := persistence.Side(req.Side)
	switch req.Type {
	case string(persistence.OrderTypeMKT):
		o := ibkr.NewMarketOrder(req.Symbol, side, req.Quantity, req.tif())
		return o, o.Validate()
	case string(persistence.OrderTypeLMT):
		if req.LimitPrice == nil {
			return nil, errMissingField("limit_price")
		}
		o := ibkr.NewLimitOrder(req.Symbol, side, req.Quantity, *req.LimitPrice, req.tif())
		return o, o.Validate()
	case string(persistence.OrderTypeSTP):
		if req.StopPrice == nil {
			return nil, errMissingField("stop_price")
		}
		o := ibkr.NewStopOrder(req.Symbol, side, req.Quantity, *req.StopPrice, req.tif())
		return o, o.Validate()
	case string(persistence.OrderTypeSTPLMT):
		if req.StopPrice == nil || req.LimitPrice == nil {
			return nil, errMissingField("stop_price and limit_price")
		}
		o := ibkr.NewStopLimitOrder(req.Symbol, side, req.Quantity, *req.StopPrice, *req.LimitPrice, req.tif())
		return o, o.Validate()
	case string(persistence.OrderTypeTRAIL):
		if req.TrailingPct == nil {
			return nil, errMissingField("trailing_pct")
		}
		o := ibkr.NewTrailingStopOrder(req.Symbol, side, req.Quantity, *req.TrailingPct, req.tif())
		return o, o.Validate()
	default:
		return nil, errUnknownOrderType(req.Type)
	}
}

func errMissingField(field string) error {
	return &fieldError{field: field}
}

type fieldError struct{ field string }

func (e *fieldError) Error() string { return "missing required field: " + e.field }

func errUnknownOrderType(t string) error {
	return &fieldError{field: "type=" + t}
}

// handlePlaceOrder validates the request, runs it through the risk gate,
// and — if admitted — places it at the broker. It never distinguishes a
// risk denial from a wire error with an HTTP error status; a denial is
// returned as {allowed: false, reason} in a normal 200 response.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := req.toBrokerOrder()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	decision := s.cfg.Gate.Check(risk.OrderRequest{
		Symbol:     order.Symbol(),
		Side:       string(order.Side()),
		Type:       string(order.Type()),
		Quantity:   order.Quantity(),
		LimitPrice: order.LimitPrice(),
		StopPrice:  order.StopPrice(),
	})
	if !decision.Allowed {
		writeJSON(w, http.StatusOK, placeOrderResponse{Allowed: false, Reason: decision.Reason})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	correlationID := uuid.NewString()
	placed, err := ibkr.PlaceOrder(ctx, s.cfg.Connection, s.cfg.Dispatcher, order, correlationID)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", order.Symbol()).Msg("place order failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, placeOrderResponse{
		Allowed:       true,
		BrokerOrderID: placed.OrderID,
		CorrelationID: placed.CorrelationID,
		Status:        string(placed.Status),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	brokerID, err := strconv.ParseInt(chi.URLParam(r, "brokerID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid broker order id", http.StatusBadRequest)
		return
	}

	order, err := s.cfg.Store.GetOrderByBrokerID(brokerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if order == nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
