package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/persistence"
)

type ingestAlertRequest struct {
	Symbol     string     `json:"symbol"`
	Strategy   *string    `json:"strategy,omitempty"`
	EntryPrice *float64   `json:"entry_price,omitempty"`
	StopPrice  *float64   `json:"stop_price,omitempty"`
	Shares     *float64   `json:"shares,omitempty"`
	LastPrice  *float64   `json:"last_price,omitempty"`
	AlertTime  *time.Time `json:"alert_time,omitempty"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
}

type ingestAlertResponse struct {
	ID        int64 `json:"id"`
	Duplicate bool  `json:"duplicate"`
}

// handleIngestAlert inserts an externally sourced alert. Duplicates — the
// same (symbol, alert_time, exit_time) — are reported, not errored; the
// uniqueness constraint is enforced by the store.
func (s *Server) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var req ingestAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	alertTime := time.Now()
	if req.AlertTime != nil {
		alertTime = *req.AlertTime
	}

	alert := &persistence.Alert{
		Symbol:     req.Symbol,
		Strategy:   req.Strategy,
		EntryPrice: req.EntryPrice,
		StopPrice:  req.StopPrice,
		Shares:     req.Shares,
		LastPrice:  req.LastPrice,
		AlertTime:  alertTime,
		ExitTime:   req.ExitTime,
	}

	id, duplicate, err := s.cfg.Store.InsertAlert(alert)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	alert.ID = id

	if !duplicate {
		strategy := ""
		if alert.Strategy != nil {
			strategy = *alert.Strategy
		}
		s.cfg.Bus.Publish(&events.AlertData{AlertID: id, Symbol: alert.Symbol, Strategy: strategy})
		if s.cfg.AutoEval != nil {
			s.cfg.AutoEval.OnAlert(r.Context(), alert)
		}
	}

	writeJSON(w, http.StatusOK, ingestAlertResponse{ID: id, Duplicate: duplicate})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	alerts, err := s.cfg.Store.QueryRecentAlerts(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
