package server

import (
	"net/http"

	"github.com/aristath/ibkr-bridge/internal/events"
)

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Session.Snapshot())
}

// handleRiskConfigExport renders the gate's effective risk configuration
// as YAML, for operators diffing config against deployment docs.
func (s *Server) handleRiskConfigExport(w http.ResponseWriter, r *http.Request) {
	out, err := s.cfg.Gate.ConfigSnapshot().ExportYAML()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// handleSessionUnlock clears a session lock (e.g. after an operator
// reviews a consecutive-loss or daily-loss lockout). It is a deliberate
// manual override, not something the risk gate itself ever calls.
func (s *Server) handleSessionUnlock(w http.ResponseWriter, r *http.Request) {
	s.cfg.Session.Unlock()
	snap := s.cfg.Session.Snapshot()
	s.cfg.Bus.Publish(&events.SessionStateData{
		Date:              snap.Date,
		RealizedPnL:       snap.RealizedPnL,
		TradeCount:        snap.TradeCount,
		ConsecutiveLosses: snap.ConsecutiveLosses,
		Locked:            snap.Locked,
		LockReason:        snap.LockReason,
	})
	writeJSON(w, http.StatusOK, snap)
}
