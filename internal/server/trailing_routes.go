package server

import "net/http"

// handleTrailingPositions reports the trailing-stop executor's current
// per-symbol book — positions, HWMs, and the active stop price.
func (s *Server) handleTrailingPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.TrailingBook.Snapshot())
}
