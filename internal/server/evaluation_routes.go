package server

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/aristath/ibkr-bridge/internal/scoring"
)

type evaluateRequest struct {
	Symbol        string             `json:"symbol"`
	FeatureVector map[string]float64 `json:"feature_vector"`
	Prompt        string             `json:"prompt"`
	Regime        string             `json:"regime"`
}

// handleEvaluate runs an ad-hoc ensemble evaluation (outside the alert-
// driven auto-eval loop) and persists the result the same way the
// background loop does, so both paths produce identical Evaluation rows.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	regime := scoring.Regime(req.Regime)
	if regime == "" {
		regime = scoring.RegimeChop
	}

	result := s.cfg.Ensemble.Evaluate(r.Context(), scoring.Request{
		Symbol:        req.Symbol,
		FeatureVector: req.FeatureVector,
		Prompt:        req.Prompt,
		Regime:        regime,
	})

	outputs := make([]persistence.ProviderOutput, len(result.ProviderOutputs))
	for i, o := range result.ProviderOutputs {
		outputs[i] = persistence.ProviderOutput{
			ProviderID:  o.ProviderID,
			Score:       o.Score,
			ExpectedRR:  o.ExpectedRR,
			Confidence:  o.Confidence,
			ShouldTrade: o.ShouldTrade,
			RawText:     o.RawText,
			Compliant:   o.Compliant,
		}
	}

	eval := &persistence.Evaluation{
		ProviderOutputs:     outputs,
		TradeScore:          result.TradeScore,
		Median:              result.Median,
		ExpectedRR:          result.ExpectedRR,
		Confidence:          result.Confidence,
		ScoreSpread:         result.ScoreSpread,
		DisagreementPenalty: result.DisagreementPenalty,
		Unanimous:           result.Unanimous,
		Majority:            result.Majority,
		ShouldTrade:         result.ShouldTrade,
		Regime:              string(result.Regime),
		FeatureVector:       req.FeatureVector,
		WeightsUsed:         result.WeightsUsed,
	}

	id, err := s.cfg.Store.InsertEvaluation(eval)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	eval.ID = id

	s.cfg.Bus.Publish(&events.EvaluationData{
		EvaluationID: id,
		Symbol:       req.Symbol,
		TradeScore:   result.TradeScore,
		ShouldTrade:  result.ShouldTrade,
		Regime:       string(result.Regime),
	})

	writeJSON(w, http.StatusOK, eval)
}

func (s *Server) handleRecentSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := s.cfg.Store.QueryRecentSignals(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, signals)
}

// handleWeightsExport renders the ensemble's current per-regime weight
// table as YAML, for operators inspecting how the Bayesian credit
// assignment has drifted from the uniform prior.
func (s *Server) handleWeightsExport(w http.ResponseWriter, r *http.Request) {
	out, err := s.cfg.Ensemble.WeightsYAML()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
