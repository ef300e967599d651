package scoring

import (
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// WeightTable holds a per-regime weight vector over providers, Bayesian-
// updated from realized trade outcomes.
type WeightTable struct {
	mu      sync.Mutex
	byRegime map[Regime]map[string]float64
}

// NewWeightTable creates an empty table; weights are seeded lazily with a
// uniform prior the first time a regime is seen (Normalized/update both
// call ensureRegimeLocked).
func NewWeightTable() *WeightTable {
	return &WeightTable{byRegime: make(map[Regime]map[string]float64)}
}

// ensureRegimeLocked seeds regime with a uniform prior 1/K over
// providerIDs if it has no entry yet, or if providerIDs introduces ids the
// regime doesn't know about. Caller must hold mu.
func (wt *WeightTable) ensureRegimeLocked(regime Regime, providerIDs []string) {
	weights, ok := wt.byRegime[regime]
	if !ok {
		weights = make(map[string]float64)
		wt.byRegime[regime] = weights
	}
	missing := false
	for _, id := range providerIDs {
		if _, ok := weights[id]; !ok {
			missing = true
			break
		}
	}
	if !missing {
		return
	}
	k := len(providerIDs)
	if k == 0 {
		return
	}
	uniform := 1.0 / float64(k)
	for _, id := range providerIDs {
		if _, ok := weights[id]; !ok {
			weights[id] = uniform
		}
	}
}

// Normalized returns the weight vector for regime, restricted to the
// providers in compliant and renormalized so the weights sum to 1.
func (wt *WeightTable) Normalized(regime Regime, compliant []ProviderOutput) map[string]float64 {
	ids := make([]string, 0, len(compliant))
	for _, o := range compliant {
		ids = append(ids, o.ProviderID)
	}

	wt.mu.Lock()
	wt.ensureRegimeLocked(regime, ids)
	base := wt.byRegime[regime]

	var sum float64
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = base[id]
		sum += base[id]
	}
	wt.mu.Unlock()

	if sum == 0 {
		return out
	}
	for id := range out {
		out[id] /= sum
	}
	return out
}

// Update applies the Bayesian credit-assignment rule:
//
//	credit_p = max(0, sign_p · realized_rr) if realized_rr > 0 else 0
//	posterior_p ∝ prior_p · (1 + credit_p), then normalized.
func (wt *WeightTable) Update(regime Regime, realizedRR float64, perProviderSign map[string]int) {
	ids := make([]string, 0, len(perProviderSign))
	for id := range perProviderSign {
		ids = append(ids, id)
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.ensureRegimeLocked(regime, ids)
	priors := wt.byRegime[regime]

	posteriors := make(map[string]float64, len(ids))
	var sum float64
	for _, id := range ids {
		credit := 0.0
		if realizedRR > 0 {
			c := float64(perProviderSign[id]) * realizedRR
			if c > 0 {
				credit = c
			}
		}
		p := priors[id] * (1 + credit)
		posteriors[id] = p
		sum += p
	}

	if sum == 0 {
		return
	}
	for id, p := range posteriors {
		priors[id] = p / sum
	}
}

// Serialize encodes the full table to JSON for persistence.
func (wt *WeightTable) Serialize() (string, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	raw, err := json.Marshal(wt.byRegime)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ExportYAML renders the per-regime weight table as human-readable YAML,
// for the read-only weight-inspection route — a distinct export path from
// the JSON Serialize/Hydrate pair used for persistence.
func (wt *WeightTable) ExportYAML() ([]byte, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	out, err := yaml.Marshal(wt.byRegime)
	if err != nil {
		return nil, fmt.Errorf("marshal weight table yaml: %w", err)
	}
	return out, nil
}

// Hydrate replaces the table's state from a serialized form. Malformed
// input silently resets the table to empty (each regime re-seeds to a
// uniform prior on next use) rather than returning an error.
func Hydrate(raw string) *WeightTable {
	wt := NewWeightTable()
	if raw == "" {
		return wt
	}
	var decoded map[Regime]map[string]float64
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return wt
	}
	wt.byRegime = decoded
	return wt
}
