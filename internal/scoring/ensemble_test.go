package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	id  string
	out ProviderOutput
	err error
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) Score(ctx context.Context, req Request) (ProviderOutput, error) {
	return s.out, s.err
}

func seedWeights(wt *WeightTable, regime Regime, weights map[string]float64) {
	wt.byRegime[regime] = weights
}

func TestEnsemble_Scenario1_MatchesSpecNumerics(t *testing.T) {
	registry := NewRegistry(
		&stubProvider{id: "p1", out: ProviderOutput{Score: 80, ExpectedRR: 3.0, Confidence: 0.9, ShouldTrade: true, Compliant: true}},
		&stubProvider{id: "p2", out: ProviderOutput{Score: 70, ExpectedRR: 2.5, Confidence: 0.8, ShouldTrade: true, Compliant: true}},
		&stubProvider{id: "p3", out: ProviderOutput{Score: 60, ExpectedRR: 2.0, Confidence: 0.7, ShouldTrade: true, Compliant: true}},
	)
	wt := NewWeightTable()
	seedWeights(wt, RegimeTrending, map[string]float64{"p1": 0.4, "p2": 0.3, "p3": 0.3})

	ensemble := NewEnsemble(registry, wt)
	ensemble.disagreementCoefficient = 1.5

	result := ensemble.Evaluate(context.Background(), Request{Symbol: "AAPL", Regime: RegimeTrending})

	assert.InDelta(t, 70.94, result.TradeScore, 0.001)
	assert.InDelta(t, 70, result.Median, 0.001)
	assert.InDelta(t, 2.55, result.ExpectedRR, 0.001)
	assert.InDelta(t, 0.81, result.Confidence, 0.001)
	assert.InDelta(t, 20, result.ScoreSpread, 0.001)
	assert.InDelta(t, 0.06, result.DisagreementPenalty, 0.001)
	assert.True(t, result.Majority)
	assert.True(t, result.Unanimous)
	assert.True(t, result.ShouldTrade)
}

func TestEnsemble_Scenario2_BelowThresholdDoesNotTrade(t *testing.T) {
	registry := NewRegistry(
		&stubProvider{id: "p1", out: ProviderOutput{Score: 45, ShouldTrade: true, Compliant: true}},
		&stubProvider{id: "p2", out: ProviderOutput{Score: 40, ShouldTrade: true, Compliant: true}},
		&stubProvider{id: "p3", out: ProviderOutput{Score: 10, ShouldTrade: false, Compliant: true}},
	)
	wt := NewWeightTable()
	seedWeights(wt, RegimeChop, map[string]float64{"p1": 0.4, "p2": 0.3, "p3": 0.3})

	ensemble := NewEnsemble(registry, wt)
	ensemble.disagreementCoefficient = 1.5

	result := ensemble.Evaluate(context.Background(), Request{Symbol: "AAPL", Regime: RegimeChop})

	assert.InDelta(t, 32.82, result.TradeScore, 0.001)
	assert.True(t, result.Majority)
	assert.False(t, result.ShouldTrade, "penalized score below 40 must not trade despite majority")
}

func TestEnsemble_AllNonCompliant_ReturnsSentinelNoTrade(t *testing.T) {
	registry := NewRegistry(
		&stubProvider{id: "p1", err: errors.New("timeout")},
		&stubProvider{id: "p2", out: ProviderOutput{Compliant: false}},
	)
	ensemble := NewEnsemble(registry, NewWeightTable())

	result := ensemble.Evaluate(context.Background(), Request{Symbol: "AAPL", Regime: RegimeVolatile})

	assert.Equal(t, 0.0, result.TradeScore)
	assert.True(t, result.Unanimous)
	assert.False(t, result.ShouldTrade)
}

func TestEnsemble_ShouldTradeThresholdIsInclusive(t *testing.T) {
	registry := NewRegistry(
		&stubProvider{id: "p1", out: ProviderOutput{Score: 40, ShouldTrade: true, Compliant: true}},
	)
	wt := NewWeightTable()
	seedWeights(wt, RegimeTrending, map[string]float64{"p1": 1.0})
	ensemble := NewEnsemble(registry, wt)

	result := ensemble.Evaluate(context.Background(), Request{Regime: RegimeTrending})
	require.Equal(t, 40.0, result.TradeScore)
	assert.True(t, result.ShouldTrade, "penalized score exactly at 40 must be admitted")
}

func TestEnsemble_OneProviderFailureDoesNotCancelOthers(t *testing.T) {
	registry := NewRegistry(
		&stubProvider{id: "p1", err: errors.New("boom")},
		&stubProvider{id: "p2", out: ProviderOutput{Score: 60, ShouldTrade: true, Compliant: true}},
	)
	wt := NewWeightTable()
	seedWeights(wt, RegimeTrending, map[string]float64{"p1": 0.5, "p2": 0.5})
	ensemble := NewEnsemble(registry, wt)

	result := ensemble.Evaluate(context.Background(), Request{Regime: RegimeTrending})
	require.Len(t, result.ProviderOutputs, 2)
	assert.False(t, result.ProviderOutputs[0].Compliant)
	assert.True(t, result.ProviderOutputs[1].Compliant)
	assert.Equal(t, 60.0, result.TradeScore)
}
