// Package scoring implements the multi-provider ensemble evaluator: fan-out
// to independent LLM-backed scoring providers, weighted aggregation with a
// disagreement penalty, and Bayesian regime-indexed weight tracking.
package scoring

// Regime is the market-condition bucket the weight table is indexed by.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeChop     Regime = "CHOP"
	RegimeVolatile Regime = "VOLATILE"
)

// Request is the input to one ensemble evaluation: a symbol, a feature
// vector, and the prompt every provider receives.
type Request struct {
	Symbol        string
	FeatureVector map[string]float64
	Prompt        string
	Regime        Regime
}

// ProviderOutput is one provider's raw contribution, prior to aggregation.
type ProviderOutput struct {
	ProviderID  string
	Score       float64 // ∈[0,100]
	ExpectedRR  float64
	Confidence  float64 // ∈[0,1]
	ShouldTrade bool
	RawText     string
	Compliant   bool
}

// Result is the aggregated ensemble outcome.
type Result struct {
	ProviderOutputs     []ProviderOutput
	TradeScore          float64 // penalized, rounded
	Median              float64
	ExpectedRR          float64
	Confidence          float64
	ScoreSpread         float64
	ScoreStdDev         float64
	DisagreementPenalty float64
	Majority            bool
	Unanimous           bool
	ShouldTrade         bool
	Regime              Regime
	WeightsUsed         map[string]float64
}
