package scoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// DefaultProviderTimeout bounds a single provider's scoring call; one
// provider's failure or timeout must never cancel the others.
const DefaultProviderTimeout = 8 * time.Second

// MinScoreThreshold is the inclusive penalized-score floor below which a
// majority-favorable ensemble still does not trade.
const MinScoreThreshold = 40.0

// DefaultDisagreementCoefficient is k in the disagreement-penalty formula.
const DefaultDisagreementCoefficient = 1.5

// Ensemble runs provider fan-out and aggregation.
type Ensemble struct {
	registry               *Registry
	weights                *WeightTable
	providerTimeout        time.Duration
	disagreementCoefficient float64
}

func NewEnsemble(registry *Registry, weights *WeightTable) *Ensemble {
	return &Ensemble{
		registry:               registry,
		weights:                weights,
		providerTimeout:        DefaultProviderTimeout,
		disagreementCoefficient: DefaultDisagreementCoefficient,
	}
}

// WeightsYAML exports the ensemble's current per-regime weight table as
// YAML, for the read-only weight-inspection route.
func (e *Ensemble) WeightsYAML() ([]byte, error) {
	return e.weights.ExportYAML()
}

// Evaluate fans out req to every registered provider concurrently, then
// aggregates the compliant outputs.
func (e *Ensemble) Evaluate(ctx context.Context, req Request) Result {
	providers := e.registry.Providers()
	outputs := make([]ProviderOutput, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
			defer cancel()

			out, err := p.Score(taskCtx, req)
			if err != nil {
				outputs[i] = ProviderOutput{ProviderID: p.ID(), Compliant: false}
				return
			}
			out.ProviderID = p.ID()
			outputs[i] = out
		}(i, p)
	}
	wg.Wait()

	// Deterministic in provider-id order after collection: the compliant
	// outputs are sorted by ProviderID before aggregation.
	compliant := make([]ProviderOutput, 0, len(outputs))
	for _, o := range outputs {
		if o.Compliant {
			compliant = append(compliant, o)
		}
	}
	sort.Slice(compliant, func(i, j int) bool { return compliant[i].ProviderID < compliant[j].ProviderID })

	if len(compliant) == 0 {
		return Result{
			ProviderOutputs: outputs,
			Regime:          req.Regime,
			Unanimous:       true,
		}
	}

	return e.aggregate(outputs, compliant, req.Regime)
}

func (e *Ensemble) aggregate(all, compliant []ProviderOutput, regime Regime) Result {
	weights := e.weights.Normalized(regime, compliant)

	var weightedScore, weightedRR, weightedConfidence float64
	scores := make([]float64, 0, len(compliant))
	tradeVotes := 0
	firstVote := compliant[0].ShouldTrade
	unanimous := true

	for _, o := range compliant {
		w := weights[o.ProviderID]
		weightedScore += w * o.Score
		weightedRR += w * o.ExpectedRR
		weightedConfidence += w * o.Confidence
		scores = append(scores, o.Score)
		if o.ShouldTrade {
			tradeVotes++
		}
		if o.ShouldTrade != firstVote {
			unanimous = false
		}
	}

	spread := spreadOf(scores)
	penalty := e.disagreementCoefficient * spread * spread / 10000
	penalizedScore := weightedScore - penalty

	majority := float64(tradeVotes) > float64(len(compliant))/2

	result := Result{
		ProviderOutputs:     all,
		TradeScore:          round2(penalizedScore),
		Median:              round2(medianOf(scores)),
		ExpectedRR:          round2(weightedRR),
		Confidence:          round2(weightedConfidence),
		ScoreSpread:         round2(spread),
		ScoreStdDev:         round2(stddevOf(scores)),
		DisagreementPenalty: round2(penalty),
		Majority:            majority,
		Unanimous:           unanimous,
		Regime:              regime,
		WeightsUsed:         weights,
	}
	result.ShouldTrade = majority && result.TradeScore >= MinScoreThreshold
	return result
}

func spreadOf(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max - min
}

func medianOf(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// stddevOf reports the sample standard deviation of the provider scores,
// a secondary disagreement signal alongside the range-based ScoreSpread.
func stddevOf(scores []float64) float64 {
	if len(scores) < 2 {
		return 0
	}
	return stat.StdDev(scores, nil)
}

// round2 rounds to 2 decimal places using decimal arithmetic so the result
// is stable and reproducible rather than drifting on binary floating
// point.
func round2(v float64) float64 {
	d := decimal.NewFromFloat(v).Round(2)
	out, _ := d.Float64()
	return out
}
