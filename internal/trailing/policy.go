package trailing

import "github.com/markcheno/go-talib"

// ATRPeriod is the look-back window for the real ATR computation used once
// a position has accumulated enough price history.
const ATRPeriod = 14

// PolicyKind identifies which stop-price policy is active. A single
// configuration object is active at any time; switching is atomic.
type PolicyKind string

const (
	PolicyFixedPct       PolicyKind = "fixed_pct"
	PolicyATRMultiple    PolicyKind = "atr_multiple"
	PolicyBreakevenTrail PolicyKind = "breakeven_trail"
)

// Policy is the active stop-price configuration. Only the fields relevant
// to Kind are meaningful.
type Policy struct {
	Kind PolicyKind

	FixedPct float64 // fixed_pct(p)

	ATRMultiple float64 // atr_multiple(k)

	BreakevenTriggerR   float64 // breakeven_trail(be_trigger_r, ...)
	PostBreakevenTrailPct float64
}

// candidate computes the candidate stop price for a position under the
// active policy, or nil if the policy declines to move the stop (under
// breakeven_trail before the trigger fires) or Kind is not a known policy.
func (p Policy) candidate(pos *Position) *float64 {
	switch p.Kind {
	case PolicyFixedPct:
		v := fixedPctCandidate(pos, p.FixedPct)
		return &v
	case PolicyATRMultiple:
		v := atrMultipleCandidate(pos, p.ATRMultiple)
		return &v
	case PolicyBreakevenTrail:
		return p.breakevenTrailCandidate(pos)
	default:
		return nil
	}
}

// fixedPctCandidate: hwm*(1-p/100) for long, hwm*(1+p/100) for short.
func fixedPctCandidate(pos *Position, pct float64) float64 {
	if pos.IsLong() {
		return pos.HighWaterMark * (1 - pct/100)
	}
	return pos.HighWaterMark * (1 + pct/100)
}

// atrProxy is the fallback average-true-range stand-in used before a
// position has accumulated ATRPeriod+1 price observations: 2% of average
// cost.
func atrProxy(avgCost float64) float64 {
	return avgCost * 0.02
}

// atrOf computes the real ATR from a position's price history, treating
// each observation as its own high/low/close (the trailing executor only
// sees one tick per update, not full OHLC bars). Falls back to atrProxy
// when there isn't yet enough history for a stable ATRPeriod-window read.
func atrOf(pos *Position) float64 {
	hist := pos.PriceHistory
	if len(hist) < ATRPeriod+1 {
		return atrProxy(pos.AverageCost)
	}
	atrSeries := talib.Atr(hist, hist, hist, ATRPeriod)
	last := atrSeries[len(atrSeries)-1]
	if last <= 0 {
		return atrProxy(pos.AverageCost)
	}
	return last
}

// atrMultipleCandidate: hwm-k*atr for long, hwm+k*atr for short.
func atrMultipleCandidate(pos *Position, k float64) float64 {
	distance := k * atrOf(pos)
	if pos.IsLong() {
		return pos.HighWaterMark - distance
	}
	return pos.HighWaterMark + distance
}

// rMultiple estimates the trade's R-multiple: unrealized_pnl / (avg_cost *
// |qty| * 0.02).
func rMultiple(pos *Position) float64 {
	denom := pos.AverageCost * absFloat(pos.Quantity) * 0.02
	if denom == 0 {
		return 0
	}
	return pos.UnrealizedPnL / denom
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// breakevenTrailCandidate implements the three-branch breakeven_trail
// policy. It mutates pos.BreakevenTriggered when the r-multiple
// crosses the configured trigger for the first time.
func (p Policy) breakevenTrailCandidate(pos *Position) *float64 {
	r := rMultiple(pos)

	if !pos.BreakevenTriggered {
		if r < p.BreakevenTriggerR {
			return nil
		}
		pos.BreakevenTriggered = true
		v := pos.AverageCost
		return &v
	}

	v := fixedPctCandidate(pos, p.PostBreakevenTrailPct)
	return &v
}

// tightens reports whether candidate improves on the committed stop price
// per the monotonicity invariant: non-decreasing for long, non-increasing
// for short. A position with no committed stop yet always accepts the
// first candidate.
func tightens(pos *Position, candidate float64) bool {
	if pos.StopPrice == nil {
		return true
	}
	if pos.IsLong() {
		return candidate > *pos.StopPrice
	}
	return candidate < *pos.StopPrice
}
