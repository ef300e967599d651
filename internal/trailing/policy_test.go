package trailing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_UpdateHWM_LongTracksMax(t *testing.T) {
	pos := &Position{Quantity: 100}
	pos.UpdateHWM(100)
	pos.UpdateHWM(105)
	pos.UpdateHWM(102)
	assert.Equal(t, 105.0, pos.HighWaterMark)
}

func TestPosition_UpdateHWM_ShortTracksMin(t *testing.T) {
	pos := &Position{Quantity: -100}
	pos.UpdateHWM(100)
	pos.UpdateHWM(95)
	pos.UpdateHWM(98)
	assert.Equal(t, 95.0, pos.HighWaterMark)
}

func TestPosition_UpdateHWM_FirstObservationInitializes(t *testing.T) {
	pos := &Position{Quantity: 100}
	pos.UpdateHWM(50)
	assert.Equal(t, 50.0, pos.HighWaterMark)
}

func TestFixedPctCandidate_Long(t *testing.T) {
	pos := &Position{Quantity: 100, HighWaterMark: 200}
	policy := Policy{Kind: PolicyFixedPct, FixedPct: 5}
	c := policy.candidate(pos)
	require.NotNil(t, c)
	assert.InDelta(t, 190.0, *c, 0.001)
}

func TestFixedPctCandidate_Short(t *testing.T) {
	pos := &Position{Quantity: -100, HighWaterMark: 200}
	policy := Policy{Kind: PolicyFixedPct, FixedPct: 5}
	c := policy.candidate(pos)
	require.NotNil(t, c)
	assert.InDelta(t, 210.0, *c, 0.001)
}

func TestATRMultipleCandidate_Long(t *testing.T) {
	pos := &Position{Quantity: 100, HighWaterMark: 200, AverageCost: 150}
	policy := Policy{Kind: PolicyATRMultiple, ATRMultiple: 2}
	c := policy.candidate(pos)
	require.NotNil(t, c)
	// atr proxy = 150*0.02 = 3; distance = 2*3 = 6; candidate = 200-6 = 194
	assert.InDelta(t, 194.0, *c, 0.001)
}

func TestBreakevenTrail_BeforeTrigger_NoMovement(t *testing.T) {
	pos := &Position{Quantity: 100, AverageCost: 100, HighWaterMark: 102, UnrealizedPnL: 50}
	policy := Policy{Kind: PolicyBreakevenTrail, BreakevenTriggerR: 5, PostBreakevenTrailPct: 2}
	c := policy.candidate(pos)
	assert.Nil(t, c)
	assert.False(t, pos.BreakevenTriggered)
}

func TestBreakevenTrail_AtTrigger_MovesToBreakeven(t *testing.T) {
	// denom = avg_cost*|qty|*0.02 = 100*100*0.02 = 200; r = pnl/denom
	pos := &Position{Quantity: 100, AverageCost: 100, HighWaterMark: 110, UnrealizedPnL: 400} // r = 2
	policy := Policy{Kind: PolicyBreakevenTrail, BreakevenTriggerR: 2, PostBreakevenTrailPct: 2}
	c := policy.candidate(pos)
	require.NotNil(t, c)
	assert.Equal(t, 100.0, *c)
	assert.True(t, pos.BreakevenTriggered)
}

func TestBreakevenTrail_AfterTrigger_UsesFixedPctOffHWM(t *testing.T) {
	pos := &Position{Quantity: 100, AverageCost: 100, HighWaterMark: 120, UnrealizedPnL: 400, BreakevenTriggered: true}
	policy := Policy{Kind: PolicyBreakevenTrail, BreakevenTriggerR: 2, PostBreakevenTrailPct: 2}
	c := policy.candidate(pos)
	require.NotNil(t, c)
	assert.InDelta(t, 117.6, *c, 0.001)
}

func TestTightens_MonotonicityLongAndShort(t *testing.T) {
	stop := 100.0
	longPos := &Position{Quantity: 100, StopPrice: &stop}
	assert.True(t, tightens(longPos, 101))
	assert.False(t, tightens(longPos, 99))

	shortPos := &Position{Quantity: -100, StopPrice: &stop}
	assert.True(t, tightens(shortPos, 99))
	assert.False(t, tightens(shortPos, 101))
}

func TestTightens_NoExistingStopAlwaysAccepts(t *testing.T) {
	pos := &Position{Quantity: 100}
	assert.True(t, tightens(pos, 50))
}
