package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

// wednesdayNoon is squarely inside regular trading hours and far from the
// late-day lockout window, used as the baseline "everything admits" time
// for tests that aren't exercising the calendar checks themselves.
func wednesdayNoon() time.Time {
	return time.Date(2026, 7, 29, 12, 0, 0, 0, NewYorkLocation)
}

func testConfig() Config {
	return Config{
		MaxDailyLoss:          500,
		MaxDailyTrades:        20,
		ConsecutiveLossLimit:  3,
		CooldownMinutes:       30,
		LateDayLockoutMinutes: 15,
		MaxOrderSize:          1000,
		MaxNotionalValue:      25000,
		AccountEquityBase:     100000,
		MaxPositionPct:        0.10,
		MaxConcentrationPct:   0.10,
		VolatilityScalar:      1.0,
		MaxOrdersPerMinute:    10,
		MinSharePrice:         1.0,
	}
}

func newTestGate(clock *fakeClock) (*Gate, *Session) {
	session := NewSession(clock)
	gate := NewGate(testConfig(), session, clock, 7496) // non-paper port
	return gate, session
}

func limitOrder(qty, price float64) OrderRequest {
	return OrderRequest{Symbol: "AAPL", Side: "BUY", Type: "LMT", Quantity: qty, LimitPrice: &price}
}

func TestGate_PaperPortBypassesEverything(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	session := NewSession(clock)
	session.Lock("manual lock")
	gate := NewGate(testConfig(), session, clock, 7497) // paper port

	d := gate.Check(limitOrder(1000000, 5000))
	assert.True(t, d.Allowed)
}

func TestGate_DeniesWhenSessionLocked(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	gate, session := newTestGate(clock)
	session.Lock("daily loss breach")

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "locked")
}

func TestGate_DeniesOnDailyLossLimit(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	gate, session := newTestGate(clock)
	session.RecordTrade(-500)

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
	assert.Regexp(t, "Daily loss limit", d.Reason)
}

func TestGate_DeniesOnTradeCountCap(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	gate, session := newTestGate(clock)
	for i := 0; i < 20; i++ {
		session.RecordTrade(1)
	}

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
	assert.Regexp(t, "trade count limit", d.Reason)
}

func TestGate_ConsecutiveLossCooldown(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	gate, session := newTestGate(clock)
	session.RecordTrade(-1)
	session.RecordTrade(-1)
	session.RecordTrade(-1)

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
	assert.Regexp(t, "cooldown", d.Reason)

	clock.t = clock.t.Add(31 * time.Minute)
	d = gate.Check(limitOrder(10, 100))
	assert.True(t, d.Allowed)
}

func TestGate_DeniesOutsideRegularTradingHours(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 29, 20, 0, 0, 0, NewYorkLocation)}
	gate, _ := newTestGate(clock)

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
	assert.Regexp(t, "trading hours", d.Reason)
}

func TestGate_DeniesOnWeekend(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, NewYorkLocation)} // Saturday
	gate, _ := newTestGate(clock)

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
}

func TestGate_DeniesInLateDayLockoutWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 29, 15, 50, 0, 0, NewYorkLocation)}
	gate, _ := newTestGate(clock)

	d := gate.Check(limitOrder(10, 100))
	require.False(t, d.Allowed)
	assert.Regexp(t, "lockout", d.Reason)
}

func TestGate_OrderSizeCapBoundary(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	gate, _ := newTestGate(clock)

	d := gate.Check(limitOrder(1000, 10))
	assert.True(t, d.Allowed, "quantity at cap must be admitted")

	gate2, _ := newTestGate(clock)
	d2 := gate2.Check(limitOrder(1001, 10))
	require.False(t, d2.Allowed)
	assert.Regexp(t, "Order size", d2.Reason)
}

func TestGate_NotionalCapUsesDynamicMinimum(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	cfg := testConfig()
	cfg.MaxNotionalValue = 1000000 // static cap far above the dynamic one
	cfg.AccountEquityBase = 100000
	cfg.MaxPositionPct = 0.10
	cfg.MaxConcentrationPct = 0.05 // the binding constraint: 100000*0.05*1.0 = 5000
	session := NewSession(clock)
	gate := NewGate(cfg, session, clock, 7496)

	d := gate.Check(limitOrder(49, 100)) // 4900 <= 5000
	assert.True(t, d.Allowed)

	d2 := gate.Check(limitOrder(51, 100)) // 5100 > 5000
	require.False(t, d2.Allowed)
	assert.Regexp(t, "Notional", d2.Reason)
}

func TestGate_OrderRateLimitWindowEviction(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	cfg := testConfig()
	cfg.MaxOrdersPerMinute = 2
	session := NewSession(clock)
	gate := NewGate(cfg, session, clock, 7496)

	require.True(t, gate.Check(limitOrder(1, 10)).Allowed)
	require.True(t, gate.Check(limitOrder(1, 10)).Allowed)

	d := gate.Check(limitOrder(1, 10))
	require.False(t, d.Allowed)
	assert.Regexp(t, "rate limit", d.Reason)

	clock.t = clock.t.Add(61 * time.Second)
	d2 := gate.Check(limitOrder(1, 10))
	assert.True(t, d2.Allowed, "window must evict entries older than 60s")
}

func TestGate_DeniesBelowMinSharePrice(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	gate, _ := newTestGate(clock)

	d := gate.Check(limitOrder(10, 0.50))
	require.False(t, d.Allowed)
	assert.Regexp(t, "below minimum", d.Reason)
}

func TestGate_TighteningCapNeverTurnsDenialIntoAdmission(t *testing.T) {
	clock := &fakeClock{t: wednesdayNoon()}
	loose := testConfig()
	tight := testConfig()
	tight.MaxOrderSize = loose.MaxOrderSize / 2

	looseGate := NewGate(loose, NewSession(clock), clock, 7496)
	tightGate := NewGate(tight, NewSession(clock), clock, 7496)

	req := limitOrder(loose.MaxOrderSize, 10)
	looseDecision := looseGate.Check(req)
	tightDecision := tightGate.Check(req)

	if !looseDecision.Allowed {
		return
	}
	assert.False(t, tightDecision.Allowed, "a tighter cap must never admit what a looser cap denied")
}
