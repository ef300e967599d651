package risk

import (
	"fmt"
	"sync"
	"time"
)

// Decision is the gate's verdict: admission denial is returned as
// {allowed: false, reason}, never a thrown failure.
type Decision struct {
	Allowed bool
	Reason  string
}

func admit() Decision { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// OrderRequest is the input to Check — the fields the gate needs, not the
// broker wire shape.
type OrderRequest struct {
	Symbol         string
	Side           string
	Type           string
	Quantity       float64
	LimitPrice     *float64
	StopPrice      *float64
	ReferencePrice *float64
}

// paperPorts are the broker ports whose traffic is treated as paper
// trading: keyed on port numbers. An explicit mode=paper flag would be
// cleaner, but port-keying matches how the paper and live broker gateways
// are actually distinguished in deployment, so the bypass stays
// port-keyed here with its scope clearly labeled.
var paperPorts = map[int]bool{7497: true, 4002: true}

// regularTradingHoursOpen/Close are in America/New_York wall-clock time.
const (
	regularTradingHoursOpenHour  = 9
	regularTradingHoursOpenMin   = 30
	regularTradingHoursCloseHour = 16
	regularTradingHoursCloseMin  = 0
)

// Gate is the pre-trade admission controller. It owns the rate window;
// Session is owned separately and supplied by the caller.
type Gate struct {
	cfg     Config
	session *Session
	clock   Clock

	mu         sync.Mutex
	rateWindow []time.Time

	brokerPort int
}

func NewGate(cfg Config, session *Session, clock Clock, brokerPort int) *Gate {
	return &Gate{cfg: cfg, session: session, clock: clock, brokerPort: brokerPort}
}

// ConfigSnapshot returns the gate's effective risk configuration, for
// read-only inspection routes.
func (g *Gate) ConfigSnapshot() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// referencePrice resolves the price used for notional and min-price checks:
// explicit reference price, else limit price, else stop price.
func referencePrice(req OrderRequest) (float64, bool) {
	if req.ReferencePrice != nil {
		return *req.ReferencePrice, true
	}
	if req.LimitPrice != nil {
		return *req.LimitPrice, true
	}
	if req.StopPrice != nil {
		return *req.StopPrice, true
	}
	return 0, false
}

// Check runs the fail-closed decision chain, first trigger wins. Admission
// and the rate-window append happen inside the same critical section so
// two concurrent admits can never both observe len(window) == cap-1.
func (g *Gate) Check(req OrderRequest) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	// 1. Paper-trading bypass — admits unconditionally, clearly labeled so
	// it cannot silently apply in production.
	if paperPorts[g.brokerPort] {
		return admit()
	}

	snap := g.session.Snapshot()

	// 2. Session lock.
	if snap.Locked {
		return deny(fmt.Sprintf("Session locked: %s", snap.LockReason))
	}

	// 3. Realized P&L floor.
	if snap.RealizedPnL <= -g.cfg.MaxDailyLoss {
		return deny(fmt.Sprintf("Daily loss limit reached: realized P&L %.2f <= -%.2f", snap.RealizedPnL, g.cfg.MaxDailyLoss))
	}

	// 4. Trade count cap.
	if snap.TradeCount >= g.cfg.MaxDailyTrades {
		return deny(fmt.Sprintf("Daily trade count limit reached: %d >= %d", snap.TradeCount, g.cfg.MaxDailyTrades))
	}

	// 5. Consecutive losses + cooldown.
	now := g.clock.Now()
	if snap.ConsecutiveLosses >= g.cfg.ConsecutiveLossLimit {
		cooldown := time.Duration(g.cfg.CooldownMinutes) * time.Minute
		if !snap.LastLossTime.IsZero() && now.Sub(snap.LastLossTime) < cooldown {
			return deny(fmt.Sprintf("Consecutive loss cooldown active: %d losses, %.0fm remaining",
				snap.ConsecutiveLosses, (cooldown - now.Sub(snap.LastLossTime)).Minutes()))
		}
	}

	// 6. Late-day lockout.
	if withinLateLockout(now, g.cfg.LateDayLockoutMinutes) {
		return deny("Late-day lockout window active")
	}

	// 7. Regular trading hours.
	if !withinRegularTradingHours(now) {
		return deny("Outside regular trading hours")
	}

	// 8. Max order size.
	if req.Quantity > g.cfg.MaxOrderSize {
		return deny(fmt.Sprintf("Order size %.2f exceeds max %.2f", req.Quantity, g.cfg.MaxOrderSize))
	}

	// 9. Notional cap.
	refPrice, haveRef := referencePrice(req)
	if haveRef {
		notional := req.Quantity * refPrice
		cap := g.dynamicNotionalCap()
		if notional > cap {
			return deny(fmt.Sprintf("Notional %.2f exceeds cap %.2f", notional, cap))
		}
	}

	// 10. Order rate within trailing 60s.
	g.evictOldRateEntriesLocked(now)
	if len(g.rateWindow) >= g.cfg.MaxOrdersPerMinute {
		return deny(fmt.Sprintf("Order rate limit reached: %d orders in the last 60s", len(g.rateWindow)))
	}

	// 11. Minimum share price.
	if haveRef && refPrice < g.cfg.MinSharePrice {
		return deny(fmt.Sprintf("Reference price %.2f below minimum %.2f", refPrice, g.cfg.MinSharePrice))
	}

	g.rateWindow = append(g.rateWindow, now)
	return admit()
}

// dynamicNotionalCap = min(static cap, equityBase * min(maxPositionPct,
// maxConcentrationPct) * volatilityScalar).
func (g *Gate) dynamicNotionalCap() float64 {
	pct := g.cfg.MaxPositionPct
	if g.cfg.MaxConcentrationPct < pct {
		pct = g.cfg.MaxConcentrationPct
	}
	dynamic := g.cfg.AccountEquityBase * pct * g.cfg.VolatilityScalar
	if dynamic < g.cfg.MaxNotionalValue {
		return dynamic
	}
	return g.cfg.MaxNotionalValue
}

// evictOldRateEntriesLocked drops rate-window timestamps older than 60s.
// Caller must hold g.mu.
func (g *Gate) evictOldRateEntriesLocked(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for ; i < len(g.rateWindow); i++ {
		if g.rateWindow[i].After(cutoff) {
			break
		}
	}
	g.rateWindow = g.rateWindow[i:]
}

func withinRegularTradingHours(t time.Time) bool {
	local := t.In(NewYorkLocation)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), regularTradingHoursOpenHour, regularTradingHoursOpenMin, 0, 0, NewYorkLocation)
	close := time.Date(local.Year(), local.Month(), local.Day(), regularTradingHoursCloseHour, regularTradingHoursCloseMin, 0, 0, NewYorkLocation)
	return !local.Before(open) && local.Before(close)
}

func withinLateLockout(t time.Time, lockoutMinutes int) bool {
	local := t.In(NewYorkLocation)
	close := time.Date(local.Year(), local.Month(), local.Day(), regularTradingHoursCloseHour, regularTradingHoursCloseMin, 0, 0, NewYorkLocation)
	lockoutStart := close.Add(-time.Duration(lockoutMinutes) * time.Minute)
	return !local.Before(lockoutStart) && local.Before(close)
}
