package risk

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aristath/ibkr-bridge/internal/config"
)

// Config is the fully-resolved set of risk tunables the gate checks
// against. Every field here is the EFFECTIVE value — already reduced
// through the hard-floor/env/runtime precedence chain.
type Config struct {
	MaxDailyLoss          float64 `yaml:"max_daily_loss"`
	MaxDailyTrades        int     `yaml:"max_daily_trades"`
	ConsecutiveLossLimit  int     `yaml:"consecutive_loss_limit"`
	CooldownMinutes       int     `yaml:"cooldown_minutes"`
	LateDayLockoutMinutes int     `yaml:"late_day_lockout_minutes"`
	MaxOrderSize          float64 `yaml:"max_order_size"`
	MaxNotionalValue      float64 `yaml:"max_notional_value"`
	AccountEquityBase     float64 `yaml:"account_equity_base"`
	MaxPositionPct        float64 `yaml:"max_position_pct"`
	MaxConcentrationPct   float64 `yaml:"max_concentration_pct"`
	VolatilityScalar      float64 `yaml:"volatility_scalar"`
	MaxOrdersPerMinute    int     `yaml:"max_orders_per_minute"`
	MinSharePrice         float64 `yaml:"min_share_price"`
}

// ExportYAML renders the effective risk configuration as YAML, for the
// read-only config-inspection route.
func (c Config) ExportYAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal risk config yaml: %w", err)
	}
	return out, nil
}

// floors are the hard ceilings/floors the source code embeds — no
// configuration source may relax past these: runtime values may only
// tighten, never relax them.
var floors = Config{
	MaxDailyLoss:          500.0,
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

// RuntimeOverrides is the subset of Config an operator may tighten via
// the persistence-backed risk_config table. Every field is a pointer so
// "not set" is distinguishable from "set to zero".
type RuntimeOverrides struct {
	MaxDailyLoss          *float64
	MaxDailyTrades        *int
	ConsecutiveLossLimit  *int
	CooldownMinutes       *int
	LateDayLockoutMinutes *int
	MaxOrderSize          *float64
	MaxNotionalValue      *float64
	AccountEquityBase     *float64
	MaxPositionPct        *float64
	MaxConcentrationPct   *float64
	VolatilityScalar      *float64
	MaxOrdersPerMinute    *int
	MinSharePrice         *float64
}

func minFloat(values ...float64) float64 {
	result := values[0]
	for _, v := range values[1:] {
		if v < result {
			result = v
		}
	}
	return result
}

func minInt(values ...int) int {
	result := values[0]
	for _, v := range values[1:] {
		if v < result {
			result = v
		}
	}
	return result
}

func applyFloat(floor, env float64, override *float64) float64 {
	v := minFloat(floor, env)
	if override != nil {
		v = minFloat(v, *override)
	}
	return v
}

func applyInt(floor, env int, override *int) int {
	v := minInt(floor, env)
	if override != nil {
		v = minInt(v, *override)
	}
	return v
}

// Resolve computes the effective Config field by field from the hard floor,
// the environment layer and the runtime-configured value, keeping the
// strictest of the three: the minimum for caps and limits, and the maximum
// for MinSharePrice, CooldownMinutes and LateDayLockoutMinutes, where a
// larger value is the stricter one. env is the
// already-parsed environment layer from internal/config (the bridge's
// single source of environment parsing); runtime values may only tighten
// it further, never relax it.
func Resolve(env config.RiskConfig, runtime RuntimeOverrides) Config {
	cfg := Config{
		MaxDailyLoss:          applyFloat(floors.MaxDailyLoss, env.MaxDailyLoss, runtime.MaxDailyLoss),
		MaxDailyTrades:        applyInt(floors.MaxDailyTrades, env.MaxDailyTrades, runtime.MaxDailyTrades),
		ConsecutiveLossLimit:  applyInt(floors.ConsecutiveLossLimit, env.ConsecutiveLossMax, runtime.ConsecutiveLossLimit),
		MaxOrderSize:          applyFloat(floors.MaxOrderSize, env.MaxOrderSize, runtime.MaxOrderSize),
		MaxNotionalValue:      applyFloat(floors.MaxNotionalValue, env.MaxNotionalValue, runtime.MaxNotionalValue),
		AccountEquityBase:     applyFloat(floors.AccountEquityBase, env.AccountEquityBase, runtime.AccountEquityBase),
		MaxPositionPct:        applyFloat(floors.MaxPositionPct, env.MaxPositionPct, runtime.MaxPositionPct),
		MaxConcentrationPct:   applyFloat(floors.MaxConcentrationPct, env.MaxConcentrationPct, runtime.MaxConcentrationPct),
		VolatilityScalar:      applyFloat(floors.VolatilityScalar, env.VolatilityScalar, runtime.VolatilityScalar),
		MaxOrdersPerMinute:    applyInt(floors.MaxOrdersPerMinute, env.MaxOrdersPerMinute, runtime.MaxOrdersPerMinute),
	}
	cfg.CooldownMinutes = max(floors.CooldownMinutes, env.CooldownMinutes)
	if runtime.CooldownMinutes != nil {
		cfg.CooldownMinutes = max(cfg.CooldownMinutes, *runtime.CooldownMinutes)
	}
	cfg.LateDayLockoutMinutes = max(floors.LateDayLockoutMinutes, env.LateLockoutMinutes)
	if runtime.LateDayLockoutMinutes != nil {
		cfg.LateDayLockoutMinutes = max(cfg.LateDayLockoutMinutes, *runtime.LateDayLockoutMinutes)
	}
	cfg.MinSharePrice = max(floors.MinSharePrice, env.MinSharePrice)
	if runtime.MinSharePrice != nil {
		cfg.MinSharePrice = max(cfg.MinSharePrice, *runtime.MinSharePrice)
	}
	return cfg
}
