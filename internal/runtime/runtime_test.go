package runtime

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ibkr-bridge/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "runtime_test_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	require.NoError(t, tmpFile.Close())
	t.Cleanup(func() { _ = os.Remove(tmpPath) })

	return &config.Config{
		DBPath:   tmpPath,
		LogLevel: "info",
		Port:     0,
		IBKR: config.IBKRConfig{
			Host:     "127.0.0.1",
			Port:     7497,
			ClientID: 1,
			Mode:     config.ModeREST,
		},
		Risk: config.RiskConfig{
			MaxOrderSize:       1000,
			MaxNotionalValue:   50000,
			MaxOrdersPerMinute: 10,
			MinSharePrice:      1.0,
			MaxDailyLoss:       500,
			MaxDailyTrades:     20,
			ConsecutiveLossMax: 3,
			CooldownMinutes:    30,
			LateLockoutMinutes: 15,
			AccountEquityBase:  100000,
			MaxPositionPct:     0.10,
			MaxDailyLossPct:    0.02,
			MaxConcentrationPct: 0.20,
			VolatilityScalar:   1.0,
		},
		// Tunnel.URL left empty: Init must skip constructing a prober/monitor.
	}
}

func TestInit_WiresEverySingleton(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Init(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.DB.Close()

	assert.NotNil(t, rt.DB)
	assert.NotNil(t, rt.Store)
	assert.NotNil(t, rt.Bus)
	assert.NotNil(t, rt.Connection)
	assert.NotNil(t, rt.Dispatcher)
	assert.NotNil(t, rt.Subscriptions)
	assert.NotNil(t, rt.Tickers)
	assert.NotNil(t, rt.Writer)
	assert.NotNil(t, rt.Session)
	assert.NotNil(t, rt.Gate)
	assert.NotNil(t, rt.TrailingBook)
	assert.NotNil(t, rt.TrailingExecutor)
	assert.NotNil(t, rt.ScoringRegistry)
	assert.NotNil(t, rt.Weights)
	assert.NotNil(t, rt.Ensemble)
	assert.NotNil(t, rt.AutoEval)
	assert.NotNil(t, rt.TrailingTick)

	// No tunnel URL configured: the tunnel prober/monitor stay nil rather
	// than being constructed against an empty target.
	assert.Nil(t, rt.Prober)
	assert.Nil(t, rt.TunnelMonitor)
}

func TestInit_WiresTunnelMonitorWhenURLConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tunnel.URL = "http://127.0.0.1:9"
	cfg.Tunnel.ProbeIntervalSec = 30
	cfg.Tunnel.FailureThreshold = 3

	rt, err := Init(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.DB.Close()

	assert.NotNil(t, rt.Prober)
	assert.NotNil(t, rt.TunnelMonitor)
}

func TestLoadRuntimeOverrides_AbsentRowsLeaveFieldsNil(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Init(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.DB.Close()

	overrides := loadRuntimeOverrides(rt.Store)
	assert.Nil(t, overrides.MaxDailyLoss)
	assert.Nil(t, overrides.MaxDailyTrades)
	assert.Nil(t, overrides.ConsecutiveLossLimit)
}

func TestLoadRuntimeOverrides_PresentRowOverridesFloor(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Init(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.DB.Close()

	require.NoError(t, rt.Store.SetRiskConfig("max_daily_loss", 250))

	overrides := loadRuntimeOverrides(rt.Store)
	require.NotNil(t, overrides.MaxDailyLoss)
	assert.Equal(t, 250.0, *overrides.MaxDailyLoss)
}
