// Package config loads bridge configuration from environment variables.
//
// Configuration is loaded from environment variables (.env file permitted), and risk
// tunables may additionally be tightened (never relaxed) by a runtime-configured
// collaborator backed by the risk-config persistence contract. See risk.Resolve.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Mode selects which client-id partition the IBKR connection uses.
type Mode string

const (
	ModeREST Mode = "rest"
	ModeMCP  Mode = "mcp"
	ModeBoth Mode = "both"
)

// IBKRConfig holds broker connection settings.
type IBKRConfig struct {
	Host     string
	Port     int
	ClientID int
	Mode     Mode
}

// RiskConfig holds the effective (env-floor) risk tunables. Values here are the
// environment-derived ceiling; the risk gate further tightens them against any
// runtime-configured value loaded from the risk-config persistence collaborator.
type RiskConfig struct {
	MaxOrderSize        float64
	MaxNotionalValue    float64
	MaxOrdersPerMinute  int
	MinSharePrice       float64
	MaxDailyLoss        float64
	MaxDailyTrades      int
	ConsecutiveLossMax  int
	CooldownMinutes     int
	LateLockoutMinutes  int
	AccountEquityBase   float64
	MaxPositionPct      float64
	MaxDailyLossPct     float64
	MaxConcentrationPct float64
	VolatilityScalar    float64
}

// TunnelConfig holds the tunnel monitor settings.
type TunnelConfig struct {
	URL              string
	ProbeIntervalSec int
	FailureThreshold int
}

// Config holds application configuration.
type Config struct {
	DataDir  string
	DBPath   string
	LogLevel string
	Port     int
	APIKey   string

	IBKR   IBKRConfig
	Risk   RiskConfig
	Tunnel TunnelConfig
}

// Load reads configuration from environment variables (and .env, if present).
//
// dbPathOverride, when non-empty, takes precedence over TRADER_DATA_DIR/defaults,
// mirroring the --db-path CLI flag's priority over the environment.
func Load(dbPathOverride string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := dbPathOverride
	if dbPath == "" {
		dbPath = filepath.Join(absDataDir, "bridge.db")
	}

	cfg := &Config{
		DataDir:  absDataDir,
		DBPath:   dbPath,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		APIKey:   getEnv("API_KEY", ""),

		IBKR: IBKRConfig{
			Host:     getEnv("IBKR_HOST", "127.0.0.1"),
			Port:     getEnvAsInt("IBKR_PORT", 7497),
			ClientID: getEnvAsInt("IBKR_CLIENT_ID", 1),
			Mode:     Mode(getEnv("IBKR_MODE", string(ModeREST))),
		},

		Risk: RiskConfig{
			MaxOrderSize:        getEnvAsFloat("RISK_MAX_ORDER_SIZE", 1000),
			MaxNotionalValue:    getEnvAsFloat("RISK_MAX_NOTIONAL", 50000),
			MaxOrdersPerMinute:  getEnvAsInt("RISK_MAX_ORDERS_PER_MIN", 10),
			MinSharePrice:       getEnvAsFloat("RISK_MIN_PRICE", 1.0),
			MaxDailyLoss:        getEnvAsFloat("RISK_MAX_DAILY_LOSS", 500),
			MaxDailyTrades:      getEnvAsInt("RISK_MAX_DAILY_TRADES", 20),
			ConsecutiveLossMax:  getEnvAsInt("RISK_CONSEC_LOSS_LIMIT", 3),
			CooldownMinutes:     getEnvAsInt("RISK_COOLDOWN_MINUTES", 30),
			LateLockoutMinutes:  getEnvAsInt("RISK_LATE_LOCKOUT_MIN", 15),
			AccountEquityBase:   getEnvAsFloat("RISK_ACCOUNT_EQUITY_BASE", 100000),
			MaxPositionPct:      getEnvAsFloat("RISK_MAX_POSITION_PCT", 0.10),
			MaxDailyLossPct:     getEnvAsFloat("RISK_MAX_DAILY_LOSS_PCT", 0.02),
			MaxConcentrationPct: getEnvAsFloat("RISK_MAX_CONCENTRATION_PCT", 0.20),
			VolatilityScalar:    getEnvAsFloat("RISK_VOLATILITY_SCALAR", 1.0),
		},

		Tunnel: TunnelConfig{
			URL:              getEnv("TUNNEL_URL", ""),
			ProbeIntervalSec: getEnvAsInt("TUNNEL_PROBE_INTERVAL_SEC", 30),
			FailureThreshold: getEnvAsInt("TUNNEL_FAILURE_THRESHOLD", 3),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
