// Package runtime wires every process-wide singleton the bridge needs —
// session state, ticker cache, subscription registry, trailing-stop
// executor, Bayesian weight tables — behind one explicit init/teardown
// context: singletons live behind explicit init/teardown functions and
// hand out their handles via a runtime context, never through implicit
// package-level access.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ibkr-bridge/internal/config"
	"github.com/aristath/ibkr-bridge/internal/database"
	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/ibkr"
	"github.com/aristath/ibkr-bridge/internal/loops"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/aristath/ibkr-bridge/internal/risk"
	"github.com/aristath/ibkr-bridge/internal/scoring"
	"github.com/aristath/ibkr-bridge/internal/scoring/providers"
	"github.com/aristath/ibkr-bridge/internal/trailing"
	"github.com/aristath/ibkr-bridge/pkg/tunnel"
)

// AutoEvalConcurrency bounds how many alert evaluations run at once.
const AutoEvalConcurrency = 4

// AutoEvalDedupWindow is the window within which a repeat alert for the
// same (symbol, strategy) is dropped rather than re-evaluated.
const AutoEvalDedupWindow = 5 * time.Minute

// TrailingTickInterval is how often the trailing-stop executor re-checks
// every open position against its active policy.
const TrailingTickInterval = 15 * time.Second

// Runtime holds every singleton handle the server and background loops
// share. Nothing outside this package constructs these collaborators
// directly — callers receive the Runtime and read its exported handles.
type Runtime struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *database.DB
	Store persistence.Store
	Bus   *events.Bus

	Connection   *ibkr.Connection
	Dispatcher   *ibkr.Dispatcher
	Subscriptions *ibkr.Registry
	Tickers      *ibkr.TickerCache
	Writer       *ibkr.Writer

	Session *risk.Session
	Gate    *risk.Gate

	TrailingBook     *trailing.Book
	TrailingExecutor *trailing.Executor

	ScoringRegistry *scoring.Registry
	Weights         *scoring.WeightTable
	Ensemble        *scoring.Ensemble

	Prober  *tunnel.Prober
	AutoEval      *loops.AutoEval
	TrailingTick  *loops.TrailingTick
	TunnelMonitor *loops.TunnelMonitor

	cancel context.CancelFunc
}

// brokerModifier adapts ibkr order-modification onto trailing.Modifier.
// The broker wire protocol for a stop-price change is itself a PlaceOrder
// call with the existing broker order id and transmit=true — there is no
// separate "modify" message.
type brokerModifier struct {
	conn *ibkr.Connection
	disp *ibkr.Dispatcher
}

func (m brokerModifier) ModifyStopPrice(ctx context.Context, order *persistence.Order, newStopPrice float64, ocaGroup *string) error {
	req := ibkr.NewStopOrder(order.Symbol, order.Side, order.Quantity, newStopPrice, order.TIF)
	_, err := ibkr.PlaceOrder(ctx, m.conn, m.disp, req, order.CorrelationID)
	return err
}

// orderLookupAdapter narrows persistence.OrderStore down to the one method
// trailing.Executor needs.
type orderLookupAdapter struct {
	store persistence.OrderStore
}

func (a orderLookupAdapter) GetOrderByBrokerID(orderID int64) (*persistence.Order, error) {
	return a.store.GetOrderByBrokerID(orderID)
}

// Init builds every singleton and wires their dependencies, but does not
// start background goroutines or dial the broker — call Start for that.
func Init(cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	db, err := database.New(database.Config{Path: cfg.DBPath, Profile: database.ProfileStandard, Name: "bridge"})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store := persistence.NewSQLiteStore(db)
	bus := events.NewBus(log)

	transport := ibkr.NewWebSocketTransport(log)
	conn := ibkr.NewConnection(transport, log)
	disp := ibkr.NewDispatcher(conn, log)
	subs := ibkr.NewRegistry(conn, disp, log)
	tickers := ibkr.NewTickerCache()
	if snap, ok, err := store.LoadTickerSnapshot(); err != nil {
		log.Warn().Err(err).Msg("failed to load ticker cache snapshot, starting cold")
	} else if ok {
		if err := tickers.LoadSnapshot(snap); err != nil {
			log.Warn().Err(err).Msg("failed to decode ticker cache snapshot, starting cold")
		}
	}
	writer := ibkr.NewWriter(store, bus, log)

	clock := risk.SystemClock{}
	session := risk.NewSession(clock)
	riskCfg := risk.Resolve(cfg.Risk, loadRuntimeOverrides(store))
	gate := risk.NewGate(riskCfg, session, clock, cfg.IBKR.Port)

	book := trailing.NewBook()
	modifier := brokerModifier{conn: conn, disp: disp}
	lookup := orderLookupAdapter{store: store}
	executor := trailing.NewExecutor(book, lookup, modifier, log)

	registry := scoring.NewRegistry()
	weights := scoring.NewWeightTable()
	ensemble := scoring.NewEnsemble(registry, weights)

	var prober *tunnel.Prober
	var tunnelMonitor *loops.TunnelMonitor
	if cfg.Tunnel.URL != "" {
		controller := tunnel.NoopController{}
		prober = tunnel.NewProber(cfg.Tunnel.URL, time.Duration(cfg.Tunnel.ProbeIntervalSec)*time.Second, 10*time.Second, controller, log)
		tunnelMonitor = loops.NewTunnelMonitor(prober, bus, log)
	}

	autoEval := loops.NewAutoEval(ensemble, store, bus, AutoEvalConcurrency, AutoEvalDedupWindow, log)
	autoEval.SetEnabled(true)
	trailingTick := loops.NewTrailingTick(executor, bus, log)

	return &Runtime{
		Config: cfg,
		Log:    log,

		DB:    db,
		Store: store,
		Bus:   bus,

		Connection:    conn,
		Dispatcher:    disp,
		Subscriptions: subs,
		Tickers:       tickers,
		Writer:        writer,

		Session: session,
		Gate:    gate,

		TrailingBook:     book,
		TrailingExecutor: executor,

		ScoringRegistry: registry,
		Weights:         weights,
		Ensemble:        ensemble,

		Prober:        prober,
		AutoEval:      autoEval,
		TrailingTick:  trailingTick,
		TunnelMonitor: tunnelMonitor,
	}, nil
}

// loadRuntimeOverrides reads the persistence-backed risk-config table and
// maps present rows onto risk.RuntimeOverrides. Absent rows leave the
// corresponding field nil, so Resolve falls through to the env/floor.
func loadRuntimeOverrides(store persistence.RiskConfigStore) risk.RuntimeOverrides {
	var out risk.RuntimeOverrides
	assign := func(key string, dst **float64) {
		if v, ok, err := store.GetRiskConfig(key); err == nil && ok {
			val := v
			*dst = &val
		}
	}
	assignInt := func(key string, dst **int) {
		if v, ok, err := store.GetRiskConfig(key); err == nil && ok {
			val := int(v)
			*dst = &val
		}
	}
	assign("max_daily_loss", &out.MaxDailyLoss)
	assignInt("max_daily_trades", &out.MaxDailyTrades)
	assignInt("consecutive_loss_limit", &out.ConsecutiveLossLimit)
	assignInt("cooldown_minutes", &out.CooldownMinutes)
	assignInt("late_day_lockout_minutes", &out.LateDayLockoutMinutes)
	assign("max_order_size", &out.MaxOrderSize)
	assign("max_notional_value", &out.MaxNotionalValue)
	assign("account_equity_base", &out.AccountEquityBase)
	assign("max_position_pct", &out.MaxPositionPct)
	assign("max_concentration_pct", &out.MaxConcentrationPct)
	assign("volatility_scalar", &out.VolatilityScalar)
	assignInt("max_orders_per_minute", &out.MaxOrdersPerMinute)
	assign("min_share_price", &out.MinSharePrice)
	return out
}

// RegisterProvider adds a scoring provider to the ensemble's registry. It
// must be called before the first Evaluate call that depends on it — the
// registry has no synchronization for concurrent Add/Providers use.
func (rt *Runtime) RegisterProvider(id, baseURL string, timeout time.Duration) {
	rt.ScoringRegistry.Add(providers.NewHTTPProvider(id, baseURL, timeout))
}

// Start dials the broker, attaches the event writer, and launches every
// background loop. The run context it derives from ctx is cancelled by
// Shutdown.
func (rt *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	go rt.Dispatcher.Run(runCtx)

	if err := rt.Connection.Connect(runCtx, rt.Config.IBKR.Host, rt.Config.IBKR.Port, rt.Config.IBKR.ClientID, ibkr.Mode(rt.Config.IBKR.Mode)); err != nil {
		cancel()
		return fmt.Errorf("connect to broker: %w", err)
	}

	rt.Writer.Attach(runCtx, rt.Dispatcher)
	go rt.Tickers.RunDispatcher(runCtx, rt.Dispatcher)

	go rt.TrailingTick.Run(runCtx, TrailingTickInterval)
	go rt.AutoEval.RunDedupSweep(runCtx, loops.DedupSweepSchedule)
	if rt.TunnelMonitor != nil {
		go rt.TunnelMonitor.Run(runCtx, time.Duration(rt.Config.Tunnel.ProbeIntervalSec)*time.Second)
	}

	return nil
}

// Shutdown stops every background loop and releases the database handle.
// It is safe to call even if Start failed partway through.
func (rt *Runtime) Shutdown() error {
	if rt.cancel != nil {
		rt.cancel()
	}
	if err := rt.Connection.Disconnect(); err != nil {
		rt.Log.Warn().Err(err).Msg("broker disconnect returned an error during shutdown")
	}
	if snap, err := rt.Tickers.SnapshotBytes(); err != nil {
		rt.Log.Warn().Err(err).Msg("failed to encode ticker cache snapshot")
	} else if err := rt.Store.SaveTickerSnapshot(snap); err != nil {
		rt.Log.Warn().Err(err).Msg("failed to persist ticker cache snapshot")
	}
	return rt.DB.Close()
}
