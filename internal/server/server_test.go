package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ibkr-bridge/internal/config"
	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/ibkr"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/aristath/ibkr-bridge/internal/risk"
	"github.com/aristath/ibkr-bridge/internal/scoring"
	"github.com/aristath/ibkr-bridge/internal/testutil"
	"github.com/aristath/ibkr-bridge/internal/trailing"
)

// withURLParam injects a chi URL parameter into the request context, for
// unit-testing a handler directly without routing a request through the
// full chi.Mux.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// fakeTransport is an in-memory ibkr.Transport double, mirroring the one
// internal/ibkr keeps for its own tests — it isn't exported, so the server
// package's tests need their own copy of the same idiom.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	events    chan ibkr.InboundEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan ibkr.InboundEvent, 8)}
}

func (f *fakeTransport) Connect(ctx context.Context, host string, port int, clientID int) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeTransport) Send(msg ibkr.OutboundMessage) error { return nil }
func (f *fakeTransport) Events() <-chan ibkr.InboundEvent    { return f.events }
func (f *fakeTransport) OnReconnect(fn func())                {}

func newTestServer(t *testing.T) (*Server, persistence.Store) {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t)
	t.Cleanup(cleanup)
	store := persistence.NewSQLiteStore(db)

	log := zerolog.Nop()
	bus := events.NewBus(log)

	transport := newFakeTransport()
	conn := ibkr.NewConnection(transport, log)
	disp := ibkr.NewDispatcher(conn, log)

	clock := risk.SystemClock{}
	session := risk.NewSession(clock)
	riskCfg := risk.Resolve(riskEnvFloor(), risk.RuntimeOverrides{})
	// brokerPort 7497 is a paper-trading port (internal/risk/gate.go
	// paperPorts), so Check admits unconditionally regardless of session
	// lock / trading-hours state — deterministic for the happy-path tests.
	gate := risk.NewGate(riskCfg, session, clock, 7497)

	book := trailing.NewBook()
	registry := scoring.NewRegistry()
	weights := scoring.NewWeightTable()
	ensemble := scoring.NewEnsemble(registry, weights)

	srv := New(Config{
		Port:       0,
		DevMode:    true,
		Log:        log,
		Store:      store,
		Bus:        bus,
		Connection: conn,
		Dispatcher: disp,
		Gate:       gate,
		Session:    session,

		TrailingBook: book,
		Ensemble:     ensemble,
	})
	return srv, store
}

// riskEnvFloor builds a permissive env-floor config.RiskConfig for tests.
func riskEnvFloor() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderSize:        1000,
		MaxNotionalValue:    50000,
		MaxOrdersPerMinute:  10,
		MinSharePrice:       1.0,
		MaxDailyLoss:        500,
		MaxDailyTrades:      20,
		ConsecutiveLossMax:  3,
		CooldownMinutes:     30,
		LateLockoutMinutes:  15,
		AccountEquityBase:   100000,
		MaxPositionPct:      0.10,
		MaxDailyLossPct:     0.02,
		MaxConcentrationPct: 0.20,
		VolatilityScalar:    1.0,
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.BrokerConnected)
}

func TestHandleGetOrder_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/999", nil)
	req = withURLParam(req, "brokerID", "999")
	w := httptest.NewRecorder()
	srv.handleGetOrder(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetOrder_Found(t *testing.T) {
	srv, store := newTestServer(t)

	require.NoError(t, store.InsertOrder(&persistence.Order{
		OrderID:       42,
		Symbol:        "AAPL",
		Side:          persistence.SideBuy,
		Type:          persistence.OrderTypeMKT,
		Quantity:      10,
		TIF:           persistence.TIFDay,
		CorrelationID: "corr-1",
		Status:        persistence.OrderSubmitted,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)
	req = withURLParam(req, "brokerID", "42")
	w := httptest.NewRecorder()
	srv.handleGetOrder(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got persistence.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "AAPL", got.Symbol)
}

func TestHandleIngestAlert_NewAlertIsNotDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"symbol":"MSFT"}`
	req := httptest.NewRequest(http.MethodPost, "/api/alerts", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleIngestAlert(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ingestAlertResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Duplicate)
	assert.NotZero(t, resp.ID)
}

func TestHandleRecentAlerts(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{`{"symbol":"AAPL"}`, `{"symbol":"TSLA"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/alerts", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.handleIngestAlert(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	w := httptest.NewRecorder()
	srv.handleRecentAlerts(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var alerts []persistence.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 2)
}

func TestHandleEvaluate_NoProvidersStillPersists(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"symbol":"AAPL","feature_vector":{"rsi":70},"regime":"trend"}`
	req := httptest.NewRequest(http.MethodPost, "/api/evaluations", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleEvaluate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var eval persistence.Evaluation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eval))
	assert.NotZero(t, eval.ID)
	assert.Equal(t, "trend", eval.Regime)
}

func TestHandleSessionSnapshotAndUnlock(t *testing.T) {
	srv, _ := newTestServer(t)

	srv.cfg.Session.Lock("manual test lock")

	req := httptest.NewRequest(http.MethodGet, "/api/risk/session", nil)
	w := httptest.NewRecorder()
	srv.handleSessionSnapshot(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var snap risk.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Locked)

	req = httptest.NewRequest(http.MethodPost, "/api/risk/session/unlock", nil)
	w = httptest.NewRecorder()
	srv.handleSessionUnlock(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.False(t, snap.Locked)
}

func TestHandleTrailingPositions_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trailing/positions", nil)
	w := httptest.NewRecorder()
	srv.handleTrailingPositions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var positions []trailing.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &positions))
	assert.Empty(t, positions)
}

func TestHandlePlaceOrder_InvalidOrderType(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"symbol":"AAPL","side":"BUY","type":"BOGUS","quantity":10}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handlePlaceOrder(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMCPToolsIntrospection(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/mcp/tools", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, MCPServerName, body["server"])
}
