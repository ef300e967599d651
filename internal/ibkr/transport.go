package ibkr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout = 30 * time.Second
	writeWait   = 10 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// OutboundMessage is one request frame sent to the broker.
type OutboundMessage struct {
	Kind    string      `json:"kind"`
	ReqID   int64       `json:"req_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Transport abstracts the broker's bidirectional event-stream socket. The
// wire format is intentionally unspecified, independent of any particular
// client library binding — Connection only requires that events arrive
// on the returned channel in broker emission order and that reconnection
// is observable via OnReconnect.
type Transport interface {
	Connect(ctx context.Context, host string, port int, clientID int) error
	Disconnect() error
	IsConnected() bool
	Send(msg OutboundMessage) error
	Events() <-chan InboundEvent
	OnReconnect(fn func())
}

// wireFrame is the on-wire shape: {"type": "eventType", "payload": {...}}.
type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WebSocketTransport implements Transport over a websocket connection,
// generalizing the HTTP/1.1-forced dial and exponential-backoff reconnect
// loop used for the market-status feed.
type WebSocketTransport struct {
	httpClient *http.Client

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool

	host, clientURL string
	port            int
	clientID        int

	events       chan InboundEvent
	reconnectFns []func()
	log          zerolog.Logger
}

func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewWebSocketTransport builds a transport with an inbound-event buffer of
// size 256; a full buffer applies backpressure to the read loop.
func NewWebSocketTransport(log zerolog.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		httpClient: createHTTP1Client(),
		events:     make(chan InboundEvent, 256),
		log:        log.With().Str("component", "ibkr_transport").Logger(),
	}
}

func (t *WebSocketTransport) Events() <-chan InboundEvent { return t.events }

func (t *WebSocketTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectFns = append(t.reconnectFns, fn)
}

func (t *WebSocketTransport) Connect(ctx context.Context, host string, port int, clientID int) error {
	t.mu.Lock()
	t.host, t.port, t.clientID = host, port, clientID
	t.clientURL = fmt.Sprintf("ws://%s:%d/v1/api?clientId=%d", host, port, clientID)
	t.stopped = false
	t.mu.Unlock()

	return t.dial()
}

func (t *WebSocketTransport) dial() error {
	t.mu.Lock()
	url := t.clientURL
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPClient: t.httpClient})
	if err != nil {
		return fmt.Errorf("dial broker socket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.connCtx = connCtx
	t.cancelFunc = connCancel
	t.connected = true
	t.mu.Unlock()

	go t.readLoop(connCtx)
	return nil
}

func (t *WebSocketTransport) Disconnect() error {
	t.mu.Lock()
	t.stopped = true
	conn := t.conn
	cancel := t.cancelFunc
	t.conn = nil
	t.connCtx = nil
	t.cancelFunc = nil
	t.connected = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("close broker socket: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *WebSocketTransport) Send(msg OutboundMessage) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write broker socket: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) readLoop(ctx context.Context) {
	defer func() {
		t.mu.RLock()
		stopped := t.stopped
		t.mu.RUnlock()
		if !stopped {
			go t.reconnectLoop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn().Err(err).Msg("broker socket read error, triggering reconnect")
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		evt, err := decodeFrame(raw)
		if err != nil {
			t.log.Error().Err(err).Msg("failed to decode broker frame")
			continue
		}
		if evt == nil {
			continue
		}

		select {
		case t.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func decodeFrame(raw []byte) (InboundEvent, error) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame envelope: %w", err)
	}

	switch frame.Type {
	case "order_status":
		var e OrderStatusEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "exec_details":
		var e ExecDetailsEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "commission_report":
		var e CommissionReportEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "open_order":
		var e OpenOrderEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "open_order_end":
		var e OpenOrderEndEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "tick_price":
		var e TickPriceEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "market_data_snapshot_end":
		var e MarketDataSnapshotEndEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "real_time_bar":
		var e RealTimeBarEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "historical_data":
		var e HistoricalDataEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "historical_data_end":
		var e HistoricalDataEndEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "account_update":
		var e AccountUpdateEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "place_order_ack":
		var e PlaceOrderAckEvent
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case "error":
		var e BrokerError
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return nil, err
		}
		return &e, nil
	default:
		return nil, nil
	}
}

func (t *WebSocketTransport) reconnectLoop() {
	attempt := 0
	for {
		t.mu.RLock()
		stopped := t.stopped
		t.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoffDelay(attempt)
		t.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to broker")
		time.Sleep(delay)

		if err := t.dial(); err != nil {
			t.log.Error().Err(err).Int("attempt", attempt).Msg("broker reconnect failed")
			continue
		}

		t.log.Info().Int("attempt", attempt).Msg("reconnected to broker")
		t.mu.RLock()
		fns := append([]func(){}, t.reconnectFns...)
		t.mu.RUnlock()
		for _, fn := range fns {
			fn()
		}
		return
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	if attempt > maxReconnectAttempts {
		return maxReconnectDelay
	}
	return time.Duration(delay)
}
