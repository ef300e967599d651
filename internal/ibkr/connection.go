package ibkr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Mode partitions the broker client id space between co-resident processes
// so overlapping ids cannot evict each other's session.
type Mode string

const (
	ModeREST Mode = "rest"
	ModeMCP  Mode = "mcp"
	ModeBoth Mode = "both"
)

// Connection is the process-wide broker session. It owns request-id
// allocation and reconnect notification; it does not itself interpret
// broker events — the Dispatcher is the single reader of Events() and fans
// them out to the Adapter, the event→DB writer, and the ticker dispatcher.
type Connection struct {
	transport Transport
	log       zerolog.Logger

	mu       sync.RWMutex
	host     string
	port     int
	clientID int
	mode     Mode

	reqID atomic.Int64

	reconnectMu  sync.Mutex
	reconnectFns []func()
}

// NewConnection wires a Connection around an already-constructed Transport.
func NewConnection(transport Transport, log zerolog.Logger) *Connection {
	c := &Connection{
		transport: transport,
		log:       log.With().Str("component", "ibkr_connection").Logger(),
	}
	transport.OnReconnect(c.handleReconnect)
	return c
}

// Connect dials the broker. client_id must be distinct across co-resident
// processes in different modes; callers are expected to derive distinct
// ids per mode (e.g. base id for rest, base+1 for mcp).
func (c *Connection) Connect(ctx context.Context, host string, port int, clientID int, mode Mode) error {
	c.mu.Lock()
	c.host, c.port, c.clientID, c.mode = host, port, clientID, mode
	c.mu.Unlock()

	if err := c.transport.Connect(ctx, host, port, clientID); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	c.log.Info().Str("host", host).Int("port", port).Int("client_id", clientID).Str("mode", string(mode)).Msg("connected to broker")
	return nil
}

func (c *Connection) Disconnect() error {
	return c.transport.Disconnect()
}

func (c *Connection) IsConnected() bool {
	return c.transport.IsConnected()
}

// GetNextReqID returns a fresh monotonically increasing request id.
func (c *Connection) GetNextReqID() int64 {
	return c.reqID.Add(1)
}

// Port reports the configured broker port; the risk gate's paper-trading
// bypass reads it via a narrower accessor rather than reaching into Connection.
func (c *Connection) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// Mode reports the partition this process was connected under.
func (c *Connection) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// OnReconnect registers a callback invoked after the transport re-establishes
// its socket. Used by the subscription registry to resubscribe.
func (c *Connection) OnReconnect(fn func()) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	c.reconnectFns = append(c.reconnectFns, fn)
}

func (c *Connection) handleReconnect() {
	c.reconnectMu.Lock()
	fns := append([]func(){}, c.reconnectFns...)
	c.reconnectMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Send forwards a request to the transport; adapters use this to dispatch
// the initial request after registering listeners.
func (c *Connection) Send(msg OutboundMessage) error {
	return c.transport.Send(msg)
}

// Events exposes the raw inbound event channel. Its one reader is the
// Dispatcher, which multiplexes it to the adapter, ticker dispatcher, and
// persistent writer.
func (c *Connection) Events() <-chan InboundEvent {
	return c.transport.Events()
}

// ClientIDForMode derives a partitioned client id so REST-mode and MCP-mode
// processes connecting to the same gateway never collide.
func ClientIDForMode(base int, mode Mode) int {
	switch mode {
	case ModeMCP:
		return base + 1
	default:
		return base
	}
}
