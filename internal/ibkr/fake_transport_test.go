package ibkr

import (
	"context"
	"sync"
)

// fakeTransport is an in-memory Transport double for adapter/subscription
// tests: Send records outbound messages, and tests inject InboundEvents
// directly via push.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	sent         []OutboundMessage
	events       chan InboundEvent
	reconnectFns []func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan InboundEvent, 64)}
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

func (f *fakeTransport) Send(msg OutboundMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Events() <-chan InboundEvent { return f.events }

func (f *fakeTransport) OnReconnect(fn func()) {
	f.mu.Lock()
	f.reconnectFns = append(f.reconnectFns, fn)
	f.mu.Unlock()
}

func (f *fakeTransport) push(evt InboundEvent) {
	f.events <- evt
}

func (f *fakeTransport) triggerReconnect() {
	f.mu.Lock()
	fns := append([]func(){}, f.reconnectFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeTransport) sentMessages() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundMessage{}, f.sent...)
}
