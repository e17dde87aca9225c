// ABOUTME: Manages the single process-wide realtime connection and its lifecycle.
// ABOUTME: Handles connect, heartbeat, bounded reconnect, and teardown.

package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotConnected indicates a send or subscribe was attempted while the
// connection was not established. Recoverable: call Connect and retry
// after the connected callback fires.
var ErrNotConnected = errors.New("not connected")

// ErrConnectionFailed indicates the transport could not be established
// and automatic reconnect attempts are exhausted.
var ErrConnectionFailed = errors.New("connection failed")

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultReconnectDelay = 2 * time.Second
	defaultMaxReconnects  = 5
	defaultPingInterval   = 30 * time.Second
)

// Options tune the connection lifecycle. Zero values take defaults.
type Options struct {
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	Logger               *slog.Logger
}

// Manager owns the one logical connection per client process. Both the
// customer widget and any background pollers must share a single Manager
// rather than opening independent transports.
type Manager struct {
	mu        sync.Mutex
	state     State
	transport Transport
	dialer    Dialer

	// attempts counts reconnects since the last caller-driven connect.
	// Deliberately not reset on a successful automatic reconnect, so a
	// flapping transport cannot retry forever.
	attempts int

	// epoch guards against stale goroutines from a superseded transport
	// acting on the current one. Every lifecycle transition bumps it.
	epoch uint64

	inbound        func(data []byte)
	onConnected    []func()
	onDisconnected []func()
	onError        []func(error)

	opts   Options
	logger *slog.Logger
}

// NewManager creates a Manager that dials with the given Dialer.
func NewManager(dialer Dialer, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnects
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		state:  StateDisconnected,
		dialer: dialer,
		opts:   opts,
		logger: logger.With("component", "conn"),
	}
}

// OnConnected registers a callback invoked after every successful connect,
// including automatic reconnects. Re-subscribing is the caller's job here:
// subscriptions do not survive a disconnect.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnDisconnected registers a callback invoked whenever an established
// connection goes away, solicited or not.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = append(m.onDisconnected, fn)
}

// OnError registers an observer for terminal connection errors. Errors
// are reported here rather than thrown across the send path so a UI can
// recover without crashing.
func (m *Manager) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = append(m.onError, fn)
}

// SetInboundHandler installs the handler for raw inbound frames. The
// dispatcher wires itself in here.
func (m *Manager) SetInboundHandler(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the connection is established.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Connect establishes the transport. Idempotent: calling while already
// connected or connecting is a no-op that does not error. A successful
// caller-driven connect resets the reconnect budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	t, err := m.dialer(ctx)

	m.mu.Lock()
	if m.epoch != epoch || m.state != StateConnecting {
		// A Disconnect raced the dial; discard the result.
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return nil
	}
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	m.attempts = 0
	m.establishLocked(t)
	connected := append([]func(){}, m.onConnected...)
	m.mu.Unlock()

	m.logger.Info("connected")
	for _, fn := range connected {
		fn()
	}
	return nil
}

// establishLocked installs a live transport and starts its goroutines.
// Must be called with mu held.
func (m *Manager) establishLocked(t Transport) {
	m.epoch++
	m.transport = t
	m.state = StateConnected
	go m.readLoop(m.epoch, t)
	go m.heartbeat(m.epoch, t)
}

// Disconnect tears down the transport, clears subscriptions via the
// disconnected hooks, resets reconnect counters, and transitions to
// disconnected. Subscriptions must be explicitly re-established on the
// next connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	t := m.transport
	m.transport = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.attempts = 0
	disconnected := append([]func(){}, m.onDisconnected...)
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if wasConnected {
		for _, fn := range disconnected {
			fn()
		}
	}
	m.logger.Info("disconnected")
}

// Send transmits one frame. Valid only while connected; otherwise it
// fails with ErrNotConnected so callers can surface a delivery failure
// instead of silently dropping the message.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.transport
	m.mu.Unlock()

	if err := t.Send(ctx, data); err != nil {
		return fmt.Errorf("transport send: %w", err)
	}
	return nil
}

// readLoop pumps inbound frames for one transport session. It exits when
// the session is superseded or the transport reports an error.
func (m *Manager) readLoop(epoch uint64, t Transport) {
	ctx := context.Background()
	for {
		data, err := t.Receive(ctx)
		if err != nil {
			m.handleClosure(epoch, err)
			return
		}

		m.mu.Lock()
		stale := m.epoch != epoch
		handler := m.inbound
		m.mu.Unlock()
		if stale {
			return
		}
		if handler != nil {
			handler(data)
		}
	}
}

// handleClosure reacts to an unsolicited transport closure: schedule a
// bounded reconnect, or give up and transition to failed.
func (m *Manager) handleClosure(epoch uint64, cause error) {
	m.mu.Lock()
	if m.epoch != epoch {
		// Solicited teardown or a newer session; nothing to do.
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.transport = nil
	disconnected := append([]func(){}, m.onDisconnected...)

	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.state = StateFailed
		observers := append([]func(error){}, m.onError...)
		m.mu.Unlock()

		for _, fn := range disconnected {
			fn()
		}
		m.logger.Warn("reconnect attempts exhausted", "cause", cause)
		err := fmt.Errorf("%w: reconnect attempts exhausted: %v", ErrConnectionFailed, cause)
		for _, fn := range observers {
			fn(err)
		}
		return
	}

	m.attempts++
	attempt := m.attempts
	m.state = StateConnecting
	retryEpoch := m.epoch
	m.mu.Unlock()

	for _, fn := range disconnected {
		fn()
	}
	m.logger.Warn("connection lost, scheduling reconnect",
		"attempt", attempt,
		"max_attempts", m.opts.MaxReconnectAttempts,
		"delay", m.opts.ReconnectDelay,
		"cause", cause)

	go m.reconnect(retryEpoch)
}

// reconnect waits the fixed delay and attempts to re-establish the
// transport, abandoning the attempt if the lifecycle moved on meanwhile.
func (m *Manager) reconnect(epoch uint64) {
	time.Sleep(m.opts.ReconnectDelay)

	m.mu.Lock()
	if m.epoch != epoch || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	t, err := m.dialer(context.Background())

	m.mu.Lock()
	if m.epoch != epoch || m.state != StateConnecting {
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	if err != nil {
		// A failed dial burns another attempt, or exhausts the budget.
		if m.attempts >= m.opts.MaxReconnectAttempts {
			m.state = StateFailed
			observers := append([]func(error){}, m.onError...)
			m.mu.Unlock()

			m.logger.Warn("reconnect attempts exhausted", "cause", err)
			failure := fmt.Errorf("%w: reconnect attempts exhausted: %v", ErrConnectionFailed, err)
			for _, fn := range observers {
				fn(failure)
			}
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.logger.Warn("reconnect dial failed, retrying",
			"attempt", attempt,
			"max_attempts", m.opts.MaxReconnectAttempts,
			"err", err)
		go m.reconnect(epoch)
		return
	}
	m.establishLocked(t)
	connected := append([]func(){}, m.onConnected...)
	m.mu.Unlock()

	m.logger.Info("reconnected")
	for _, fn := range connected {
		fn()
	}
}

// heartbeat pings the transport on an interval so half-open connections
// are detected by the read loop.
func (m *Manager) heartbeat(epoch uint64, t Transport) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		stale := m.epoch != epoch
		m.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.PingInterval/2)
		err := t.Ping(ctx)
		cancel()
		if err != nil {
			m.logger.Debug("heartbeat ping failed", "err", err)
			return
		}
	}
}
