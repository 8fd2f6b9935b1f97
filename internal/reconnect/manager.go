package reconnect

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/autobridge/internal/bridge"
	"github.com/rickgao/autobridge/internal/emitter"
)

// Manager drives one bridge connection through connect, close and retry.
type Manager struct {
	conn           bridge.Conn
	clock          clockwork.Clock
	logger         *slog.Logger
	timeout        time.Duration
	defaultAddress string

	// State
	mu              sync.Mutex
	status          Status
	address         string
	connectAttempts uint64
	scheduled       uint64
	transitions     map[Status]uint64

	pending atomic.Int64

	// emitMu serializes set-and-emit so observers see transitions in order.
	emitMu sync.Mutex
	events emitter.Emitter[Status]
}

// New creates a Manager and its underlying connection. Status starts at
// StatusClosed; nothing is emitted until the first Connect.
func New(opts Options) (*Manager, error) {
	if opts.ReconnectTimeout < 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidReconnectTimeout, opts.ReconnectTimeout)
	}
	if err := bridge.CheckReserved(opts.ConnectionOptions); err != nil {
		return nil, fmt.Errorf("connection options: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reconnect")

	timeout := opts.ReconnectTimeout
	if timeout == 0 {
		timeout = DefaultReconnectTimeout
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dial := opts.Dial
	if dial == nil {
		dial = bridge.NewConn
	}

	hostname := opts.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}

	conn, err := dial(bridge.WithDefaults(opts.ConnectionOptions), logger.With("component", "bridge"))
	if err != nil {
		return nil, fmt.Errorf("create bridge connection: %w", err)
	}
	if conn == nil {
		return nil, ErrNilConnection
	}

	m := &Manager{
		conn:           conn,
		clock:          clock,
		logger:         logger,
		timeout:        timeout,
		defaultAddress: defaultAddress(hostname),
		status:         StatusClosed,
		transitions:    make(map[Status]uint64, len(Statuses)),
	}

	conn.OnConnection(m.handleConnection)
	conn.OnClose(m.handleClose)
	conn.OnError(m.handleError)

	logger.Debug("reconnect manager created",
		"reconnect_timeout", timeout,
		"default_address", m.defaultAddress,
	)

	return m, nil
}

func defaultAddress(hostname func() (string, error)) string {
	host, err := hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, DefaultPort)
}

// Connect starts a connection attempt. An empty address reuses the last one
// given, or the default address if none ever was. Status becomes
// StatusConnecting before the underlying connection is asked to open.
//
// Failures to start the attempt are logged, never returned; they surface
// through the connection's own error and close notifications.
func (m *Manager) Connect(address string) {
	m.mu.Lock()
	if address == "" {
		address = m.address
	}
	if address == "" {
		address = m.defaultAddress
	}
	m.address = address
	m.connectAttempts++
	m.mu.Unlock()

	m.setStatus(StatusConnecting)
	m.open(address)
}

func (m *Manager) open(address string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("bridge connect panicked", "address", address, "panic", r)
		}
	}()

	m.logger.Debug("connecting", "address", address)
	if err := m.conn.Connect(address); err != nil {
		m.logger.Warn("bridge connect failed", "address", address, "error", err)
	}
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// setStatus stores s and notifies every observer before returning.
func (m *Manager) setStatus(s Status) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	prev := m.status
	m.status = s
	m.transitions[s]++
	m.mu.Unlock()

	m.logger.Debug("status changed", "from", prev, "to", s)
	m.events.Emit(s)
}

// OnStatus registers fn for every status change. Handlers run synchronously
// on the goroutine that caused the change, while later transitions wait.
// They must not call Connect, Conn().Connect or Conn().Close, or anything
// else that raises a lifecycle notification; start such calls on another
// goroutine.
func (m *Manager) OnStatus(fn func(Status)) emitter.Subscription {
	return m.events.On(fn)
}

// Unsubscribe removes a handler registered with OnStatus.
func (m *Manager) Unsubscribe(sub emitter.Subscription) bool {
	return m.events.Off(sub)
}

// Conn returns the underlying connection.
func (m *Manager) Conn() bridge.Conn {
	return m.conn
}

// Address returns the remembered address, or "" before the first Connect.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// DefaultAddress returns the address used when none was ever given.
func (m *Manager) DefaultAddress() string {
	return m.defaultAddress
}

// ReconnectTimeout returns the fixed retry delay.
func (m *Manager) ReconnectTimeout() time.Duration {
	return m.timeout
}

// Stats returns a snapshot of the manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	transitions := make(map[Status]uint64, len(m.transitions))
	for s, n := range m.transitions {
		transitions[s] = n
	}

	return Stats{
		Status:              m.status,
		Address:             m.address,
		DefaultAddress:      m.defaultAddress,
		ReconnectTimeout:    m.timeout,
		ConnectAttempts:     m.connectAttempts,
		ScheduledReconnects: m.scheduled,
		PendingReconnects:   m.pending.Load(),
		Transitions:         transitions,
	}
}

func (m *Manager) handleConnection() {
	m.logger.Info("bridge connected", "address", m.Address())
	m.setStatus(StatusConnected)
}

// handleClose schedules an independent retry. Earlier timers are left alone.
func (m *Manager) handleClose() {
	m.setStatus(StatusClosed)

	m.mu.Lock()
	m.scheduled++
	m.mu.Unlock()
	m.pending.Add(1)

	m.logger.Info("bridge closed, reconnecting",
		"address", m.Address(),
		"delay", m.timeout,
	)

	m.clock.AfterFunc(m.timeout, func() {
		m.pending.Add(-1)
		m.Connect("")
	})
}

func (m *Manager) handleError(err error) {
	m.logger.Warn("bridge error", "address", m.Address(), "error", err)
	m.setStatus(StatusError)
}
