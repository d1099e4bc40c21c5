package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
)

// ErrNoDialer is returned by Connect when the manager has nothing to dial with.
var ErrNoDialer = errors.New("service: no dialer configured")

// Connection is an established link to the remote service. It belongs to
// the process that created it.
type Connection struct {
	Proxy         Proxy
	PID           int
	ID            uuid.UUID
	EstablishedAt time.Time

	closer io.Closer
}

func (c *Connection) close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Manager owns the process-wide connection to the capability service.
// Establishment is lazy and serialized; concurrent first use dials once.
type Manager struct {
	dialer  Dialer
	logger  *logging.Logger
	metrics *monitoring.Metrics
	pid     func() int

	mu   sync.Mutex
	conn *Connection
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the manager metrics.
func WithMetrics(mt *monitoring.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithPIDFunc overrides the current process id source.
func WithPIDFunc(f func() int) ManagerOption {
	return func(m *Manager) { m.pid = f }
}

// NewManager creates a manager that connects through dialer.
func NewManager(dialer Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer: dialer,
		pid:    os.Getpid,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.pid == nil {
		m.pid = os.Getpid
	}
	m.logger = m.logger.Named("service")
	return m
}

// PID returns the current process id as seen by the manager.
func (m *Manager) PID() int {
	return m.pid()
}

// Connect establishes the connection if none exists. It is a no-op when a
// connection, valid or stale, is already held.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return nil
	}
	if m.dialer == nil {
		return ErrNoDialer
	}

	proxy, closer, err := m.dialer.Dial(ctx)
	if err != nil {
		m.logger.Warn("connect to capability service failed", zap.Error(err))
		return fmt.Errorf("dial capability service: %w", err)
	}
	if proxy == nil {
		if closer != nil {
			closer.Close()
		}
		return fmt.Errorf("dial capability service: nil proxy")
	}

	m.conn = &Connection{
		Proxy:         proxy,
		PID:           m.pid(),
		ID:            uuid.New(),
		EstablishedAt: time.Now(),
		closer:        closer,
	}
	m.metrics.IncConnections()
	m.metrics.SetConnectionValid(true)
	m.logger.Info("connected to capability service",
		zap.String("connection_id", m.conn.ID.String()),
		zap.Int("pid", m.conn.PID),
	)
	return nil
}

// Current returns the held connection, if any, without checking ownership.
func (m *Manager) Current() (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.conn != nil
}

// IsValid reports whether a connection is held and owned by this process.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.conn.PID == m.pid()
}

// Invalidate closes and forgets the held connection. The next Connect dials
// again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.drop(conn)
}

// InvalidateConn closes and forgets conn only if it is still the held
// connection, and reports whether it was. A failure observed on an older
// connection leaves its replacement alone.
func (m *Manager) InvalidateConn(conn *Connection) bool {
	if conn == nil {
		return false
	}
	m.mu.Lock()
	held := m.conn == conn
	if held {
		m.conn = nil
	}
	m.mu.Unlock()

	if !held {
		m.logger.Debug("ignoring invalidation of superseded connection",
			zap.String("connection_id", conn.ID.String()),
		)
		return false
	}
	m.drop(conn)
	return true
}

func (m *Manager) drop(conn *Connection) {
	if conn == nil {
		return
	}
	m.metrics.SetConnectionValid(false)
	if err := conn.close(); err != nil {
		m.logger.Warn("close capability service connection",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	}
	m.logger.Info("capability service connection invalidated",
		zap.String("connection_id", conn.ID.String()),
	)
}

// ResetIfStale drops a connection owned by another process and reports
// whether it did.
func (m *Manager) ResetIfStale() bool {
	m.mu.Lock()
	conn := m.conn
	stale := conn != nil && conn.PID != m.pid()
	if stale {
		m.conn = nil
	}
	m.mu.Unlock()

	if !stale {
		return false
	}
	m.metrics.SetConnectionValid(false)
	m.logger.Warn("dropping connection inherited from another process",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("owner_pid", conn.PID),
		zap.Int("pid", m.pid()),
	)
	// inherited transport is left open for its owner
	return true
}

// Close invalidates the held connection.
func (m *Manager) Close() error {
	m.Invalidate()
	return nil
}
