// Package pool implements the bounded connection pool. It owns every
// connection it dials: callers borrow handles and must return them via
// Release or Evict. A rebind bumps the pool generation, which is the
// only mechanism that invalidates outstanding handles.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/dberr"
	"github.com/mishramohit437/rdsguard/internal/driver"
)

// Config sizes the pool.
type Config struct {
	// MaxSize bounds idle + in-use connections.
	MaxSize int

	// MinIdle connections are dialed up front by Warm.
	MinIdle int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxSize: 10, MinIdle: 0}
}

// Manager is the connection pool. PoolState and the generation counter
// are mutated only here, under mu.
type Manager struct {
	driver driver.Driver
	logger *zap.Logger
	cfg    Config

	mu       sync.Mutex
	endpoint cluster.Endpoint
	idle     []driver.Conn
	numOpen  int
	waiters  []chan struct{}
	closed   bool

	generation   atomic.Uint64
	inUse        atomic.Int64
	brokenTotal  atomic.Int64
	rebindsTotal atomic.Int64
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Endpoint   string `json:"endpoint"`
	Generation uint64 `json:"generation"`
	Idle       int    `json:"idle"`
	InUse      int    `json:"in_use"`
	Broken     int64  `json:"broken_total"`
	Rebinds    int64  `json:"rebinds_total"`
}

// New creates a pool bound to the given endpoint. No connections are
// dialed until Acquire or Warm.
func New(d driver.Driver, endpoint cluster.Endpoint, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		driver:   d,
		logger:   logger,
		cfg:      cfg,
		endpoint: endpoint,
	}
	m.generation.Store(1)
	return m
}

// Warm dials MinIdle connections so the first callers do not pay
// connect latency. Failures are logged, not fatal.
func (m *Manager) Warm(ctx context.Context) {
	handles := make([]*Handle, 0, m.cfg.MinIdle)
	for i := 0; i < m.cfg.MinIdle; i++ {
		h, err := m.Acquire(ctx)
		if err != nil {
			m.logger.Warn("pool warm-up connect failed", zap.Error(err))
			break
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		m.Release(h)
	}
}

// Acquire blocks until an idle connection is available or the pool is
// below its maximum and a new connect succeeds. The caller's context
// bounds the wait; on expiry the error wraps ErrPoolExhausted.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, fmt.Errorf("acquire: pool closed: %w", dberr.ErrClusterUnavailable)
		}

		if n := len(m.idle); n > 0 {
			conn := m.idle[n-1]
			m.idle = m.idle[:n-1]
			gen := m.generation.Load()
			ep := m.endpoint
			m.mu.Unlock()
			m.inUse.Add(1)
			return m.newHandle(conn, gen, ep), nil
		}

		if m.numOpen < m.cfg.MaxSize {
			m.numOpen++
			gen := m.generation.Load()
			ep := m.endpoint
			m.mu.Unlock()

			conn, err := m.driver.Connect(ctx, ep)
			if err != nil {
				m.mu.Lock()
				m.numOpen--
				m.signalLocked()
				m.mu.Unlock()
				return nil, fmt.Errorf("%w: %w", dberr.ErrConnectFailed, err)
			}
			m.inUse.Add(1)
			return m.newHandle(conn, gen, ep), nil
		}

		// Pool full: wait for a release or eviction.
		ready := make(chan struct{})
		m.waiters = append(m.waiters, ready)
		m.mu.Unlock()

		select {
		case <-ready:
			// Re-check under lock; another caller may have raced us.
		case <-ctx.Done():
			m.removeWaiter(ready)
			return nil, fmt.Errorf("acquire timed out: %w", dberr.ErrPoolExhausted)
		}
	}
}

// Release returns a handle's connection to the idle set. Connections
// from a stale generation are closed instead of reused.
func (m *Manager) Release(h *Handle) {
	if h == nil || !h.retire() {
		return
	}
	m.inUse.Add(-1)

	m.mu.Lock()
	stale := h.generation != m.generation.Load() || m.closed
	if stale {
		m.numOpen--
		m.signalLocked()
		m.mu.Unlock()
		_ = h.conn.Close()
		return
	}
	m.idle = append(m.idle, h.conn)
	m.signalLocked()
	m.mu.Unlock()
}

// Evict destroys a handle's connection. Used when a caller observes a
// broken connection; it must never return to the idle set.
func (m *Manager) Evict(h *Handle) {
	if h == nil || !h.retire() {
		return
	}
	m.inUse.Add(-1)
	m.brokenTotal.Add(1)

	m.mu.Lock()
	m.numOpen--
	m.signalLocked()
	m.mu.Unlock()

	_ = h.conn.Close()
	m.logger.Debug("connection evicted",
		zap.String("handle", h.id),
		zap.Uint64("generation", h.generation))
}

// Rebind atomically swaps the pool's target endpoint and bumps the
// generation. All idle connections are closed; handles from prior
// generations are rejected on next use.
func (m *Manager) Rebind(endpoint cluster.Endpoint) {
	m.mu.Lock()
	old := m.endpoint
	m.endpoint = endpoint
	gen := m.generation.Add(1)

	stale := m.idle
	m.idle = nil
	m.numOpen -= len(stale)
	m.rebindsTotal.Add(1)
	m.signalAllLocked()
	m.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
	}

	m.logger.Info("pool rebound",
		zap.String("from", old.Address),
		zap.String("to", endpoint.Address),
		zap.Uint64("generation", gen))
}

// Endpoint returns the pool's current target.
func (m *Manager) Endpoint() cluster.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Generation returns the current pool generation.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// Stats returns a snapshot of pool state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	idle := len(m.idle)
	ep := m.endpoint.Address
	m.mu.Unlock()

	return Stats{
		Endpoint:   ep,
		Generation: m.generation.Load(),
		Idle:       idle,
		InUse:      int(m.inUse.Load()),
		Broken:     m.brokenTotal.Load(),
		Rebinds:    m.rebindsTotal.Load(),
	}
}

// Close shuts the pool down. Outstanding handles are closed on return.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	stale := m.idle
	m.idle = nil
	m.numOpen -= len(stale)
	m.signalAllLocked()
	m.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
	}
}

func (m *Manager) newHandle(conn driver.Conn, gen uint64, ep cluster.Endpoint) *Handle {
	return &Handle{
		id:         uuid.New().String(),
		generation: gen,
		endpoint:   ep,
		conn:       conn,
		pool:       m,
	}
}

func (m *Manager) signalLocked() {
	if len(m.waiters) > 0 {
		close(m.waiters[0])
		m.waiters = m.waiters[1:]
	}
}

func (m *Manager) signalAllLocked() {
	for _, w := range m.waiters {
		close(w)
	}
	m.waiters = nil
}

func (m *Manager) removeWaiter(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == ch {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
	// Not queued anymore: a release delivered a wakeup to this waiter
	// in the same instant its context expired. That wakeup is being
	// abandoned, so hand it to the next waiter in line.
	m.signalLocked()
}
