// Package health polls cluster status on a fixed interval, independent
// of request traffic, and reports state transitions exactly once per
// change. It is the only trigger for recovery actions.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/controlplane"
)

// Transition is one reported state change.
type Transition struct {
	ClusterID      string               `json:"cluster_id"`
	From           cluster.HealthStatus `json:"from"`
	To             cluster.HealthStatus `json:"to"`
	At             time.Time            `json:"at"`
	ConsecutiveBad int                  `json:"consecutive_bad"`
}

// Config tunes the monitor.
type Config struct {
	ClusterID string

	// PollInterval is the fixed poll period.
	PollInterval time.Duration

	// BadThreshold is how many consecutive non-available polls it
	// takes before a transition is reported. Recovery to available
	// is always reported immediately.
	BadThreshold int

	// PollTimeout bounds each status call.
	PollTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(clusterID string) Config {
	return Config{
		ClusterID:    clusterID,
		PollInterval: 10 * time.Second,
		BadThreshold: 2,
		PollTimeout:  5 * time.Second,
	}
}

// Monitor runs the poll loop.
type Monitor struct {
	cfg    Config
	cp     controlplane.ControlPlane
	logger *zap.Logger

	mu             sync.RWMutex
	reported       cluster.HealthStatus
	lastObserved   cluster.HealthStatus
	consecutiveBad int
	polls          int64
	transitions    int64
	lastErr        error
	subscribers    []func(Transition)

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// Stats is a snapshot of monitor state.
type Stats struct {
	Status         cluster.HealthStatus `json:"status"`
	LastObserved   cluster.HealthStatus `json:"last_observed"`
	ConsecutiveBad int                  `json:"consecutive_bad"`
	Polls          int64                `json:"polls"`
	Transitions    int64                `json:"transitions"`
	LastError      string               `json:"last_error,omitempty"`
}

// New creates a monitor. Call Subscribe before Start; subscribers run
// on the poll goroutine and must not block.
func New(cp controlplane.ControlPlane, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BadThreshold <= 0 {
		cfg.BadThreshold = 2
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = cfg.PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:          cfg,
		cp:           cp,
		logger:       logger,
		reported:     cluster.StatusAvailable,
		lastObserved: cluster.StatusAvailable,
		stopCh:       make(chan struct{}),
	}
}

// Subscribe registers a transition listener.
func (m *Monitor) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start launches the poll loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Retarget points the monitor at a new cluster and resets the reported
// state to available. Recovery calls this after binding the pool to a
// restored endpoint so polling follows the live cluster instead of the
// retired one.
func (m *Monitor) Retarget(clusterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("monitor retargeted",
		zap.String("from", m.cfg.ClusterID),
		zap.String("to", clusterID))
	m.cfg.ClusterID = clusterID
	m.reported = cluster.StatusAvailable
	m.lastObserved = cluster.StatusAvailable
	m.consecutiveBad = 0
	m.lastErr = nil
}

// Current returns the last reported status.
func (m *Monitor) Current() cluster.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reported
}

// Stats returns a snapshot of monitor state.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Status:         m.reported,
		LastObserved:   m.lastObserved,
		ConsecutiveBad: m.consecutiveBad,
		Polls:          m.polls,
		Transitions:    m.transitions,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll performs one status check and applies the transition rule.
// Exported so tests and the admin server can force a check.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.RLock()
	clusterID := m.cfg.ClusterID
	m.mu.RUnlock()

	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	status, err := m.cp.DescribeStatus(pollCtx, clusterID)
	cancel()
	if err != nil {
		// An unanswerable control plane counts as unreachable.
		status = cluster.StatusUnreachable
	}

	m.mu.Lock()
	if m.cfg.ClusterID != clusterID {
		// Retargeted mid-poll; this result belongs to the old cluster.
		m.mu.Unlock()
		return
	}
	m.polls++
	m.lastErr = err
	m.lastObserved = status

	if status == cluster.StatusAvailable {
		m.consecutiveBad = 0
	} else {
		m.consecutiveBad++
	}

	var fire *Transition
	switch {
	case status == cluster.StatusAvailable && m.reported != cluster.StatusAvailable:
		// Recovery is reported immediately.
		fire = m.transitionLocked(status)
	case status != cluster.StatusAvailable &&
		m.consecutiveBad >= m.cfg.BadThreshold &&
		m.reported != status:
		// Bad states must persist across the threshold before a
		// transition fires, and only once per state change.
		fire = m.transitionLocked(status)
	}
	subs := m.subscribers
	m.mu.Unlock()

	if fire != nil {
		m.logger.Info("health transition",
			zap.String("cluster", clusterID),
			zap.Stringer("from", fire.From),
			zap.Stringer("to", fire.To),
			zap.Int("consecutive_bad", fire.ConsecutiveBad))
		for _, fn := range subs {
			fn(*fire)
		}
	}
}

func (m *Monitor) transitionLocked(to cluster.HealthStatus) *Transition {
	tr := &Transition{
		ClusterID:      m.cfg.ClusterID,
		From:           m.reported,
		To:             to,
		At:             time.Now().UTC(),
		ConsecutiveBad: m.consecutiveBad,
	}
	m.reported = to
	m.transitions++
	return tr
}
