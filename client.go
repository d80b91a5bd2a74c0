// Package rdsguard exposes the resilient session clients embed:
// Query, Mutate and introspection. The client wires the retry
// controller, the cache overlay and the pool together and keeps
// recovery visible to callers only as a typed error.
package rdsguard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cache"
	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/dberr"
	"github.com/mishramohit437/rdsguard/internal/driver"
	"github.com/mishramohit437/rdsguard/internal/failover"
	"github.com/mishramohit437/rdsguard/internal/health"
	"github.com/mishramohit437/rdsguard/internal/metrics"
	"github.com/mishramohit437/rdsguard/internal/pool"
	"github.com/mishramohit437/rdsguard/internal/retry"
)

// Config tunes the client.
type Config struct {
	// AcquireTimeout bounds each pool acquire inside an operation.
	AcquireTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{AcquireTimeout: 5 * time.Second}
}

// QueryOptions controls the read path.
type QueryOptions struct {
	// UseCache serves the query through the overlay. Only read-only
	// statements are ever cached.
	UseCache bool

	// TTL overrides the overlay's default entry lifetime.
	TTL time.Duration
}

// Client is the resilient session handed to the application.
type Client struct {
	pool    *pool.Manager
	overlay *cache.Overlay
	monitor *health.Monitor
	orch    *failover.Orchestrator
	policy  retry.Policy
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a client. overlay, monitor, orch and m may each be nil,
// degrading gracefully to direct execution without that concern.
func New(p *pool.Manager, overlay *cache.Overlay, monitor *health.Monitor, orch *failover.Orchestrator,
	policy retry.Policy, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		pool:    p,
		overlay: overlay,
		monitor: monitor,
		orch:    orch,
		policy:  policy,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Query runs a read. With UseCache set and a read-only statement, the
// result is served through the overlay; a hit never touches the pool.
func (c *Client) Query(ctx context.Context, statement string, params []any, opts QueryOptions) (*driver.Result, error) {
	if err := c.guardRecovery(); err != nil {
		return nil, err
	}

	start := time.Now()
	if opts.UseCache && c.overlay != nil && cache.IsReadOnly(statement) {
		return c.cachedQuery(ctx, statement, params, opts, start)
	}

	res, err := c.execute(ctx, statement, params)
	c.observe("query", "database", start, err)
	return res, err
}

// Mutate runs a write. It always bypasses the cache and, on success,
// invalidates every cached entry for the affected entity.
func (c *Client) Mutate(ctx context.Context, statement string, params []any) (*driver.Result, error) {
	if err := c.guardRecovery(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.execute(ctx, statement, params)
	c.observe("mutate", "database", start, err)
	if err != nil {
		return nil, err
	}

	if c.overlay != nil {
		entity := cache.ExtractEntity(statement)
		if _, err := c.overlay.Invalidate(ctx, entity); err != nil {
			// Invalidation failure must not fail the write; the
			// entries age out on their TTL.
			c.logger.Warn("post-write invalidation failed",
				zap.String("entity", entity), zap.Error(err))
		}
	}
	return res, nil
}

// CurrentHealth reports the monitor's last classified status.
func (c *Client) CurrentHealth() cluster.HealthStatus {
	if c.monitor == nil {
		return cluster.StatusAvailable
	}
	return c.monitor.Current()
}

// CurrentFailoverState reports the orchestrator's FSM state.
func (c *Client) CurrentFailoverState() failover.State {
	if c.orch == nil {
		return failover.StateIdle
	}
	return c.orch.State()
}

func (c *Client) cachedQuery(ctx context.Context, statement string, params []any, opts QueryOptions, start time.Time) (*driver.Result, error) {
	fp := cache.NewFingerprint(statement, params)

	payload, hit, err := c.overlay.Read(ctx, fp, opts.TTL, func(ctx context.Context) ([]byte, error) {
		res, err := c.execute(ctx, statement, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		c.observe("query", "database", start, err)
		return nil, err
	}

	var res driver.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("rdsguard: decode cached result: %w", err)
	}

	source := "database"
	if hit {
		source = "cache"
	}
	c.observe("query", source, start, nil)
	return &res, nil
}

// execute is the retried pool round-trip. Broken connections observed
// here are evicted, never returned to the idle set.
func (c *Client) execute(ctx context.Context, statement string, params []any) (*driver.Result, error) {
	var res *driver.Result
	attempts := 0

	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		attempts++

		acquireCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
		h, err := c.pool.Acquire(acquireCtx)
		cancel()
		if err != nil {
			return err
		}

		conn, err := h.Conn()
		if err != nil {
			c.pool.Evict(h)
			return err
		}

		r, err := conn.Exec(ctx, statement, params)
		if err != nil {
			if dberr.Classify(err) == dberr.KindTransient {
				c.pool.Evict(h)
			} else {
				c.pool.Release(h)
			}
			return err
		}

		c.pool.Release(h)
		res = r
		return nil
	})

	if c.metrics != nil {
		c.metrics.ObserveRetryAttempts(attempts)
	}
	return res, err
}

// guardRecovery rejects operations while a recovery session is
// re-pointing the pool. Callers get a typed error telling them to
// wait rather than retry.
func (c *Client) guardRecovery() error {
	if c.orch == nil {
		return nil
	}
	switch c.orch.State() {
	case failover.StateFailingOver, failover.StateRestoring, failover.StateVerifying:
		return fmt.Errorf("rdsguard: %w", dberr.ErrClusterUnavailable)
	default:
		return nil
	}
}

func (c *Client) observe(op, source string, start time.Time, err error) {
	if c.metrics == nil || err != nil {
		return
	}
	c.metrics.ObserveOperation(op, source, time.Since(start).Seconds())
}
