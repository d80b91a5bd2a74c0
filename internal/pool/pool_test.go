package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/dberr"
	"github.com/mishramohit437/rdsguard/internal/driver"
)

type fakeConn struct {
	endpoint cluster.Endpoint
	closed   atomic.Bool
}

func (c *fakeConn) Exec(ctx context.Context, stmt string, params []any) (*driver.Result, error) {
	return &driver.Result{}, nil
}
func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeDriver struct {
	mu       sync.Mutex
	dials    int
	failNext error
	conns    []*fakeConn
}

func (d *fakeDriver) Connect(ctx context.Context, ep cluster.Endpoint) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return nil, err
	}
	c := &fakeConn{endpoint: ep}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDriver) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testEndpoint(id, addr string) cluster.Endpoint {
	return cluster.Endpoint{ID: id, Address: addr, Role: cluster.RolePrimary}
}

func TestAcquireReusesIdleConnections(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 5}, zap.NewNop())
	defer m.Close()

	h1, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Release(h1)

	h2, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Release(h2)

	assert.Equal(t, 1, d.dialCount(), "released connection should be reused")
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 1}, zap.NewNop())
	defer m.Close()

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer m.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = m.Acquire(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrPoolExhausted)
	assert.Less(t, elapsed, 500*time.Millisecond, "timeout should be honored promptly")
}

func TestAbandonedWakeupIsHandedToNextWaiter(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 1}, zap.NewNop())
	defer m.Close()

	// Reproduce the narrow race directly: a release wakes a waiter in
	// the same instant its context expires. The expiring waiter leaves,
	// and the wakeup it consumed must reach the waiter behind it.
	abandoned := make(chan struct{})
	queued := make(chan struct{})
	m.mu.Lock()
	m.waiters = []chan struct{}{abandoned, queued}
	m.signalLocked() // the wakeup the first waiter never acts on
	m.mu.Unlock()

	m.removeWaiter(abandoned)

	select {
	case <-queued:
	default:
		t.Fatal("wakeup was dropped instead of passed to the next waiter")
	}
}

func TestAcquireConnectFailure(t *testing.T) {
	d := &fakeDriver{failNext: errors.New("connection refused")}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 2}, zap.NewNop())
	defer m.Close()

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrConnectFailed)

	// The reserved slot must be returned on failure.
	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Release(h)
}

func TestRebindInvalidatesOutstandingHandles(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 5}, zap.NewNop())
	defer m.Close()

	old, err := m.Acquire(context.Background())
	require.NoError(t, err)

	_, err = old.Conn()
	require.NoError(t, err)

	m.Rebind(testEndpoint("ep-2", "db-2:5432"))

	_, err = old.Conn()
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrStaleHandle)

	fresh, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ep-2", fresh.Endpoint().ID)
	assert.Greater(t, fresh.Generation(), old.Generation())
	m.Release(fresh)

	// Releasing the stale handle closes its connection instead of
	// returning it to the idle set.
	m.Release(old)
	assert.True(t, d.conns[0].closed.Load())
	assert.Equal(t, 0, m.Stats().InUse)
}

func TestRebindClosesIdleConnections(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 5}, zap.NewNop())
	defer m.Close()

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Release(h)
	require.Equal(t, 1, m.Stats().Idle)

	m.Rebind(testEndpoint("ep-2", "db-2:5432"))

	assert.Equal(t, 0, m.Stats().Idle)
	assert.True(t, d.conns[0].closed.Load())
}

func TestEvictWakesWaiter(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 1}, zap.NewNop())
	defer m.Close()

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Handle, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h2, err := m.Acquire(ctx)
		if err == nil {
			acquired <- h2
		}
		close(acquired)
	}()

	time.Sleep(50 * time.Millisecond)
	m.Evict(h)

	h2, ok := <-acquired
	require.True(t, ok, "waiter should acquire after eviction")
	m.Release(h2)

	assert.Equal(t, int64(1), m.Stats().Broken)
}

func TestReleaseIsIdempotent(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 2}, zap.NewNop())
	defer m.Close()

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.Release(h)
	m.Release(h)
	m.Evict(h)

	assert.Equal(t, 1, m.Stats().Idle)
	assert.Equal(t, 0, m.Stats().InUse)
}

func TestConcurrentAcquireRespectsBound(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 4}, zap.NewNop())
	defer m.Close()

	var wg sync.WaitGroup
	var peak atomic.Int64
	var current atomic.Int64

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			h, err := m.Acquire(ctx)
			if err != nil {
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			m.Release(h)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(4))
	assert.LessOrEqual(t, d.dialCount(), 4)
}

func TestWarmDialsMinIdle(t *testing.T) {
	d := &fakeDriver{}
	m := New(d, testEndpoint("ep-1", "db-1:5432"), Config{MaxSize: 5, MinIdle: 3}, zap.NewNop())
	defer m.Close()

	m.Warm(context.Background())
	assert.Equal(t, 3, m.Stats().Idle)
	assert.Equal(t, 3, d.dialCount())
}
