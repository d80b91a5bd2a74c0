package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/controlplane/memory"
)

func newTestMonitor(t *testing.T, cp *memory.ControlPlane, threshold int) (*Monitor, *[]Transition) {
	t.Helper()
	m := New(cp, Config{
		ClusterID:    "c1",
		PollInterval: time.Hour, // driven manually via Poll
		BadThreshold: threshold,
		PollTimeout:  time.Second,
	}, zap.NewNop())

	var got []Transition
	m.Subscribe(func(tr Transition) { got = append(got, tr) })
	return m, &got
}

func TestNoEventWhileAvailable(t *testing.T) {
	cp := memory.New()
	m, got := newTestMonitor(t, cp, 2)

	for i := 0; i < 5; i++ {
		m.Poll(context.Background())
	}

	assert.Empty(t, *got)
	assert.Equal(t, cluster.StatusAvailable, m.Current())
}

func TestSingleBadPollDoesNotTransition(t *testing.T) {
	cp := memory.New()
	m, got := newTestMonitor(t, cp, 2)

	cp.SetStatus("c1", cluster.StatusDegraded)
	m.Poll(context.Background())

	assert.Empty(t, *got, "one bad poll is below the threshold")
	assert.Equal(t, cluster.StatusAvailable, m.Current())
}

func TestTransitionFiresOncePerStateChange(t *testing.T) {
	cp := memory.New()
	m, got := newTestMonitor(t, cp, 2)

	cp.SetStatus("c1", cluster.StatusDegraded)
	for i := 0; i < 5; i++ {
		m.Poll(context.Background())
	}

	require.Len(t, *got, 1, "repeated polls of the same status must not storm")
	assert.Equal(t, cluster.StatusAvailable, (*got)[0].From)
	assert.Equal(t, cluster.StatusDegraded, (*got)[0].To)
	assert.Equal(t, cluster.StatusDegraded, m.Current())
}

func TestScenarioDegradedThenFailed(t *testing.T) {
	// available, degraded, degraded, failed with threshold 2:
	// exactly one degraded transition, then one failed transition at
	// the failed poll.
	cp := memory.New()
	m, got := newTestMonitor(t, cp, 2)

	m.Poll(context.Background()) // available

	cp.SetStatus("c1", cluster.StatusDegraded)
	m.Poll(context.Background()) // degraded #1: below threshold
	m.Poll(context.Background()) // degraded #2: transition

	cp.SetStatus("c1", cluster.StatusFailed)
	m.Poll(context.Background()) // failed: already past threshold, transition

	require.Len(t, *got, 2)
	assert.Equal(t, cluster.StatusDegraded, (*got)[0].To)
	assert.Equal(t, cluster.StatusFailed, (*got)[1].To)
	assert.Equal(t, cluster.StatusDegraded, (*got)[1].From)
}

func TestRecoveryReportedImmediately(t *testing.T) {
	cp := memory.New()
	m, got := newTestMonitor(t, cp, 2)

	cp.SetStatus("c1", cluster.StatusFailed)
	m.Poll(context.Background())
	m.Poll(context.Background())
	require.Len(t, *got, 1)

	cp.SetStatus("c1", cluster.StatusAvailable)
	m.Poll(context.Background())

	require.Len(t, *got, 2, "recovery must not wait for the threshold")
	assert.Equal(t, cluster.StatusAvailable, (*got)[1].To)
	assert.Equal(t, 0, m.Stats().ConsecutiveBad)
}

func TestRetargetFollowsNewCluster(t *testing.T) {
	cp := memory.New()
	m, got := newTestMonitor(t, cp, 2)

	cp.SetStatus("c1", cluster.StatusFailed)
	m.Poll(context.Background())
	m.Poll(context.Background())
	require.Len(t, *got, 1)
	require.Equal(t, cluster.StatusFailed, m.Current())

	// Recovery bound the pool to a new cluster; polling follows it and
	// the reported state resets.
	m.Retarget("c2")
	assert.Equal(t, cluster.StatusAvailable, m.Current())
	assert.Equal(t, 0, m.Stats().ConsecutiveBad)

	// Status changes on the retired cluster no longer matter.
	cp.SetStatus("c1", cluster.StatusUnreachable)
	cp.SetStatus("c2", cluster.StatusAvailable)
	m.Poll(context.Background())
	m.Poll(context.Background())

	assert.Len(t, *got, 1, "retired cluster must not produce transitions")
	assert.Equal(t, cluster.StatusAvailable, m.Current())
}

func TestPollLoopRunsOnInterval(t *testing.T) {
	cp := memory.New()
	m := New(cp, Config{
		ClusterID:    "c1",
		PollInterval: 10 * time.Millisecond,
		BadThreshold: 2,
	}, zap.NewNop())

	m.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	m.Stop()

	assert.GreaterOrEqual(t, m.Stats().Polls, int64(3))
}
