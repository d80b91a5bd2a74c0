// Package memory is an in-process control plane for tests and for
// running the demo binary without cloud credentials.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mishramohit437/rdsguard/internal/cluster"
)

// ControlPlane is a settable fake.
type ControlPlane struct {
	mu        sync.Mutex
	status    map[string]cluster.HealthStatus
	snapshots map[string][]cluster.SnapshotRef
	restored  cluster.Endpoint

	promoteErr error
	restoreErr error

	promotions atomic.Int64
	restores   atomic.Int64
}

// New creates an empty fake; every cluster reports available until
// SetStatus says otherwise.
func New() *ControlPlane {
	return &ControlPlane{
		status:    make(map[string]cluster.HealthStatus),
		snapshots: make(map[string][]cluster.SnapshotRef),
	}
}

// SetStatus sets the health a cluster will report.
func (c *ControlPlane) SetStatus(clusterID string, status cluster.HealthStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[clusterID] = status
}

// SetSnapshots sets the snapshots a cluster will list.
func (c *ControlPlane) SetSnapshots(clusterID string, snaps []cluster.SnapshotRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[clusterID] = snaps
}

// SetRestoredEndpoint sets the endpoint RestoreFromSnapshot returns.
func (c *ControlPlane) SetRestoredEndpoint(ep cluster.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restored = ep
}

// FailPromotions makes PromoteStandby return the given error.
func (c *ControlPlane) FailPromotions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promoteErr = err
}

// FailRestores makes RestoreFromSnapshot return the given error.
func (c *ControlPlane) FailRestores(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreErr = err
}

// Promotions returns how many promotions were requested.
func (c *ControlPlane) Promotions() int64 { return c.promotions.Load() }

// Restores returns how many restores were requested.
func (c *ControlPlane) Restores() int64 { return c.restores.Load() }

func (c *ControlPlane) DescribeStatus(_ context.Context, clusterID string) (cluster.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.status[clusterID]; ok {
		return s, nil
	}
	return cluster.StatusAvailable, nil
}

func (c *ControlPlane) ListSnapshots(_ context.Context, clusterID string) ([]cluster.SnapshotRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snaps := make([]cluster.SnapshotRef, len(c.snapshots[clusterID]))
	copy(snaps, c.snapshots[clusterID])
	return snaps, nil
}

func (c *ControlPlane) PromoteStandby(_ context.Context, clusterID string) error {
	c.mu.Lock()
	err := c.promoteErr
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("promote standby %s: %w", clusterID, err)
	}
	c.promotions.Add(1)
	return nil
}

func (c *ControlPlane) RestoreFromSnapshot(_ context.Context, snapshot cluster.SnapshotRef) (cluster.Endpoint, error) {
	c.mu.Lock()
	err := c.restoreErr
	ep := c.restored
	c.mu.Unlock()
	if err != nil {
		return cluster.Endpoint{}, fmt.Errorf("restore %s: %w", snapshot.ID, err)
	}
	c.restores.Add(1)
	if ep.ID == "" {
		ep = cluster.Endpoint{
			ID:      "restored-" + snapshot.ID,
			Address: "restored-" + snapshot.ID + ":5432",
			Role:    cluster.RoleRestoredCandidate,
		}
	}
	return ep, nil
}
