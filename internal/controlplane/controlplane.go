// Package controlplane abstracts the cluster management API: status,
// snapshots, standby promotion and restore. The orchestrator drives
// recovery exclusively through this contract.
package controlplane

import (
	"context"

	"github.com/mishramohit437/rdsguard/internal/cluster"
)

// ControlPlane is the managed-cluster management surface.
type ControlPlane interface {
	// DescribeStatus classifies the current health of a cluster.
	DescribeStatus(ctx context.Context, clusterID string) (cluster.HealthStatus, error)

	// ListSnapshots returns the cluster's point-in-time backups.
	ListSnapshots(ctx context.Context, clusterID string) ([]cluster.SnapshotRef, error)

	// PromoteStandby promotes the standby to primary.
	PromoteStandby(ctx context.Context, clusterID string) error

	// RestoreFromSnapshot provisions a new endpoint from a snapshot.
	// Long-running; bounded by the caller's context.
	RestoreFromSnapshot(ctx context.Context, snapshot cluster.SnapshotRef) (cluster.Endpoint, error)
}
