// Package cluster defines the shared vocabulary of the orchestrator:
// endpoints, roles, health states and snapshot references.
package cluster

import (
	"sort"
	"time"
)

// Role identifies what part an endpoint plays in the cluster topology.
type Role string

const (
	RolePrimary           Role = "primary"
	RoleStandby           Role = "standby"
	RoleRestoredCandidate Role = "restored-candidate"
)

// Endpoint is one reachable database endpoint. Exactly one endpoint
// holds RolePrimary at any time; only the failover orchestrator
// reassigns roles.
type Endpoint struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
	Role    Role   `json:"role" yaml:"role"`
}

// HealthStatus is the classified state of the cluster as seen by the
// health monitor.
type HealthStatus int

const (
	StatusAvailable HealthStatus = iota
	StatusDegraded
	StatusFailed
	StatusUnreachable
)

func (s HealthStatus) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalText lets HealthStatus render as its name in JSON status reports.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SnapshotRef identifies a point-in-time backup. Ordering by CreatedAt
// determines which snapshot is "latest".
type SnapshotRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// LatestSnapshot returns the snapshot with the newest creation time,
// or false if the slice is empty.
func LatestSnapshot(snaps []SnapshotRef) (SnapshotRef, bool) {
	if len(snaps) == 0 {
		return SnapshotRef{}, false
	}
	sorted := make([]SnapshotRef, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted[0], true
}
