package failover

import (
	"time"

	"github.com/google/uuid"

	"github.com/mishramohit437/rdsguard/internal/cluster"
)

// Outcome is the terminal result of a recovery session.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeTimedOut  Outcome = "timed-out"
	OutcomeFailed    Outcome = "failed"
)

// Session is one recovery attempt. At most one session per cluster is
// active at any time; concurrent triggers coalesce into it.
type Session struct {
	ID         string               `json:"id"`
	ClusterID  string               `json:"cluster_id"`
	Manual     bool                 `json:"manual"`
	Target     *cluster.Endpoint    `json:"target,omitempty"`
	Snapshot   *cluster.SnapshotRef `json:"snapshot,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	Deadline   time.Time            `json:"deadline"`
	FinishedAt time.Time            `json:"finished_at,omitempty"`
	Outcome    Outcome              `json:"outcome"`
	Error      string               `json:"error,omitempty"`
}

func newSession(clusterID string, manual bool) *Session {
	return &Session{
		ID:        uuid.New().String(),
		ClusterID: clusterID,
		Manual:    manual,
		StartedAt: time.Now().UTC(),
		Outcome:   OutcomePending,
	}
}

// Active reports whether the session has not reached a terminal
// outcome yet.
func (s *Session) Active() bool {
	return s != nil && s.Outcome == OutcomePending
}

// clone returns a copy safe to hand out of the orchestrator lock.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Target != nil {
		t := *s.Target
		c.Target = &t
	}
	if s.Snapshot != nil {
		sn := *s.Snapshot
		c.Snapshot = &sn
	}
	return &c
}
