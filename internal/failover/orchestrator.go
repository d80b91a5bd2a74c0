// Package failover implements the recovery state machine. A health
// transition (or an operator) opens a session; the orchestrator then
// promotes the standby, or restores from the latest snapshot when no
// standby exists, verifies the new endpoint and rebinds the pool.
// Session transitions are strictly ordered: one goroutine drives the
// whole session, and a second trigger while it runs is a no-op.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/alert"
	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/controlplane"
	"github.com/mishramohit437/rdsguard/internal/dberr"
	"github.com/mishramohit437/rdsguard/internal/health"
)

// State names the orchestrator's position in the recovery FSM.
type State string

const (
	StateIdle        State = "idle"
	StateFailingOver State = "failing-over"
	StateRestoring   State = "restoring"
	StateVerifying   State = "verifying"

	// StateTimedOut is terminal: the session burned its deadline or
	// failed outright, and an operator has to intervene. Only a
	// manual ForceFailover leaves this state.
	StateTimedOut State = "timed-out"
)

// Event is one recorded state transition.
type Event struct {
	SessionID string    `json:"session_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
	Message   string    `json:"message"`
}

// maxEvents caps the in-memory transition history.
const maxEvents = 1000

// PoolRebinder re-points the connection pool at a new endpoint.
type PoolRebinder interface {
	Rebind(endpoint cluster.Endpoint)
}

// HealthRetargeter re-points health polling at a new cluster. A
// successful recovery retargets the monitor so it tracks the bound
// endpoint rather than the retired one.
type HealthRetargeter interface {
	Retarget(clusterID string)
}

// SessionRecorder persists terminal sessions for operator review.
type SessionRecorder interface {
	RecordSession(ctx context.Context, session *Session) error
}

// Config tunes the orchestrator.
type Config struct {
	ClusterID string

	// Standby is the endpoint promoted on failover. Nil means no
	// standby is configured and recovery goes through restore.
	Standby *cluster.Endpoint

	// AutoFailover gates recovery on health transitions. Manual
	// ForceFailover works either way.
	AutoFailover bool

	// FailoverDeadline bounds promote-and-verify. Promotion reuses
	// existing infrastructure, so minutes suffice.
	FailoverDeadline time.Duration

	// RestoreDeadline bounds restore-and-verify. Restore provisions
	// new infrastructure, so this is far longer.
	RestoreDeadline time.Duration

	// VerifyInterval is the poll period inside verifying/restoring.
	VerifyInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(clusterID string) Config {
	return Config{
		ClusterID:        clusterID,
		AutoFailover:     true,
		FailoverDeadline: 5 * time.Minute,
		RestoreDeadline:  time.Hour,
		VerifyInterval:   5 * time.Second,
	}
}

// Orchestrator drives recovery sessions.
type Orchestrator struct {
	cfg     Config
	cp      controlplane.ControlPlane
	pool    PoolRebinder
	alerts  *alert.Dispatcher
	history SessionRecorder
	monitor HealthRetargeter
	logger  *zap.Logger

	mu          sync.RWMutex
	state       State
	session     *Session
	lastSession *Session
	events      []Event
	subscribers []func(Event)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. history may be nil.
func New(cp controlplane.ControlPlane, pool PoolRebinder, alerts *alert.Dispatcher, history SessionRecorder, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.FailoverDeadline <= 0 {
		cfg.FailoverDeadline = 5 * time.Minute
	}
	if cfg.RestoreDeadline <= 0 {
		cfg.RestoreDeadline = time.Hour
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		cp:      cp,
		pool:    pool,
		alerts:  alerts,
		history: history,
		logger:  logger,
		state:   StateIdle,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// SetMonitor wires the health monitor so successful recoveries re-point
// its polling at the cluster the pool was bound to. Optional; call
// before Start-like use, alongside the monitor's own Subscribe.
func (o *Orchestrator) SetMonitor(m HealthRetargeter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.monitor = m
}

// HandleTransition is the health monitor subscription point. Only
// failed and unreachable transitions qualify for recovery; everything
// else is alert-only.
func (o *Orchestrator) HandleTransition(tr health.Transition) {
	switch tr.To {
	case cluster.StatusFailed, cluster.StatusUnreachable:
		if !o.cfg.AutoFailover {
			o.publish(alert.SeverityWarning, fmt.Sprintf(
				"cluster %s is %s but automatic failover is disabled", tr.ClusterID, tr.To), "")
			return
		}
		if _, started := o.trigger(false); !started {
			o.logger.Debug("failover trigger coalesced into active session")
		}
	case cluster.StatusAvailable:
		o.publish(alert.SeverityInfo, fmt.Sprintf("cluster %s recovered to available", tr.ClusterID), "")
	default:
		o.publish(alert.SeverityWarning, fmt.Sprintf(
			"cluster %s transitioned %s -> %s", tr.ClusterID, tr.From, tr.To), "")
	}
}

// ForceFailover starts a manual recovery session. It is the only way
// out of the timed-out state. Returns the session, which may be an
// already-running one when triggers coalesce.
func (o *Orchestrator) ForceFailover(_ context.Context) (*Session, error) {
	sess, _ := o.trigger(true)
	if sess == nil {
		return nil, errors.New("failover: orchestrator stopped")
	}
	return sess, nil
}

// trigger opens a new session unless one is already active. The bool
// reports whether this call started the session.
func (o *Orchestrator) trigger(manual bool) (*Session, bool) {
	o.mu.Lock()
	if o.baseCtx.Err() != nil {
		o.mu.Unlock()
		return nil, false
	}
	if o.session.Active() {
		// Single-flight: coalesce into the running session.
		sess := o.session.clone()
		o.mu.Unlock()
		return sess, false
	}
	if o.state == StateTimedOut && !manual {
		// A failed recovery is never retried automatically.
		o.mu.Unlock()
		return nil, false
	}

	sess := newSession(o.cfg.ClusterID, manual)
	o.session = sess
	o.transitionLocked(sess, StateFailingOver, "recovery session opened")
	snapshot := sess.clone()
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(sess)
	return snapshot, true
}

// run drives one session from failing-over to a terminal outcome. It
// is the session's only writer, which keeps transitions ordered.
func (o *Orchestrator) run(sess *Session) {
	defer o.wg.Done()

	if o.cfg.Standby != nil {
		done, err := o.promotePath(sess)
		if done || err == nil {
			return
		}
		o.logger.Warn("standby promotion failed, falling back to restore", zap.Error(err))
	}
	o.restorePath(sess)
}

// promotePath promotes the configured standby and verifies it inside
// the short failover deadline. It returns done=true when the session
// reached a terminal outcome here; a false return with an error sends
// the session down the restore path instead.
func (o *Orchestrator) promotePath(sess *Session) (bool, error) {
	deadline := sess.StartedAt.Add(o.cfg.FailoverDeadline)
	o.setDeadline(sess, deadline)

	ctx, cancel := context.WithDeadline(o.baseCtx, deadline)
	defer cancel()

	if err := o.cp.PromoteStandby(ctx, o.cfg.ClusterID); err != nil {
		return false, fmt.Errorf("promote standby: %w", err)
	}

	target := *o.cfg.Standby
	o.mu.Lock()
	sess.Target = &target
	o.transitionLocked(sess, StateVerifying, fmt.Sprintf("verifying promoted standby %s", target.ID))
	o.mu.Unlock()

	if err := o.verify(ctx, o.cfg.ClusterID); err != nil {
		o.finishVerifyFailure(sess, err)
		return true, nil
	}

	o.bindAndSucceed(sess, target, o.cfg.ClusterID)
	return true, nil
}

// restorePath locates the latest snapshot, provisions a new endpoint
// from it and verifies it inside the long restore deadline.
func (o *Orchestrator) restorePath(sess *Session) {
	deadline := sess.StartedAt.Add(o.cfg.RestoreDeadline)
	o.setDeadline(sess, deadline)

	ctx, cancel := context.WithDeadline(o.baseCtx, deadline)
	defer cancel()

	o.mu.Lock()
	o.transitionLocked(sess, StateRestoring, "restoring from latest snapshot")
	o.mu.Unlock()

	snaps, err := o.cp.ListSnapshots(ctx, o.cfg.ClusterID)
	if err != nil {
		o.finish(sess, OutcomeFailed, fmt.Errorf("%w: list snapshots: %w", dberr.ErrRestoreFailed, err))
		return
	}
	latest, ok := cluster.LatestSnapshot(snaps)
	if !ok {
		o.finish(sess, OutcomeFailed, fmt.Errorf("%w: no snapshots available", dberr.ErrRestoreFailed))
		return
	}

	o.mu.Lock()
	sess.Snapshot = &latest
	o.mu.Unlock()

	target, err := o.cp.RestoreFromSnapshot(ctx, latest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.finish(sess, OutcomeTimedOut, fmt.Errorf("%w: %w", dberr.ErrFailoverTimedOut, err))
			return
		}
		o.finish(sess, OutcomeFailed, fmt.Errorf("%w: %w", dberr.ErrRestoreFailed, err))
		return
	}

	o.mu.Lock()
	sess.Target = &target
	o.transitionLocked(sess, StateVerifying, fmt.Sprintf("verifying restored endpoint %s", target.ID))
	o.mu.Unlock()

	if err := o.verify(ctx, target.ID); err != nil {
		o.finishVerifyFailure(sess, err)
		return
	}

	// The restored endpoint answers under its own cluster ID; health
	// polling must follow it or it would keep watching the retired
	// cluster forever.
	o.bindAndSucceed(sess, target, target.ID)
}

func (o *Orchestrator) bindAndSucceed(sess *Session, target cluster.Endpoint, clusterID string) {
	target.Role = cluster.RolePrimary
	o.pool.Rebind(target)

	o.mu.Lock()
	sess.Target = &target
	o.cfg.ClusterID = clusterID
	monitor := o.monitor
	o.mu.Unlock()

	if monitor != nil {
		monitor.Retarget(clusterID)
	}
	o.finish(sess, OutcomeSucceeded, nil)
}

func (o *Orchestrator) finishVerifyFailure(sess *Session, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		o.finish(sess, OutcomeTimedOut, fmt.Errorf("%w: %w", dberr.ErrFailoverTimedOut, err))
		return
	}
	o.finish(sess, OutcomeFailed, err)
}

func (o *Orchestrator) setDeadline(sess *Session, deadline time.Time) {
	o.mu.Lock()
	sess.Deadline = deadline
	o.mu.Unlock()
}

// verify polls the new endpoint's health on a fixed interval until it
// reports available or the session deadline kills the context.
func (o *Orchestrator) verify(ctx context.Context, clusterID string) error {
	ticker := time.NewTicker(o.cfg.VerifyInterval)
	defer ticker.Stop()

	for {
		status, err := o.cp.DescribeStatus(ctx, clusterID)
		if err == nil && status == cluster.StatusAvailable {
			return nil
		}
		if err != nil {
			o.logger.Debug("verification poll failed", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finish records the terminal outcome and transitions to idle on
// success or timed-out on any failure.
func (o *Orchestrator) finish(sess *Session, outcome Outcome, cause error) {
	o.mu.Lock()
	sess.Outcome = outcome
	sess.FinishedAt = time.Now().UTC()
	if cause != nil {
		sess.Error = cause.Error()
	}

	if outcome == OutcomeSucceeded {
		o.transitionLocked(sess, StateIdle, "recovery succeeded, pool rebound")
	} else {
		o.transitionLocked(sess, StateTimedOut, fmt.Sprintf("recovery %s: %v", outcome, cause))
	}
	o.lastSession = sess
	record := sess.clone()
	o.mu.Unlock()

	if o.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := o.history.RecordSession(ctx, record); err != nil {
			o.logger.Warn("failed to record session", zap.Error(err))
		}
		cancel()
	}
}

// transitionLocked moves the FSM and emits exactly one alert per
// transition. Callers hold o.mu.
func (o *Orchestrator) transitionLocked(sess *Session, to State, message string) {
	from := o.state
	o.state = to

	ev := Event{
		SessionID: sess.ID,
		From:      from,
		To:        to,
		At:        time.Now().UTC(),
		Message:   message,
	}
	o.events = append(o.events, ev)
	if len(o.events) > maxEvents {
		o.events = o.events[len(o.events)-maxEvents:]
	}

	severity := alert.SeverityWarning
	switch to {
	case StateIdle:
		severity = alert.SeverityInfo
	case StateTimedOut:
		severity = alert.SeverityCritical
	}

	o.logger.Info("failover transition",
		zap.String("session", sess.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("message", message))

	o.publish(severity, message, sess.ID)

	for _, fn := range o.subscribers {
		fn(ev)
	}
}

func (o *Orchestrator) publish(severity alert.Severity, message, correlationID string) {
	if o.alerts == nil {
		return
	}
	o.alerts.Publish(alert.NewEvent(severity, message, correlationID))
}

// Subscribe registers a transition listener, invoked under the
// orchestrator lock; it must not call back in.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

// State returns the current FSM state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// CurrentSession returns the active or most recent session.
func (o *Orchestrator) CurrentSession() *Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.session != nil {
		return o.session.clone()
	}
	return o.lastSession.clone()
}

// Events returns up to limit most recent transition events, newest
// last.
func (o *Orchestrator) Events(limit int) []Event {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if limit <= 0 || limit > len(o.events) {
		limit = len(o.events)
	}
	out := make([]Event, limit)
	copy(out, o.events[len(o.events)-limit:])
	return out
}

// Stop cancels any in-flight session and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}
