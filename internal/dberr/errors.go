// Package dberr defines the error taxonomy shared by the pool, the
// retry controller and the session layer. Callers can always tell
// "retry yourself" from "wait for recovery" from "fix your request" by
// classifying the returned error, never by inspecting internal state.
package dberr

import (
	"context"
	"errors"
	"net"
)

// Kind buckets an error for retry and surfacing decisions.
type Kind int

const (
	// KindUnknown is anything the taxonomy does not recognize.
	// Treated as fatal: never silently retried.
	KindUnknown Kind = iota

	// KindTransient covers network blips, resets and timeouts.
	KindTransient

	// KindPoolExhausted means acquire timed out waiting for a slot.
	KindPoolExhausted

	// KindFatal covers bad credentials and malformed statements.
	KindFatal

	// KindClusterUnavailable means the cluster is failing over or
	// restoring; callers should wait for recovery, not retry.
	KindClusterUnavailable

	// KindCacheUnavailable marks a degraded cache backend. Never
	// surfaced to callers; the overlay falls back to the loader.
	KindCacheUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPoolExhausted:
		return "pool-exhausted"
	case KindFatal:
		return "fatal"
	case KindClusterUnavailable:
		return "cluster-unavailable"
	case KindCacheUnavailable:
		return "cache-unavailable"
	default:
		return "unknown"
	}
}

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", ...)
// so Classify works across package boundaries.
var (
	ErrTransient          = errors.New("transient failure")
	ErrPoolExhausted      = errors.New("connection pool exhausted")
	ErrConnectFailed      = errors.New("connect failed")
	ErrStaleHandle        = errors.New("connection handle is stale")
	ErrFatal              = errors.New("fatal request error")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrClusterUnavailable = errors.New("cluster unavailable: recovery in progress")
	ErrCacheUnavailable   = errors.New("cache backend unavailable")
	ErrFailoverTimedOut   = errors.New("failover timed out")
	ErrRestoreFailed      = errors.New("restore from snapshot failed")
)

// Classify maps an error onto the taxonomy. Wrapped sentinels win over
// structural checks so adapters can force a classification.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrPoolExhausted):
		return KindPoolExhausted
	case errors.Is(err, ErrClusterUnavailable):
		return KindClusterUnavailable
	case errors.Is(err, ErrCacheUnavailable):
		return KindCacheUnavailable
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrStaleHandle),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	return KindUnknown
}

// Retryable reports whether the retry controller may re-run the
// operation that produced err.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindPoolExhausted:
		return true
	default:
		return false
	}
}
