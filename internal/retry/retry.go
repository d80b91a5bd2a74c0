// Package retry implements the bounded exponential-backoff retry
// controller. A Policy holds no state across calls; every Execute is
// parameterized by the policy values alone.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/dberr"
)

// Policy configures one retry run.
type Policy struct {
	// BaseDelay seeds the backoff: delay(n) = BaseDelay * 2^n.
	BaseDelay time.Duration

	// MaxDelay caps each computed delay.
	MaxDelay time.Duration

	// MaxAttempts bounds the total number of tries.
	MaxAttempts int

	Logger *zap.Logger
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 4,
	}
}

// Delay returns the backoff before retrying after the given attempt,
// min(base * 2^attempt, cap). The sequence is non-decreasing.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Execute runs op, retrying transient and pool-exhaustion failures
// with exponential backoff. Fatal errors propagate immediately. After
// MaxAttempts failures the last error is wrapped as RetriesExhausted.
func (p Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("operation succeeded after retry",
					zap.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		if !dberr.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		logger.Debug("retrying after failure",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", dberr.ErrRetriesExhausted, p.MaxAttempts, lastErr)
}
