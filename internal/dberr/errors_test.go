package dberr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"transient sentinel", ErrTransient, KindTransient},
		{"wrapped transient", fmt.Errorf("exec: %w", ErrTransient), KindTransient},
		{"connect failed", fmt.Errorf("dial: %w", ErrConnectFailed), KindTransient},
		{"stale handle", ErrStaleHandle, KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"pool exhausted", fmt.Errorf("acquire: %w", ErrPoolExhausted), KindPoolExhausted},
		{"fatal", fmt.Errorf("auth: %w", ErrFatal), KindFatal},
		{"cluster unavailable", ErrClusterUnavailable, KindClusterUnavailable},
		{"cache unavailable", ErrCacheUnavailable, KindCacheUnavailable},
		{"unknown", errors.New("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrTransient))
	assert.True(t, Retryable(ErrPoolExhausted))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", ErrConnectFailed)))

	assert.False(t, Retryable(ErrFatal))
	assert.False(t, Retryable(ErrClusterUnavailable))
	assert.False(t, Retryable(errors.New("unclassified")))
}

func TestFatalWinsOverTransient(t *testing.T) {
	// An error chain carrying both markers is fatal: never retried.
	err := fmt.Errorf("%w: %w", ErrFatal, ErrTransient)
	assert.Equal(t, KindFatal, Classify(err))
}
