package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestDispatcherFansOutToAllSinks(t *testing.T) {
	a := NewChanSink(8)
	b := NewChanSink(8)
	d := NewDispatcher(DispatcherConfig{QueueSize: 8}, zap.NewNop(), a, b)

	d.Publish(NewEvent(SeverityWarning, "primary degraded", "corr-1"))
	d.Stop()

	evA := <-a.Events()
	evB := <-b.Events()
	assert.Equal(t, "primary degraded", evA.Message)
	assert.Equal(t, evA.ID, evB.ID)
	assert.Equal(t, "corr-1", evA.CorrelationID)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	slow := sinkFunc(func(ctx context.Context, e Event) error {
		<-blocked
		return nil
	})

	d := NewDispatcher(DispatcherConfig{QueueSize: 1}, zap.NewNop(), slow)
	defer func() {
		close(blocked)
		d.Stop()
	}()

	for i := 0; i < 10; i++ {
		d.Publish(NewEvent(SeverityCritical, "boom", ""))
	}

	_, dropped, _ := d.Stats()
	assert.Greater(t, dropped, int64(0), "overflow must drop, not block")
}

func TestDispatcherRateLimitsNonCritical(t *testing.T) {
	sink := NewChanSink(128)
	d := NewDispatcher(DispatcherConfig{
		QueueSize: 128,
		RateLimit: rate.Limit(1),
		RateBurst: 2,
	}, zap.NewNop(), sink)

	for i := 0; i < 50; i++ {
		d.Publish(NewEvent(SeverityInfo, "poll noise", ""))
	}
	// Critical events bypass the limiter.
	d.Publish(NewEvent(SeverityCritical, "failover timed out", ""))
	d.Stop()

	var got []Event
	for e := range drain(sink.Events()) {
		got = append(got, e)
	}

	assert.LessOrEqual(t, len(got), 4, "storm should be suppressed")
	require.NotEmpty(t, got)
	assert.Equal(t, SeverityCritical, got[len(got)-1].Severity)
}

func TestDispatcherSinkFailureIsIsolated(t *testing.T) {
	var failing atomic.Int64
	bad := sinkFunc(func(ctx context.Context, e Event) error {
		failing.Add(1)
		return errors.New("transport down")
	})
	good := NewChanSink(8)

	d := NewDispatcher(DispatcherConfig{QueueSize: 8}, zap.NewNop(), bad, good)
	d.Publish(NewEvent(SeverityWarning, "still delivered", ""))
	d.Stop()

	ev := <-good.Events()
	assert.Equal(t, "still delivered", ev.Message)
	assert.Equal(t, int64(1), failing.Load())

	_, _, failed := d.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestWebhookSinkSignsPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-RDSGuard-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultWebhookConfig(srv.URL)
	cfg.Secret = "topsecret"
	sink := NewWebhookSink(cfg)

	ev := NewEvent(SeverityCritical, "restore failed", "corr-9")
	require.NoError(t, sink.Publish(context.Background(), ev))

	assert.Equal(t, Sign(gotBody, "topsecret"), gotSig)

	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
}

func TestWebhookSinkBoundedRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{
		URL:            srv.URL,
		MaxRetries:     2,
		RetryInterval:  time.Millisecond,
		RequestTimeout: time.Second,
	})

	err := sink.Publish(context.Background(), NewEvent(SeverityWarning, "x", ""))
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

type sinkFunc func(ctx context.Context, e Event) error

func (f sinkFunc) Name() string                               { return "func" }
func (f sinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

func drain(ch <-chan Event) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case e := <-ch:
				out <- e
			default:
				return
			}
		}
	}()
	return out
}
