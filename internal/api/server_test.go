package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/failover"
)

type fakeStatus map[string]any

func (f fakeStatus) Snapshot() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type fakeController struct {
	state    failover.State
	events   []failover.Event
	forceErr error
	forced   int
}

func (c *fakeController) State() failover.State { return c.state }

func (c *fakeController) ForceFailover(ctx context.Context) (*failover.Session, error) {
	c.forced++
	if c.forceErr != nil {
		return nil, c.forceErr
	}
	return &failover.Session{ID: "sess-1", Manual: true}, nil
}

func (c *fakeController) Events(limit int) []failover.Event {
	if limit > len(c.events) {
		limit = len(c.events)
	}
	return c.events[:limit]
}

func newTestServer(status fakeStatus, ctrl *fakeController) *Server {
	return NewServer(Config{Port: 0}, zap.NewNop(), status, ctrl, nil)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(fakeStatus{}, &fakeController{state: failover.StateIdle})

	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusIncludesFailoverState(t *testing.T) {
	s := newTestServer(
		fakeStatus{"health": "available", "pool": map[string]any{"idle": 2}},
		&fakeController{state: failover.StateRestoring},
	)

	rec := doRequest(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "available", body["health"])
	assert.Equal(t, "restoring", body["failover_state"])
}

func TestEventsLimit(t *testing.T) {
	events := []failover.Event{
		{SessionID: "s1", To: failover.StateFailingOver, At: time.Now()},
		{SessionID: "s1", To: failover.StateVerifying, At: time.Now()},
		{SessionID: "s1", To: failover.StateIdle, At: time.Now()},
	}
	s := newTestServer(fakeStatus{}, &fakeController{events: events})

	rec := doRequest(t, s, http.MethodGet, "/events?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []failover.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Events, 2)
}

func TestEventsRejectsBadLimit(t *testing.T) {
	s := newTestServer(fakeStatus{}, &fakeController{})

	rec := doRequest(t, s, http.MethodGet, "/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForceFailover(t *testing.T) {
	ctrl := &fakeController{state: failover.StateFailingOver}
	s := newTestServer(fakeStatus{}, ctrl)

	rec := doRequest(t, s, http.MethodPost, "/failover")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ctrl.forced)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sess-1", body["session_id"])
}

func TestForceFailoverConflict(t *testing.T) {
	ctrl := &fakeController{forceErr: errors.New("recovery already in progress")}
	s := newTestServer(fakeStatus{}, ctrl)

	rec := doRequest(t, s, http.MethodPost, "/failover")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestForceFailoverRequiresPost(t *testing.T) {
	s := newTestServer(fakeStatus{}, &fakeController{})

	rec := doRequest(t, s, http.MethodGet, "/failover")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
