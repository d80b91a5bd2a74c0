package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/dberr"
	"github.com/mishramohit437/rdsguard/internal/driver"
)

// Handle is a borrowed connection, owned exclusively by its holder
// until Release or Evict. It is tagged with the pool generation at
// acquire time; a rebind makes older handles stale.
type Handle struct {
	id         string
	generation uint64
	endpoint   cluster.Endpoint
	conn       driver.Conn
	pool       *Manager
	retired    atomic.Bool
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Generation returns the pool generation the handle was issued under.
func (h *Handle) Generation() uint64 { return h.generation }

// Endpoint returns the endpoint the handle's connection targets.
func (h *Handle) Endpoint() cluster.Endpoint { return h.endpoint }

// Conn returns the underlying connection, or ErrStaleHandle if the
// pool has been rebound since the handle was acquired. A stale handle
// must be evicted and re-acquired.
func (h *Handle) Conn() (driver.Conn, error) {
	if h.retired.Load() {
		return nil, fmt.Errorf("handle %s already returned: %w", h.id, dberr.ErrStaleHandle)
	}
	if h.generation != h.pool.generation.Load() {
		return nil, fmt.Errorf("handle %s from generation %d, pool at %d: %w",
			h.id, h.generation, h.pool.generation.Load(), dberr.ErrStaleHandle)
	}
	return h.conn, nil
}

// retire marks the handle returned. Only the first caller wins, which
// makes Release/Evict idempotent.
func (h *Handle) retire() bool {
	return h.retired.CompareAndSwap(false, true)
}
