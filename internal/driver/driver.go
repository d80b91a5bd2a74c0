// Package driver defines the opaque database driver contract the pool
// dials through. Adapters translate their native errors into the
// dberr taxonomy so the retry controller can classify them.
package driver

import (
	"context"

	"github.com/mishramohit437/rdsguard/internal/cluster"
)

// Driver dials a single connection to an endpoint. It must not pool
// internally; the pool manager owns connection lifecycle.
type Driver interface {
	Connect(ctx context.Context, endpoint cluster.Endpoint) (Conn, error)
}

// Conn is one live connection.
type Conn interface {
	// Exec runs a statement with ordered parameters.
	Exec(ctx context.Context, statement string, params []any) (*Result, error)

	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error

	Close() error
}

// Result is the outcome of one statement.
type Result struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
}
