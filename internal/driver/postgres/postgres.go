// Package postgres adapts pgx to the driver contract. Each Connect
// dials exactly one TCP connection; pooling happens above, never here.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/dberr"
	"github.com/mishramohit437/rdsguard/internal/driver"
)

const closeTimeout = 5 * time.Second

// Config holds the connection settings shared by every endpoint.
// The address itself comes from the endpoint being dialed.
type Config struct {
	Database string
	User     string
	Password string
	SSLMode  string
}

// Driver dials Postgres endpoints via pgx.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Postgres driver.
func New(cfg Config, logger *zap.Logger) *Driver {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger}
}

// Connect dials a single connection to the endpoint.
func (d *Driver) Connect(ctx context.Context, endpoint cluster.Endpoint) (driver.Conn, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		d.cfg.User, d.cfg.Password, endpoint.Address, d.cfg.Database, d.cfg.SSLMode)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, classify(fmt.Errorf("connect %s: %w", endpoint.Address, err))
	}

	d.logger.Debug("connection established",
		zap.String("endpoint", endpoint.ID),
		zap.String("address", endpoint.Address))

	return &pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) Exec(ctx context.Context, statement string, params []any) (*driver.Result, error) {
	if returnsRows(statement) {
		return c.query(ctx, statement, params)
	}

	tag, err := c.conn.Exec(ctx, statement, params...)
	if err != nil {
		return nil, classify(fmt.Errorf("exec: %w", err))
	}
	return &driver.Result{RowsAffected: tag.RowsAffected()}, nil
}

func (c *pgxConn) query(ctx context.Context, statement string, params []any) (*driver.Result, error) {
	rows, err := c.conn.Query(ctx, statement, params...)
	if err != nil {
		return nil, classify(fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	var cols []string
	for _, fd := range rows.FieldDescriptions() {
		cols = append(cols, fd.Name)
	}

	res := &driver.Result{Columns: cols}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classify(fmt.Errorf("scan: %w", err))
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("rows: %w", err))
	}

	res.RowsAffected = int64(len(res.Rows))
	return res, nil
}

func (c *pgxConn) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return classify(fmt.Errorf("ping: %w", err))
	}
	return nil
}

func (c *pgxConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

func returnsRows(statement string) bool {
	head := strings.ToUpper(strings.TrimSpace(statement))
	return strings.HasPrefix(head, "SELECT") ||
		strings.HasPrefix(head, "WITH") ||
		strings.HasPrefix(head, "SHOW") ||
		strings.Contains(head, "RETURNING")
}

// classify tags a pgx error with the matching taxonomy sentinel.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		// 28xxx invalid authorization, 42xxx syntax or access rule
		case strings.HasPrefix(code, "28"), strings.HasPrefix(code, "42"):
			return fmt.Errorf("%w: %w", dberr.ErrFatal, err)
		// 08xxx connection exception, 57Pxx admin shutdown/crash,
		// 53300 too many connections: all worth retrying elsewhere
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"), code == "53300":
			return fmt.Errorf("%w: %w", dberr.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", dberr.ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", dberr.ErrTransient, err)
	}
	return err
}
