// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

// Package metastore implements the metadata handle of the tiered storage
// manager: scoped statement execution, the identifier caches, file identity
// resolution and cache residency bookkeeping.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tierstore/metastat/internal/limits"
	"github.com/tierstore/metastat/internal/log"
	"github.com/tierstore/metastat/internal/slogerrcapture"
)

// Dialect names the SQL flavor of the backing database. Statement synthesis
// is dialect-agnostic, only administrative catalog operations switch on it.
type Dialect string

const (
	DialectDuckDB Dialect = "duckdb"
	DialectMySQL  Dialect = "mysql"
)

// Querier is the statement-scoped execution surface shared by Gateway and
// Conn. Exactly one statement runs per call and every resource acquired for
// it is released before the call returns.
type Querier interface {
	Query(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error
	Update(ctx context.Context, query string, args ...any) (int64, error)
	Exec(ctx context.Context, query string, args ...any) error
}

// Gateway executes statements against the backing database. Each operation
// checks a connection out of the pool for the duration of one statement and
// returns it on every exit path. It is the only place connection lifetime is
// managed.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
	sem     *limits.Semaphore
}

var _ Querier = (*Gateway)(nil)

type gatewayConfig struct {
	maxConcurrentQueries int
}

type GatewayOption func(*gatewayConfig)

// MaxConcurrentQueries bounds the number of concurrently streaming result
// sets. Zero means unbounded.
func MaxConcurrentQueries(n int) GatewayOption {
	return func(cfg *gatewayConfig) {
		if n > 0 {
			cfg.maxConcurrentQueries = n
		}
	}
}

func NewGateway(db *sql.DB, dialect Dialect, opts ...GatewayOption) *Gateway {
	cfg := gatewayConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	return &Gateway{
		db:      db,
		dialect: dialect,
		sem:     limits.NewSempahore(cfg.maxConcurrentQueries),
	}
}

func (g *Gateway) Dialect() Dialect { return g.dialect }

// Acquire checks one connection out of the pool. The returned Conn runs any
// number of statements on that single connection; the caller owns it until
// Close, which returns it to the pool and is safe to call more than once.
func (g *Gateway) Acquire(ctx context.Context) (*Conn, error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire connection: %w", err)
	}
	return &Conn{gw: g, conn: conn}, nil
}

func (g *Gateway) Query(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error {
	conn, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), conn.Close, "release connection")

	return conn.Query(ctx, query, args, fn)
}

func (g *Gateway) Update(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := g.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), conn.Close, "release connection")

	return conn.Update(ctx, query, args...)
}

func (g *Gateway) Exec(ctx context.Context, query string, args ...any) error {
	conn, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer slogerrcapture.Do(log.Ctx(ctx), conn.Close, "release connection")

	return conn.Exec(ctx, query, args...)
}

// Conn is one checked-out connection. Not safe for concurrent use.
type Conn struct {
	gw     *Gateway
	conn   *sql.Conn
	closed atomic.Bool
}

var _ Querier = (*Conn)(nil)

// Close returns the connection to the pool. Calling it again is a no-op.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Query runs one statement and streams its rows through fn. Rows are closed
// on every exit path, including errors returned by fn.
func (c *Conn) Query(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error {
	if err := c.gw.sem.Reserve(ctx); err != nil {
		return err
	}
	defer c.gw.sem.Release()
	defer observeOperation(opQuery, time.Now())

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("unable to query: %w", err)
	}
	defer slogerrcapture.Do(log.Ctx(ctx), rows.Close, "close rows")

	if err := fn(rows); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("unable to iterate rows: %w", err)
	}
	return nil
}

// Update runs one statement and reports the affected row count.
func (c *Conn) Update(ctx context.Context, query string, args ...any) (int64, error) {
	defer observeOperation(opUpdate, time.Now())

	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("unable to update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unable to read affected rows: %w", err)
	}
	return n, nil
}

// Exec runs one statement and discards its result.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	defer observeOperation(opExec, time.Now())

	if _, err := c.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("unable to execute: %w", err)
	}
	return nil
}

func observeOperation(op string, start time.Time) {
	gatewayOperations.WithLabelValues(op).Inc()
	gatewayOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
