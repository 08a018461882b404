// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/canonical/sqlcompose/dialect"
)

// ConnOptions configures a [Conn].
type ConnOptions struct {
	// Logger receives statement preparation and cache eviction at Debug
	// level, and leaked transactions at Error level. Defaults to a null
	// logger.
	Logger hclog.Logger
	// NestedTransactions makes Begin start a savepoint when a transaction
	// is already pending.
	NestedTransactions bool
	// StatementCacheSize bounds the number of prepared statements kept on
	// the connection. Zero means DefaultStatementCacheSize.
	StatementCacheSize int
}

// Conn runs compiled statements on a single database connection. It keeps
// a cache of prepared statements and tracks the pending transaction: while
// one is pending, statements must be run through it.
type Conn struct {
	conn    *sql.Conn
	dialect dialect.Dialect
	logger  hclog.Logger
	nested  bool
	cache   *statementCache

	// mu guards pending.
	mu      sync.Mutex
	pending *txCore
}

// NewConn wraps conn, compiling statements for d.
func NewConn(conn *sql.Conn, d dialect.Dialect, opts *ConnOptions) *Conn {
	if opts == nil {
		opts = &ConnOptions{}
	}
	if d == nil {
		d = dialect.Generic
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cache, err := newStatementCache(conn, opts.StatementCacheSize, logger)
	if err != nil {
		panic(fmt.Sprintf("internal error: cannot create statement cache: %s", err))
	}
	return &Conn{
		conn:    conn,
		dialect: d,
		logger:  logger,
		nested:  opts.NestedTransactions,
		cache:   cache,
	}
}

// Dialect returns the dialect statements are compiled for.
func (c *Conn) Dialect() dialect.Dialect {
	return c.dialect
}

// PlainConn returns the underlying connection.
func (c *Conn) PlainConn() *sql.Conn {
	return c.conn
}

// Compile compiles s for the connection's dialect.
func (c *Conn) Compile(s Statement) (*Compiled, error) {
	return Compile(s, c.dialect)
}

func (c *Conn) checkIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrTXPending
	}
	return nil
}

// Prepare compiles s and returns its prepared statement from the cache,
// preparing it on first use. The statement belongs to the cache and must
// not be closed by the caller.
func (c *Conn) Prepare(ctx context.Context, s Statement) (*sql.Stmt, *Compiled, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.checkIdle(); err != nil {
		return nil, nil, err
	}
	compiled, err := c.Compile(s)
	if err != nil {
		return nil, nil, err
	}
	stmt, err := c.cache.prepare(ctx, compiled)
	if err != nil {
		return nil, nil, err
	}
	return stmt, compiled, nil
}

// Exec compiles and executes a statement.
func (c *Conn) Exec(ctx context.Context, s Statement) (sql.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stmt, compiled, err := c.Prepare(ctx, s)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, compiled.Args()...)
}

// Query compiles and runs a statement. The rows are returned as the driver
// produced them.
func (c *Conn) Query(ctx context.Context, s Statement) (*sql.Rows, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stmt, compiled, err := c.Prepare(ctx, s)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, compiled.Args()...)
}

// QueryRow compiles and runs a statement expected to return at most one
// row.
func (c *Conn) QueryRow(ctx context.Context, s Statement) (*sql.Row, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stmt, compiled, err := c.Prepare(ctx, s)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(ctx, compiled.Args()...), nil
}

// Transaction returns a transaction handle that is started by
// [TX.Begin].
func (c *Conn) Transaction(opts *TXOptions) *TX {
	return &TX{conn: c, opts: opts}
}

// Begin starts a transaction. A transaction must be ended with
// [TX.Commit] or [TX.Rollback].
func (c *Conn) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	tx := c.Transaction(opts)
	if err := tx.Begin(ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Close rolls back a pending transaction, closes the cached statements and
// closes the connection. It returns ErrTXLeaked if a transaction had to be
// rolled back.
func (c *Conn) Close() error {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	var leaked error
	if pending != nil {
		pending.mu.Lock()
		if pending.state == Started {
			if err := pending.sqltx.Rollback(); err != nil {
				c.logger.Warn("cannot roll back pending transaction", "err", err)
			}
			pending.state = RolledBack
			for _, sp := range pending.savepoints {
				sp.state = RolledBack
			}
			pending.savepoints = nil
			leaked = ErrTXLeaked
			c.logger.Error("connection closed with a pending transaction, rolled back")
		}
		pending.mu.Unlock()
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}

	c.cache.purge()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return leaked
}
