// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"context"
	"database/sql"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// DefaultStatementCacheSize is the number of prepared statements a Conn
// keeps when ConnOptions.StatementCacheSize is zero.
const DefaultStatementCacheSize = 64

// preparer is something statements can be prepared on, such as a sql.Conn.
type preparer interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// cachedStmt is a driver prepared statement and the text it was prepared
// from. The text is kept because callers choose statement IDs and one ID may
// be reused for a different text.
type cachedStmt struct {
	sql  string
	stmt *sql.Stmt
}

// statementCache holds the driver prepared statements of one connection,
// indexed by compiled statement ID. The least recently used statement is
// closed when the cache is full.
//
// Concurrent prepares of the same ID are coalesced so a statement is only
// prepared once on the driver.
type statementCache struct {
	substrate preparer
	logger    hclog.Logger
	stmts     *lru.Cache
	group     singleflight.Group
}

func newStatementCache(substrate preparer, size int, logger hclog.Logger) (*statementCache, error) {
	if size <= 0 {
		size = DefaultStatementCacheSize
	}
	sc := &statementCache{substrate: substrate, logger: logger}
	stmts, err := lru.NewWithEvict(size, sc.evicted)
	if err != nil {
		return nil, err
	}
	sc.stmts = stmts
	return sc, nil
}

// evicted closes a statement leaving the cache.
func (sc *statementCache) evicted(key, value interface{}) {
	cs := value.(*cachedStmt)
	if err := cs.stmt.Close(); err != nil {
		sc.logger.Warn("cannot close prepared statement", "id", key, "err", err)
		return
	}
	sc.logger.Debug("closed prepared statement", "id", key)
}

// lookup returns the cached statement for c, if any.
func (sc *statementCache) lookup(c *Compiled) (*sql.Stmt, bool) {
	v, ok := sc.stmts.Get(c.ID())
	if !ok {
		return nil, false
	}
	cs := v.(*cachedStmt)
	if cs.sql != c.SQL() {
		return nil, false
	}
	return cs.stmt, true
}

// prepare returns the statement for c, preparing it on the driver if it is
// not cached. Driver errors are returned unmodified.
func (sc *statementCache) prepare(ctx context.Context, c *Compiled) (*sql.Stmt, error) {
	if stmt, ok := sc.lookup(c); ok {
		return stmt, nil
	}
	id := c.ID()
	v, err, _ := sc.group.Do(id+"\x00"+c.SQL(), func() (interface{}, error) {
		if stmt, ok := sc.lookup(c); ok {
			return stmt, nil
		}
		stmt, err := sc.substrate.PrepareContext(ctx, c.SQL())
		if err != nil {
			return nil, err
		}
		// A different text under the same ID is replaced, which closes it.
		sc.stmts.Remove(id)
		sc.stmts.Add(id, &cachedStmt{sql: c.SQL(), stmt: stmt})
		sc.logger.Debug("prepared statement", "id", id, "sql", c.SQL())
		return stmt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.Stmt), nil
}

// len returns the number of cached statements.
func (sc *statementCache) len() int {
	return sc.stmts.Len()
}

// purge closes every cached statement.
func (sc *statementCache) purge() {
	sc.stmts.Purge()
}
