// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/canonical/sqlcompose/dialect"
)

// TXState is the lifecycle state of a transaction or savepoint.
type TXState int

const (
	NotStarted TXState = iota
	Started
	Committed
	RolledBack
)

func (s TXState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Started:
		return "started"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("TXState(%d)", int(s))
}

// TXOptions holds the transaction options used by [Conn.Begin] and
// [Conn.Transaction].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
	// Nested starts a savepoint of the pending transaction instead of
	// failing with ErrTXPending.
	Nested bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

func (txopts *TXOptions) nested() bool {
	return txopts != nil && txopts.Nested
}

// txCore is the state shared by a root transaction and its savepoints. The
// Conn refers to the core, not to the root handle, so a root handle that is
// dropped while started can be garbage collected and rolled back by its
// finalizer.
type txCore struct {
	conn  *Conn
	sqltx *sql.Tx

	// mu guards the fields below and the state of every handle sharing the
	// core.
	mu         sync.Mutex
	state      TXState
	savepoints []*TX
	nextID     int
}

// TX is a transaction, or a savepoint within one. The zero state is
// NotStarted; [TX.Begin] starts it.
type TX struct {
	conn *Conn
	opts *TXOptions
	core *txCore
	// name is the savepoint name, empty for a root transaction.
	name  string
	state TXState
}

// State returns the current state of the handle.
func (tx *TX) State() TXState {
	if tx.core == nil {
		return tx.state
	}
	tx.core.mu.Lock()
	defer tx.core.mu.Unlock()
	if tx.name == "" {
		return tx.core.state
	}
	return tx.state
}

// IsSavepoint reports whether the handle is a savepoint.
func (tx *TX) IsSavepoint() bool {
	return tx.name != ""
}

// Begin starts the transaction. If the connection already has a pending
// transaction the handle becomes a savepoint of it when nesting is enabled,
// either in the transaction's options or the connection's; otherwise Begin
// fails with ErrTXPending.
func (tx *TX) Begin(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.core != nil || tx.state != NotStarted {
		if tx.State() == Started {
			return ErrTXStarted
		}
		return ErrTXDone
	}
	c := tx.conn

	c.mu.Lock()
	if pending := c.pending; pending != nil {
		c.mu.Unlock()
		if !tx.opts.nested() && !c.nested {
			return ErrTXPending
		}
		return pending.savepoint(ctx, tx)
	}
	sqltx, err := c.conn.BeginTx(ctx, tx.opts.plainTXOptions())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	core := &txCore{conn: c, sqltx: sqltx, state: Started}
	c.pending = core
	c.mu.Unlock()

	tx.core = core
	tx.state = Started
	runtime.SetFinalizer(tx, finalizeTX)
	c.logger.Trace("transaction started")
	return nil
}

// Savepoint starts a savepoint within the transaction. Savepoints nest
// strictly: an outer savepoint cannot end while an inner one is open.
func (tx *TX) Savepoint(ctx context.Context) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := tx.active(); err != nil {
		return nil, err
	}
	sp := &TX{conn: tx.conn, opts: tx.opts}
	if err := tx.core.savepoint(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// savepoint starts sp as a savepoint of the core.
func (core *txCore) savepoint(ctx context.Context, sp *TX) error {
	core.mu.Lock()
	defer core.mu.Unlock()
	if core.state != Started {
		return ErrTXDone
	}
	core.nextID++
	name := fmt.Sprintf("sp_%d", core.nextID)
	if _, err := core.sqltx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	sp.core = core
	sp.name = name
	sp.state = Started
	core.savepoints = append(core.savepoints, sp)
	core.conn.logger.Trace("savepoint started", "name", name)
	return nil
}

// Commit commits the transaction, or releases the savepoint.
func (tx *TX) Commit(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.core == nil {
		return ErrTXNotStarted
	}
	if tx.name != "" {
		return tx.endSavepoint(ctx, "RELEASE SAVEPOINT ", Committed)
	}

	core := tx.core
	core.mu.Lock()
	defer core.mu.Unlock()
	if core.state != Started {
		return ErrTXDone
	}
	if err := core.sqltx.Commit(); err != nil {
		// A failed commit leaves nothing to roll back.
		core.end(tx, RolledBack)
		return err
	}
	core.end(tx, Committed)
	return nil
}

// Rollback aborts the transaction, or rolls back to the savepoint.
func (tx *TX) Rollback(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.core == nil {
		return ErrTXNotStarted
	}
	if tx.name != "" {
		return tx.endSavepoint(ctx, "ROLLBACK TO SAVEPOINT ", RolledBack)
	}
	return tx.core.rollback(tx)
}

func (core *txCore) rollback(root *TX) error {
	core.mu.Lock()
	defer core.mu.Unlock()
	if core.state != Started {
		return ErrTXDone
	}
	err := core.sqltx.Rollback()
	core.end(root, RolledBack)
	return err
}

// end finishes the root transaction and every savepoint within it. The
// core mutex must be held.
func (core *txCore) end(root *TX, state TXState) {
	core.state = state
	root.state = state
	for _, sp := range core.savepoints {
		sp.state = state
	}
	core.savepoints = nil

	c := core.conn
	c.mu.Lock()
	if c.pending == core {
		c.pending = nil
	}
	c.mu.Unlock()
	runtime.SetFinalizer(root, nil)
	c.logger.Trace("transaction ended", "state", state)
}

func (tx *TX) endSavepoint(ctx context.Context, verb string, state TXState) error {
	core := tx.core
	core.mu.Lock()
	defer core.mu.Unlock()
	if tx.state != Started || core.state != Started {
		return ErrTXDone
	}
	if top := core.savepoints[len(core.savepoints)-1]; top != tx {
		return fmt.Errorf("%w: cannot end %s before %s", ErrSavepointOpen, tx.name, top.name)
	}
	if _, err := core.sqltx.ExecContext(ctx, verb+tx.name); err != nil {
		return err
	}
	core.savepoints = core.savepoints[:len(core.savepoints)-1]
	tx.state = state
	core.conn.logger.Trace("savepoint ended", "name", tx.name, "state", state)
	return nil
}

// SetIsolation changes the isolation level of a started root transaction.
func (tx *TX) SetIsolation(ctx context.Context, level sql.IsolationLevel) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.name != "" {
		return ErrSavepointIsolation
	}
	sqltx, err := tx.active()
	if err != nil {
		return err
	}
	stmt, err := dialect.IsolationStatement(tx.conn.dialect, level)
	if err != nil {
		return err
	}
	_, err = sqltx.ExecContext(ctx, stmt)
	return err
}

// Close rolls back a root transaction that is still started and returns
// ErrTXLeaked. It returns nil for finished transactions and savepoints.
func (tx *TX) Close() error {
	if tx.name != "" || tx.core == nil {
		return nil
	}
	err := tx.core.rollback(tx)
	if errors.Is(err, ErrTXDone) {
		return nil
	}
	tx.conn.logger.Error("transaction closed while started, rolled back", "err", err)
	if err != nil {
		return errors.Join(ErrTXLeaked, err)
	}
	return ErrTXLeaked
}

// finalizeTX rolls back a root transaction garbage collected while
// started.
func finalizeTX(tx *TX) {
	err := tx.core.rollback(tx)
	if errors.Is(err, ErrTXDone) {
		return
	}
	tx.conn.logger.Error("transaction leaked, rolled back", "err", err)
}

// active returns the underlying transaction if the handle is started.
func (tx *TX) active() (*sql.Tx, error) {
	if tx.core == nil {
		return nil, ErrTXNotStarted
	}
	tx.core.mu.Lock()
	defer tx.core.mu.Unlock()
	if tx.core.state != Started || (tx.name != "" && tx.state != Started) {
		return nil, ErrTXDone
	}
	return tx.core.sqltx, nil
}

// Exec compiles and executes a statement within the transaction.
func (tx *TX) Exec(ctx context.Context, s Statement) (sql.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, c, err := tx.compile(s)
	if err != nil {
		return nil, err
	}
	return sqltx.ExecContext(ctx, c.SQL(), c.Args()...)
}

// Query compiles and runs a statement within the transaction. The rows
// are returned as the driver produced them.
func (tx *TX) Query(ctx context.Context, s Statement) (*sql.Rows, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, c, err := tx.compile(s)
	if err != nil {
		return nil, err
	}
	return sqltx.QueryContext(ctx, c.SQL(), c.Args()...)
}

// QueryRow compiles and runs a statement expected to return at most one
// row.
func (tx *TX) QueryRow(ctx context.Context, s Statement) (*sql.Row, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, c, err := tx.compile(s)
	if err != nil {
		return nil, err
	}
	return sqltx.QueryRowContext(ctx, c.SQL(), c.Args()...), nil
}

func (tx *TX) compile(s Statement) (*sql.Tx, *Compiled, error) {
	sqltx, err := tx.active()
	if err != nil {
		return nil, nil, err
	}
	c, err := Compile(s, tx.conn.dialect)
	if err != nil {
		return nil, nil, err
	}
	return sqltx, c, nil
}
