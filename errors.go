// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/canonical/sqlcompose/internal/placeholder"
)

var (
	// ErrInvalidStatement is wrapped by every error raised while building a
	// statement or condition tree.
	ErrInvalidStatement = errors.New("invalid statement")
	// ErrCompile is wrapped by every error raised while formatting a
	// statement.
	ErrCompile = errors.New("cannot compile statement")
	// ErrArgumentCount is wrapped when placeholders and arguments disagree.
	ErrArgumentCount = placeholder.ErrArgumentCount
)

var (
	ErrTXDone             = sql.ErrTxDone
	ErrTXNotStarted       = errors.New("sql: transaction has not been started")
	ErrTXStarted          = errors.New("sql: transaction has already been started")
	ErrTXPending          = errors.New("sql: connection has a pending transaction")
	ErrTXLeaked           = errors.New("sql: transaction was still started when released and has been rolled back")
	ErrSavepointIsolation = errors.New("sql: cannot change isolation level of a savepoint")
	ErrSavepointOpen      = errors.New("sql: savepoint has an open nested savepoint")
)

// buildError returns an ErrInvalidStatement error with the given context.
func buildError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidStatement, fmt.Sprintf(format, a...))
}

// compileError returns an ErrCompile error with the given context.
func compileError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrCompile, fmt.Sprintf(format, a...))
}

func isCompileError(err error) bool {
	return errors.Is(err, ErrCompile)
}
