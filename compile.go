// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/canonical/sqlcompose/dialect"
	"github.com/canonical/sqlcompose/internal/args"
	"github.com/canonical/sqlcompose/internal/placeholder"
)

// Argument is a bound argument of a compiled statement.
type Argument = args.Arg

// Compiled is a statement formatted for one dialect. It is immutable and
// safe to share between goroutines.
type Compiled struct {
	sql  string
	args []Argument
	id   string
}

// SQL returns the statement text with the dialect's bind tokens.
func (c *Compiled) SQL() string {
	return c.sql
}

// Args returns the argument values in the order the driver expects them.
func (c *Compiled) Args() []any {
	return args.Values(c.args)
}

// Arguments returns the arguments with their declared types.
func (c *Compiled) Arguments() []Argument {
	out := make([]Argument, len(c.args))
	copy(out, c.args)
	return out
}

// Types returns the declared type of each argument, "" where none was
// declared.
func (c *Compiled) Types() []string {
	return args.Types(c.args)
}

// ID returns the identifier set on the statement, or a hash of the SQL
// text when none was set. Statements with equal text share an ID.
func (c *Compiled) ID() string {
	return c.id
}

func (c *Compiled) String() string {
	return c.sql
}

// Compile formats s for d. Compilation fails if s recorded a build error,
// if an expression cannot be rendered in d, or if the placeholders of a raw
// fragment do not match its arguments.
func Compile(s Statement, d dialect.Dialect) (*Compiled, error) {
	if s == nil {
		return nil, compileError("nil statement")
	}
	if d == nil {
		d = dialect.Generic
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	acc := args.New()
	w := newWriter(d, acc)
	text, err := w.statement(s)
	if err != nil {
		return nil, wrapCompile(err)
	}
	text, err = placeholder.Rewrite(text, placeholderOptions(d), acc.Len(), d.Placeholder)
	if err != nil {
		return nil, wrapCompile(err)
	}

	id := s.ID()
	if id == "" {
		id = strconv.FormatUint(xxhash.Sum64String(text), 16)
	}
	return &Compiled{sql: text, args: acc.Args(), id: id}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(s Statement, d dialect.Dialect) *Compiled {
	c, err := Compile(s, d)
	if err != nil {
		panic(err)
	}
	return c
}

func wrapCompile(err error) error {
	if isCompileError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCompile, err)
}
