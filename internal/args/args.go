// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package args collects the bound arguments of a statement in the order
// their placeholders appear in the SQL text.
package args

import (
	"database/sql"
)

// Arg is a single bound argument.
type Arg struct {
	// Value is passed to the driver.
	Value any
	// Type is the declared type of the argument, if any. It is passed
	// through uninterpreted.
	Type string
	// Name is set when the value was supplied as a sql.NamedArg.
	Name string
}

// Accumulator is an append-only list of arguments. One accumulator is used
// per compilation and must not be shared.
type Accumulator struct {
	args []Arg
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Add appends a value and returns its 1-indexed position. A sql.NamedArg
// is unwrapped and its name recorded.
func (a *Accumulator) Add(value any, typ string) int {
	arg := Arg{Value: value, Type: typ}
	if named, ok := value.(sql.NamedArg); ok {
		arg.Name = named.Name
		arg.Value = named.Value
	}
	a.args = append(a.args, arg)
	return len(a.args)
}

// Len returns the number of accumulated arguments.
func (a *Accumulator) Len() int {
	return len(a.args)
}

// Args returns a copy of the accumulated arguments.
func (a *Accumulator) Args() []Arg {
	out := make([]Arg, len(a.args))
	copy(out, a.args)
	return out
}

// Values returns the values in the form database/sql expects them, with
// named arguments rewrapped in sql.Named.
func Values(args []Arg) []any {
	vals := make([]any, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			vals[i] = sql.Named(arg.Name, arg.Value)
			continue
		}
		vals[i] = arg.Value
	}
	return vals
}

// Types returns the declared type of each argument.
func Types(args []Arg) []string {
	types := make([]string, len(args))
	for i, arg := range args {
		types[i] = arg.Type
	}
	return types
}
