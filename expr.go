// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"strings"
)

// Expression is a value or table-like construct that can be used as an
// operand. The set of expressions is closed: only types in this package
// implement it.
type Expression interface {
	expression()
}

// Column references a column, optionally qualified by a table name or
// alias. A Name of "*" selects every column.
type Column struct {
	Table string
	Name  string
}

// Col returns the Column for a possibly qualified name such as "t.id".
func Col(name string) Column {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return Column{Table: name[:i], Name: name[i+1:]}
	}
	return Column{Name: name}
}

// Value is a bound argument. Type is the declared type handed to the driver
// alongside the value. A slice V renders as a parenthesised list with one
// argument per element.
type Value struct {
	V    any
	Type string
}

// Val returns an untyped Value.
func Val(v any) Value {
	return Value{V: v}
}

// TypedVal returns a Value with a declared type, such as "json".
func TypedVal(v any, typ string) Value {
	return Value{V: v, Type: typ}
}

// Raw is an opaque SQL fragment. Each ? in SQL binds the argument at the
// same position in Args; ?? is a literal question mark and ?::type declares
// the type of the argument. An argument that is itself an Expression, such
// as a *Select, is formatted in place.
type Raw struct {
	SQL  string
	Args []any
}

// RawSQL returns a Raw fragment.
func RawSQL(sql string, args ...any) Raw {
	return Raw{SQL: sql, Args: args}
}

// Table references a table, optionally within a schema and under an
// alias.
type Table struct {
	Schema string
	Name   string
	Alias  string
}

// Tab parses "schema.name alias" or "name AS alias" into a Table.
func Tab(spec string) Table {
	var t Table
	fields := strings.Fields(spec)
	switch {
	case len(fields) == 3 && strings.EqualFold(fields[1], "as"):
		t.Alias = fields[2]
	case len(fields) == 2:
		t.Alias = fields[1]
	}
	if len(fields) > 0 {
		spec = fields[0]
	}
	if i := strings.LastIndexByte(spec, '.'); i >= 0 {
		t.Schema, t.Name = spec[:i], spec[i+1:]
	} else {
		t.Name = spec
	}
	return t
}

// ref returns the name other clauses use to refer to the table.
func (t Table) ref() string {
	if t.Alias != "" {
		return t.Alias
	}
	if t.Schema != "" {
		return t.Schema + "." + t.Name
	}
	return t.Name
}

// ConstantRow is a literal tuple of bound values.
type ConstantRow struct {
	Values []any
}

// Row returns a ConstantRow.
func Row(values ...any) ConstantRow {
	return ConstantRow{Values: values}
}

// ConstantTable is a literal VALUES table usable in FROM and USING clauses.
type ConstantTable struct {
	Alias   string
	Columns []string
	Rows    [][]any
}

// NewConstantTable returns a ConstantTable, checking that every row has the
// same width as the column list.
func NewConstantTable(alias string, columns []string, rows ...[]any) (ConstantTable, error) {
	if alias == "" {
		return ConstantTable{}, buildError("constant table needs an alias")
	}
	if len(rows) == 0 {
		return ConstantTable{}, buildError("constant table %q has no rows", alias)
	}
	width := len(columns)
	if width == 0 {
		width = len(rows[0])
	}
	for i, row := range rows {
		if len(row) != width {
			return ConstantTable{}, buildError("constant table %q: row %d has %d values, expected %d", alias, i, len(row), width)
		}
	}
	return ConstantTable{Alias: alias, Columns: columns, Rows: rows}, nil
}

// Comparison applies a binary operator.
type Comparison struct {
	Left  Expression
	Op    string
	Right Expression
}

// Between tests Expr against an inclusive range.
type Between struct {
	Expr      Expression
	Not       bool
	Low, High Expression
}

// DefaultWildcard marks where Like.Value is spliced into Like.Pattern.
const DefaultWildcard = "{}"

// Like matches Expr against a pattern. When Value is set it is escaped for
// LIKE and spliced into Pattern in place of Wildcard, so
//
//	Like{Expr: Col("name"), Pattern: "%{}%", Value: "50%"}
//
// matches names containing the literal text "50%". Matching is case
// insensitive unless CaseSensitive is set.
type Like struct {
	Expr          Expression
	Pattern       string
	Wildcard      string
	Value         any
	CaseSensitive bool
	Not           bool
}

// Contains matches column values containing s.
func Contains(column string, s string) Like {
	return Like{Expr: Col(column), Pattern: "%{}%", Value: s}
}

// HasPrefix matches column values starting with s.
func HasPrefix(column string, s string) Like {
	return Like{Expr: Col(column), Pattern: "{}%", Value: s}
}

// HasSuffix matches column values ending with s.
func HasSuffix(column string, s string) Like {
	return Like{Expr: Col(column), Pattern: "%{}", Value: s}
}

// Aliased gives an expression a display name.
type Aliased struct {
	Expr  Expression
	Alias string
}

// As returns e under alias.
func As(e Expression, alias string) Aliased {
	return Aliased{Expr: e, Alias: alias}
}

// Cast converts Expr to Type using the dialect's cast syntax.
type Cast struct {
	Expr Expression
	Type string
}

// Func is a function call such as COUNT(*).
type Func struct {
	Name string
	Args []Expression
}

// Fn returns a function call.
func Fn(name string, args ...Expression) Func {
	return Func{Name: name, Args: args}
}

func (Column) expression()        {}
func (Value) expression()         {}
func (Raw) expression()           {}
func (Table) expression()         {}
func (ConstantRow) expression()   {}
func (ConstantTable) expression() {}
func (Comparison) expression()    {}
func (Between) expression()       {}
func (Like) expression()          {}
func (Aliased) expression()       {}
func (Cast) expression()          {}
func (Func) expression()          {}
func (*Select) expression()       {}
func (*Where) expression()        {}

// cloneExpr copies the mutable parts of an expression: sub-selects and
// condition trees. Other expressions are values.
func cloneExpr(e Expression) Expression {
	switch e := e.(type) {
	case *Select:
		if e == nil {
			return e
		}
		return e.Clone()
	case *Where:
		if e == nil {
			return e
		}
		return e.Clone()
	case Raw:
		return Raw{SQL: e.SQL, Args: cloneArgs(e.Args)}
	case Comparison:
		return Comparison{Left: cloneExpr(e.Left), Op: e.Op, Right: cloneExpr(e.Right)}
	case Between:
		return Between{Expr: cloneExpr(e.Expr), Not: e.Not, Low: cloneExpr(e.Low), High: cloneExpr(e.High)}
	case Like:
		e.Expr = cloneExpr(e.Expr)
		return e
	case Aliased:
		return Aliased{Expr: cloneExpr(e.Expr), Alias: e.Alias}
	case Cast:
		return Cast{Expr: cloneExpr(e.Expr), Type: e.Type}
	case Func:
		return Func{Name: e.Name, Args: cloneExprs(e.Args)}
	case Value:
		if sub, ok := e.V.(Expression); ok {
			return Value{V: cloneExpr(sub), Type: e.Type}
		}
		return e
	}
	return e
}

func cloneExprs(es []Expression) []Expression {
	if es == nil {
		return nil
	}
	out := make([]Expression, len(es))
	for i, e := range es {
		out[i] = cloneExpr(e)
	}
	return out
}

func cloneArgs(as []any) []any {
	if as == nil {
		return nil
	}
	out := make([]any, len(as))
	for i, a := range as {
		if e, ok := a.(Expression); ok {
			out[i] = cloneExpr(e)
			continue
		}
		out[i] = a
	}
	return out
}
