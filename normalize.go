// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"reflect"
	"strings"
)

// The functions in this file coerce the loosely typed arguments accepted by
// the builders into expressions.
//
// A callable in any position receives a fresh *Where as its context. It can
// populate the Where and return nothing, in which case the Where is used as
// a nested condition group, or return a replacement expression.

// columnExpr normalizes an argument in a column position. Strings are
// column references and may carry an alias: "t.name AS n".
func columnExpr(v any) (Expression, error) {
	switch v := v.(type) {
	case nil:
		return nil, buildError("missing column")
	case string:
		return parseColumn(v)
	case func(*Where):
		return callWhere(v)
	case func(*Where) Expression:
		return callWhereExpr(v)
	case Expression:
		return checkExpr(v)
	}
	return nil, buildError("cannot use %T as a column", v)
}

// valueExpr normalizes an argument in a value position. Expressions are
// kept, anything else becomes a bound Value.
func valueExpr(v any) (Expression, error) {
	switch v := v.(type) {
	case func(*Where):
		return callWhere(v)
	case func(*Where) Expression:
		return callWhereExpr(v)
	case Expression:
		return checkExpr(v)
	}
	return Value{V: v}, nil
}

// tableExpr normalizes an argument naming a table. Strings are parsed by
// Tab. Sub-selects must be aliased.
func tableExpr(v any) (Expression, error) {
	switch v := v.(type) {
	case nil:
		return nil, buildError("missing table")
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, buildError("empty table name")
		}
		return Tab(v), nil
	case Table:
		if v.Name == "" {
			return nil, buildError("empty table name")
		}
		return v, nil
	case *Select:
		return nil, buildError("sub-select used as a table needs an alias")
	case Aliased, ConstantTable, Raw:
		return checkExpr(v.(Expression))
	}
	return nil, buildError("cannot use %T as a table", v)
}

// targetTable normalizes the table modified by an INSERT, UPDATE, DELETE
// or MERGE.
func targetTable(v any) (Table, error) {
	e, err := tableExpr(v)
	if err != nil {
		return Table{}, err
	}
	t, ok := e.(Table)
	if !ok {
		return Table{}, buildError("cannot modify %T, need a table", e)
	}
	return t, nil
}

func parseColumn(s string) (Expression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, buildError("empty column name")
	}
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		return Col(s), nil
	case len(fields) == 3 && strings.EqualFold(fields[1], "as"):
		return Aliased{Expr: Col(fields[0]), Alias: fields[2]}, nil
	}
	return nil, buildError("cannot parse column %q, use RawSQL for expressions", s)
}

func callWhere(fn func(*Where)) (Expression, error) {
	if fn == nil {
		return nil, buildError("nil callable")
	}
	w := NewWhere()
	fn(w)
	if err := w.complete(); err != nil {
		return nil, err
	}
	return w, nil
}

func callWhereExpr(fn func(*Where) Expression) (Expression, error) {
	if fn == nil {
		return nil, buildError("nil callable")
	}
	w := NewWhere()
	e := fn(w)
	if err := w.complete(); err != nil {
		return nil, err
	}
	if e == nil {
		return w, nil
	}
	return checkExpr(e)
}

// checkExpr rejects nil and empty expressions.
func checkExpr(e Expression) (Expression, error) {
	switch e := e.(type) {
	case nil:
		return nil, buildError("nil expression")
	case Raw:
		if strings.TrimSpace(e.SQL) == "" {
			return nil, buildError("empty raw expression")
		}
	case Column:
		if e.Name == "" {
			return nil, buildError("empty column name")
		}
	case *Select:
		if e == nil {
			return nil, buildError("nil sub-select")
		}
		if err := e.Err(); err != nil {
			return nil, err
		}
	case *Where:
		if e == nil {
			return nil, buildError("nil condition")
		}
		if err := e.Err(); err != nil {
			return nil, err
		}
	case Aliased:
		if e.Alias == "" {
			return nil, buildError("empty alias")
		}
		if _, err := checkExpr(e.Expr); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// isList reports whether v should bind as a list of values.
func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// listValues returns the elements of a slice or array.
func listValues(v any) []any {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func normalizeColumns(cols []any) ([]Expression, error) {
	out := make([]Expression, 0, len(cols))
	for _, c := range cols {
		e, err := columnExpr(c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
