// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"sort"
	"strings"

	"github.com/canonical/sqlcompose/internal/typeinfo"
)

type assignment struct {
	column string
	value  Expression
}

// Update is an UPDATE statement.
//
// Joins are rewritten for databases without UPDATE ... JOIN syntax: the
// first join, which must be INNER or NATURAL, becomes the FROM table and
// its condition is added to the WHERE clause.
type Update struct {
	clauses
	filter
	table     Table
	sets      []assignment
	returning []Expression
}

// NewUpdate returns an UPDATE of table.
func NewUpdate(table any) *Update {
	s := &Update{}
	t, err := targetTable(table)
	if err != nil {
		s.fail(err)
		return s
	}
	s.table = t
	return s
}

// Err returns the first error raised while building the statement.
func (s *Update) Err() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.where.complete()
}

// SetID sets the identifier of the compiled statement.
func (s *Update) SetID(id string) *Update {
	s.setID(id)
	return s
}

// With adds a common table expression.
func (s *Update) With(name string, sub *Select) *Update {
	s.addWith(name, sub, false)
	return s
}

// Set assigns value to column. The column must not be qualified with a
// table name. Setting a column twice keeps the last value.
func (s *Update) Set(column string, value any) *Update {
	if s.err != nil {
		return s
	}
	if column == "" {
		s.fail(buildError("empty column name in SET"))
		return s
	}
	if strings.Contains(column, ".") {
		s.fail(buildError("SET column %q must not be qualified with a table name", column))
		return s
	}
	e, err := valueExpr(value)
	if err != nil {
		s.fail(err)
		return s
	}
	for i := range s.sets {
		if s.sets[i].column == column {
			s.sets[i].value = e
			return s
		}
	}
	s.sets = append(s.sets, assignment{column: column, value: e})
	return s
}

// SetMap assigns every entry of values, in key order.
func (s *Update) SetMap(values map[string]any) *Update {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Set(k, values[k])
	}
	return s
}

// SetRecord assigns the tagged fields of a struct, or the entries of a map.
func (s *Update) SetRecord(record any) *Update {
	if s.err != nil {
		return s
	}
	cols, vals, err := typeinfo.Row(record)
	if err != nil {
		s.fail(buildError("%s", err))
		return s
	}
	for i, c := range cols {
		s.Set(c, vals[i])
	}
	return s
}

// Join adds a join of the given mode. on may be nil.
func (s *Update) Join(mode JoinMode, table any, on *Where) *Update {
	s.addJoin(mode, table, on)
	return s
}

// InnerJoin adds an INNER JOIN.
func (s *Update) InnerJoin(table any, on *Where) *Update {
	return s.Join(JoinInner, table, on)
}

// LeftJoin adds a LEFT JOIN.
func (s *Update) LeftJoin(table any, on *Where) *Update {
	return s.Join(JoinLeft, table, on)
}

// NaturalJoin adds a NATURAL JOIN.
func (s *Update) NaturalJoin(table any) *Update {
	return s.Join(JoinNatural, table, nil)
}

// Where adds the condition "column op value" to the WHERE clause.
func (s *Update) Where(column any, op string, value any) *Update {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Cond(column, op, value) })
	return s
}

// WhereExpr adds a boolean expression, such as a Like or a *Where, to the
// WHERE clause.
func (s *Update) WhereExpr(e Expression) *Update {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Expr(e) })
	return s
}

// WhereRaw adds an opaque condition to the WHERE clause.
func (s *Update) WhereRaw(sql string, args ...any) *Update {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Raw(sql, args...) })
	return s
}

// WhereExists adds an EXISTS condition to the WHERE clause.
func (s *Update) WhereExists(sub *Select) *Update {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Exists(sub) })
	return s
}

// WhereGroup adds a nested group populated by fn to the WHERE clause.
func (s *Update) WhereGroup(c Combinator, fn func(*Where)) *Update {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Group(c, fn) })
	return s
}

// Conditions returns the WHERE tree for direct use.
func (s *Update) Conditions() *Where {
	return s.conditions()
}

// Returning adds columns to a RETURNING clause.
func (s *Update) Returning(columns ...any) *Update {
	if s.err != nil {
		return s
	}
	cols, err := normalizeColumns(columns)
	if err != nil {
		s.fail(err)
		return s
	}
	s.returning = append(s.returning, cols...)
	return s
}

// Clone returns a deep copy of the statement.
func (s *Update) Clone() *Update {
	c := &Update{
		clauses:   s.clauses.clone(),
		filter:    filter{where: s.where.Clone()},
		table:     s.table,
		returning: cloneExprs(s.returning),
	}
	for _, a := range s.sets {
		c.sets = append(c.sets, assignment{column: a.column, value: cloneExpr(a.value)})
	}
	return c
}

// Delete is a DELETE statement. Joins are rewritten as for [Update], with
// the first join becoming the USING table.
type Delete struct {
	clauses
	filter
	table     Table
	returning []Expression
}

// NewDelete returns a DELETE from table.
func NewDelete(table any) *Delete {
	s := &Delete{}
	t, err := targetTable(table)
	if err != nil {
		s.fail(err)
		return s
	}
	s.table = t
	return s
}

// Err returns the first error raised while building the statement.
func (s *Delete) Err() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.where.complete()
}

// SetID sets the identifier of the compiled statement.
func (s *Delete) SetID(id string) *Delete {
	s.setID(id)
	return s
}

// With adds a common table expression.
func (s *Delete) With(name string, sub *Select) *Delete {
	s.addWith(name, sub, false)
	return s
}

// Join adds a join of the given mode. on may be nil.
func (s *Delete) Join(mode JoinMode, table any, on *Where) *Delete {
	s.addJoin(mode, table, on)
	return s
}

// InnerJoin adds an INNER JOIN.
func (s *Delete) InnerJoin(table any, on *Where) *Delete {
	return s.Join(JoinInner, table, on)
}

// LeftJoin adds a LEFT JOIN.
func (s *Delete) LeftJoin(table any, on *Where) *Delete {
	return s.Join(JoinLeft, table, on)
}

// NaturalJoin adds a NATURAL JOIN.
func (s *Delete) NaturalJoin(table any) *Delete {
	return s.Join(JoinNatural, table, nil)
}

// Where adds the condition "column op value" to the WHERE clause.
func (s *Delete) Where(column any, op string, value any) *Delete {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Cond(column, op, value) })
	return s
}

// WhereExpr adds a boolean expression to the WHERE clause.
func (s *Delete) WhereExpr(e Expression) *Delete {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Expr(e) })
	return s
}

// WhereRaw adds an opaque condition to the WHERE clause.
func (s *Delete) WhereRaw(sql string, args ...any) *Delete {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Raw(sql, args...) })
	return s
}

// WhereExists adds an EXISTS condition to the WHERE clause.
func (s *Delete) WhereExists(sub *Select) *Delete {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Exists(sub) })
	return s
}

// WhereGroup adds a nested group populated by fn to the WHERE clause.
func (s *Delete) WhereGroup(c Combinator, fn func(*Where)) *Delete {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Group(c, fn) })
	return s
}

// Conditions returns the WHERE tree for direct use.
func (s *Delete) Conditions() *Where {
	return s.conditions()
}

// Returning adds columns to a RETURNING clause.
func (s *Delete) Returning(columns ...any) *Delete {
	if s.err != nil {
		return s
	}
	cols, err := normalizeColumns(columns)
	if err != nil {
		s.fail(err)
		return s
	}
	s.returning = append(s.returning, cols...)
	return s
}

// Clone returns a deep copy of the statement.
func (s *Delete) Clone() *Delete {
	return &Delete{
		clauses:   s.clauses.clone(),
		filter:    filter{where: s.where.Clone()},
		table:     s.table,
		returning: cloneExprs(s.returning),
	}
}
