// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"strconv"
	"strings"
)

// mysqlWriter renders MySQL 8.
type mysqlWriter struct {
	*baseWriter
}

var _ formatter = (*mysqlWriter)(nil)

// mysqlMaxLimit is the documented way to express an unbounded LIMIT.
const mysqlMaxLimit = "18446744073709551615"

func (w *mysqlWriter) limit(limit, offset int) string {
	if limit == 0 && offset > 0 {
		return " LIMIT " + mysqlMaxLimit + " OFFSET " + strconv.Itoa(offset)
	}
	return w.baseWriter.limit(limit, offset)
}

// orderTerm sorts on "expr IS NULL" first to place NULLs, as MySQL has no
// NULLS FIRST or NULLS LAST.
func (w *mysqlWriter) orderTerm(o order) (string, error) {
	if o.nulls == NullsDefault {
		return w.baseWriter.orderTerm(o)
	}
	nulls, err := w.expression(o.expr)
	if err != nil {
		return "", err
	}
	expr, err := w.expression(o.expr)
	if err != nil {
		return "", err
	}
	placement := " IS NULL DESC, "
	if o.nulls == NullsLast {
		placement = " IS NULL ASC, "
	}
	dir := " ASC"
	if o.dir == Desc {
		dir = " DESC"
	}
	return nulls + placement + expr + dir, nil
}

// like relies on the case insensitive default collation and compares bytes
// for case sensitive matches.
func (w *mysqlWriter) like(l Like) (string, error) {
	expr, marker, escape, err := w.likeParts(l)
	if err != nil {
		return "", err
	}
	op := " LIKE "
	if l.Not {
		op = " NOT LIKE "
	}
	if l.CaseSensitive {
		op += "BINARY "
	}
	return expr + op + marker + escape, nil
}

func (w *mysqlWriter) constantTable(t ConstantTable) (string, error) {
	rows, err := w.constantRows(t, "ROW(")
	if err != nil {
		return "", err
	}
	s := "(VALUES " + rows + ") AS " + w.quote(t.Alias)
	if len(t.Columns) > 0 {
		s += " (" + w.quoteList(t.Columns) + ")"
	}
	return s, nil
}

func (w *mysqlWriter) returning(cols []Expression) (string, error) {
	if len(cols) > 0 {
		return "", compileError("mysql does not support RETURNING")
	}
	return "", nil
}

func (w *mysqlWriter) defaultValues() string {
	return " () VALUES ()"
}

// updateStmt uses the native multi-table UPDATE when there are joins.
func (w *mysqlWriter) updateStmt(s *Update) (string, error) {
	if len(s.joins) == 0 {
		return w.baseWriter.updateStmt(s)
	}
	if err := checkUpdate(s); err != nil {
		return "", err
	}
	var b strings.Builder
	with, err := w.with(s.with)
	if err != nil {
		return "", err
	}
	b.WriteString(with)
	table, err := w.table(s.table)
	if err != nil {
		return "", err
	}
	joins, err := w.joins(s.joins)
	if err != nil {
		return "", err
	}
	sets, err := w.assignments(s.sets)
	if err != nil {
		return "", err
	}
	b.WriteString("UPDATE " + table + joins + " SET " + sets)
	if s.where.Len() > 0 {
		cond, err := w.conditions(s.where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE " + cond)
	}
	returning, err := w.returning(s.returning)
	if err != nil {
		return "", err
	}
	b.WriteString(returning)
	return b.String(), nil
}

// deleteStmt uses the native multi-table DELETE when there are joins,
// deleting only from the target table.
func (w *mysqlWriter) deleteStmt(s *Delete) (string, error) {
	if len(s.joins) == 0 {
		return w.baseWriter.deleteStmt(s)
	}
	if s.table.Name == "" {
		return "", compileError("DELETE needs a target table")
	}
	var b strings.Builder
	with, err := w.with(s.with)
	if err != nil {
		return "", err
	}
	b.WriteString(with)
	table, err := w.table(s.table)
	if err != nil {
		return "", err
	}
	joins, err := w.joins(s.joins)
	if err != nil {
		return "", err
	}
	b.WriteString("DELETE " + w.quoteName(s.table.ref()) + " FROM " + table + joins)
	if s.where.Len() > 0 {
		cond, err := w.conditions(s.where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE " + cond)
	}
	returning, err := w.returning(s.returning)
	if err != nil {
		return "", err
	}
	b.WriteString(returning)
	return b.String(), nil
}

// mergeStmt renders INSERT IGNORE, or ON DUPLICATE KEY UPDATE when there
// are columns to overwrite. MySQL resolves conflicts on every unique key so
// the key columns only decide which columns are left alone.
func (w *mysqlWriter) mergeStmt(s *Merge) (string, error) {
	if err := checkMerge(s); err != nil {
		return "", err
	}
	update := s.updateColumns()
	var b strings.Builder
	with, err := w.with(s.with)
	if err != nil {
		return "", err
	}
	b.WriteString(with)
	table, err := w.tableName(s.table)
	if err != nil {
		return "", err
	}
	if len(update) == 0 {
		b.WriteString("INSERT IGNORE INTO " + table)
	} else {
		b.WriteString("INSERT INTO " + table)
	}
	rows, err := w.rows(&s.rowSet, nil)
	if err != nil {
		return "", err
	}
	b.WriteString(rows)
	if len(update) > 0 {
		sets := make([]string, len(update))
		for i, c := range update {
			sets[i] = w.quote(c) + " = VALUES(" + w.quote(c) + ")"
		}
		b.WriteString(" ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	}
	return b.String(), nil
}
