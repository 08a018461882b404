// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"fmt"
	"strconv"
	"strings"
)

// sqliteWriter renders SQLite 3.35 or later.
type sqliteWriter struct {
	*baseWriter
}

var _ formatter = (*sqliteWriter)(nil)

func (w *sqliteWriter) limit(limit, offset int) string {
	if limit == 0 && offset > 0 {
		return " LIMIT -1 OFFSET " + strconv.Itoa(offset)
	}
	return w.baseWriter.limit(limit, offset)
}

// lock renders nothing: SQLite locks the whole database on write.
func (w *sqliteWriter) lock() string {
	return ""
}

// constantTable names the columns in a wrapping select because SQLite
// does not accept a column list after a derived table alias.
func (w *sqliteWriter) constantTable(t ConstantTable) (string, error) {
	rows, err := w.constantRows(t, "(")
	if err != nil {
		return "", err
	}
	if len(t.Columns) == 0 {
		return "(VALUES " + rows + ") AS " + w.quote(t.Alias), nil
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fmt.Sprintf("column%d AS %s", i+1, w.quote(c))
	}
	return "(SELECT " + strings.Join(cols, ", ") + " FROM (VALUES " + rows + ")) AS " + w.quote(t.Alias), nil
}

// mergeStmt renders ON CONFLICT. A sub-select source gets a WHERE clause
// so the parser does not read ON CONFLICT as a join constraint.
func (w *sqliteWriter) mergeStmt(s *Merge) (string, error) {
	return w.onConflict(s, false, func(sub string) string {
		return "SELECT * FROM (" + sub + ") WHERE true"
	})
}

// deleteStmt rewrites joins as an EXISTS sub-query, as SQLite has no
// DELETE ... USING.
func (w *sqliteWriter) deleteStmt(s *Delete) (string, error) {
	if len(s.joins) == 0 {
		return w.baseWriter.deleteStmt(s)
	}
	if s.table.Name == "" {
		return "", compileError("DELETE needs a target table")
	}
	lead, rest, where, err := w.foldJoins("DELETE", s.joins, s.where)
	if err != nil {
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
	from, err := w.expression(lead)
	if err != nil {
		return "", err
	}
	joins, err := w.joins(rest)
	if err != nil {
		return "", err
	}
	b.WriteString("DELETE FROM " + table + " WHERE EXISTS (SELECT 1 FROM " + from + joins)
	if where.Len() > 0 {
		cond, err := w.conditions(where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE " + cond)
	}
	b.WriteString(")")
	returning, err := w.returning(s.returning)
	if err != nil {
		return "", err
	}
	b.WriteString(returning)
	return b.String(), nil
}
