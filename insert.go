// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"strings"

	"github.com/canonical/sqlcompose/internal/typeinfo"
)

// rowSet is the source of the rows written by INSERT and MERGE: literal
// rows or a sub-select.
type rowSet struct {
	columns []string
	rows    [][]Expression
	sub     *Select
}

func (r *rowSet) setColumns(columns []string) error {
	if len(r.rows) > 0 || r.sub != nil {
		return buildError("columns must be set before rows")
	}
	for _, c := range columns {
		if c == "" {
			return buildError("empty column name")
		}
		if strings.Contains(c, ".") {
			return buildError("column %q must not be qualified", c)
		}
	}
	r.columns = append(r.columns, columns...)
	return nil
}

func (r *rowSet) addRow(values []any) error {
	if r.sub != nil {
		return buildError("cannot add rows to a statement reading from a sub-select")
	}
	width := len(r.columns)
	if width == 0 && len(r.rows) > 0 {
		width = len(r.rows[0])
	}
	if width > 0 && len(values) != width {
		return buildError("row has %d values, expected %d", len(values), width)
	}
	if len(values) == 0 {
		return buildError("empty row")
	}
	row := make([]Expression, len(values))
	for i, v := range values {
		e, err := valueExpr(v)
		if err != nil {
			return err
		}
		row[i] = e
	}
	r.rows = append(r.rows, row)
	return nil
}

// addRecord adds a row read from a tagged struct or a map. The first record
// sets the columns when none were declared; later records must provide the
// same columns.
func (r *rowSet) addRecord(record any) error {
	cols, vals, err := typeinfo.Row(record)
	if err != nil {
		return buildError("%s", err)
	}
	if len(r.columns) == 0 && len(r.rows) == 0 {
		if err := r.setColumns(cols); err != nil {
			return err
		}
		return r.addRow(vals)
	}
	if len(r.columns) != len(cols) {
		return buildError("record has columns %v, expected %v", cols, r.columns)
	}
	byName := make(map[string]any, len(cols))
	for i, c := range cols {
		byName[c] = vals[i]
	}
	ordered := make([]any, len(r.columns))
	for i, c := range r.columns {
		v, ok := byName[c]
		if !ok {
			return buildError("record has no value for column %q", c)
		}
		ordered[i] = v
	}
	return r.addRow(ordered)
}

func (r *rowSet) fromSelect(sub *Select) error {
	if len(r.rows) > 0 {
		return buildError("cannot read from a sub-select after adding rows")
	}
	if _, err := checkExpr(sub); err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r rowSet) clone() rowSet {
	out := rowSet{sub: r.sub.Clone()}
	if r.columns != nil {
		out.columns = append([]string(nil), r.columns...)
	}
	for _, row := range r.rows {
		out.rows = append(out.rows, cloneExprs(row))
	}
	return out
}

// Insert is an INSERT statement.
type Insert struct {
	clauses
	rowSet
	table     Table
	returning []Expression
}

// NewInsert returns an INSERT into table.
func NewInsert(table any) *Insert {
	s := &Insert{}
	t, err := targetTable(table)
	if err != nil {
		s.fail(err)
		return s
	}
	s.table = t
	return s
}

// Err returns the first error raised while building the statement.
func (s *Insert) Err() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.sub.Err()
}

// SetID sets the identifier of the compiled statement.
func (s *Insert) SetID(id string) *Insert {
	s.setID(id)
	return s
}

// With adds a common table expression.
func (s *Insert) With(name string, sub *Select) *Insert {
	s.addWith(name, sub, false)
	return s
}

// Columns declares the inserted columns.
func (s *Insert) Columns(columns ...string) *Insert {
	if s.err == nil {
		s.fail(s.setColumns(columns))
	}
	return s
}

// Values adds a row.
func (s *Insert) Values(values ...any) *Insert {
	if s.err == nil {
		s.fail(s.addRow(values))
	}
	return s
}

// Record adds a row read from a struct with "db" tags or a map with string
// keys.
func (s *Insert) Record(record any) *Insert {
	if s.err == nil {
		s.fail(s.addRecord(record))
	}
	return s
}

// FromSelect inserts the rows returned by sub.
func (s *Insert) FromSelect(sub *Select) *Insert {
	if s.err == nil {
		s.fail(s.fromSelect(sub))
	}
	return s
}

// Returning adds columns to a RETURNING clause.
func (s *Insert) Returning(columns ...any) *Insert {
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
func (s *Insert) Clone() *Insert {
	return &Insert{
		clauses:   s.clauses.clone(),
		rowSet:    s.rowSet.clone(),
		table:     s.table,
		returning: cloneExprs(s.returning),
	}
}

// ConflictMode is the behaviour of a MERGE when a row collides with an
// existing key.
type ConflictMode int

const (
	// ConflictIgnore keeps the existing row.
	ConflictIgnore ConflictMode = iota + 1
	// ConflictUpdate overwrites the existing row's non-key columns.
	ConflictUpdate
)

func (m ConflictMode) String() string {
	switch m {
	case ConflictIgnore:
		return "IGNORE"
	case ConflictUpdate:
		return "UPDATE"
	}
	return "INVALID"
}

// Merge inserts rows, resolving collisions on the key columns according
// to its conflict mode. Generic SQL renders it as MERGE; Postgres and
// SQLite use ON CONFLICT and MySQL uses ON DUPLICATE KEY UPDATE or INSERT
// IGNORE.
type Merge struct {
	clauses
	rowSet
	table Table
	keys  []string
	mode  ConflictMode
}

// NewMerge returns a MERGE into table that updates on conflict.
func NewMerge(table any) *Merge {
	s := &Merge{mode: ConflictUpdate}
	t, err := targetTable(table)
	if err != nil {
		s.fail(err)
		return s
	}
	s.table = t
	return s
}

// Err returns the first error raised while building the statement.
func (s *Merge) Err() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.sub.Err()
}

// SetID sets the identifier of the compiled statement.
func (s *Merge) SetID(id string) *Merge {
	s.setID(id)
	return s
}

// With adds a common table expression.
func (s *Merge) With(name string, sub *Select) *Merge {
	s.addWith(name, sub, false)
	return s
}

// Columns declares the written columns.
func (s *Merge) Columns(columns ...string) *Merge {
	if s.err == nil {
		s.fail(s.setColumns(columns))
	}
	return s
}

// Values adds a row.
func (s *Merge) Values(values ...any) *Merge {
	if s.err == nil {
		s.fail(s.addRow(values))
	}
	return s
}

// Record adds a row read from a struct with "db" tags or a map with string
// keys.
func (s *Merge) Record(record any) *Merge {
	if s.err == nil {
		s.fail(s.addRecord(record))
	}
	return s
}

// FromSelect merges the rows returned by sub.
func (s *Merge) FromSelect(sub *Select) *Merge {
	if s.err == nil {
		s.fail(s.fromSelect(sub))
	}
	return s
}

// Keys sets the columns identifying a row. They must be plain column
// names.
func (s *Merge) Keys(columns ...string) *Merge {
	if s.err != nil {
		return s
	}
	for _, c := range columns {
		if c == "" || strings.Contains(c, ".") {
			s.fail(buildError("merge key %q must be a plain column name", c))
			return s
		}
	}
	s.keys = append([]string(nil), columns...)
	return s
}

// OnConflict sets the conflict mode.
func (s *Merge) OnConflict(mode ConflictMode) *Merge {
	if s.err != nil {
		return s
	}
	if mode != ConflictIgnore && mode != ConflictUpdate {
		s.fail(buildError("invalid conflict mode %d", int(mode)))
		return s
	}
	s.mode = mode
	return s
}

// OnConflictUpdate updates colliding rows, optionally setting the key
// columns.
func (s *Merge) OnConflictUpdate(keys ...string) *Merge {
	if len(keys) > 0 {
		s.Keys(keys...)
	}
	return s.OnConflict(ConflictUpdate)
}

// OnConflictIgnore keeps colliding rows, optionally setting the key
// columns.
func (s *Merge) OnConflictIgnore(keys ...string) *Merge {
	if len(keys) > 0 {
		s.Keys(keys...)
	}
	return s.OnConflict(ConflictIgnore)
}

// Clone returns a deep copy of the statement.
func (s *Merge) Clone() *Merge {
	c := &Merge{
		clauses: s.clauses.clone(),
		rowSet:  s.rowSet.clone(),
		table:   s.table,
		mode:    s.mode,
	}
	if s.keys != nil {
		c.keys = append([]string(nil), s.keys...)
	}
	return c
}

// updateColumns returns the columns a conflicting row has overwritten:
// every non-key column, or every column when there is no key.
func (s *Merge) updateColumns() []string {
	if s.mode != ConflictUpdate {
		return nil
	}
	isKey := make(map[string]bool, len(s.keys))
	for _, k := range s.keys {
		isKey[k] = true
	}
	var cols []string
	for _, c := range s.columns {
		if !isKey[c] {
			cols = append(cols, c)
		}
	}
	return cols
}
