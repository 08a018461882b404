// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

// Direction is the sort direction of an ORDER BY term.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// NullsOrder places NULLs in an ORDER BY term independently of its
// direction.
type NullsOrder int

const (
	NullsDefault NullsOrder = iota
	NullsFirst
	NullsLast
)

type order struct {
	expr  Expression
	dir   Direction
	nulls NullsOrder
}

type union struct {
	all bool
	sel *Select
}

// Select is a SELECT statement. It is also an Expression and renders as a
// parenthesised sub-select when used as one.
type Select struct {
	clauses
	filter
	distinct  bool
	columns   []Expression
	from      []Expression
	groupBy   []Expression
	having    *Where
	orderBy   []order
	limit     int
	offset    int
	unions    []union
	forUpdate bool
}

// NewSelect returns a SELECT of the given columns. With no columns every
// column is selected.
func NewSelect(columns ...any) *Select {
	s := &Select{}
	return s.Columns(columns...)
}

// Err returns the first error raised while building the statement.
func (s *Select) Err() error {
	if s == nil {
		return nil
	}
	if err := s.check(); err != nil {
		return err
	}
	if err := s.where.complete(); err != nil {
		return err
	}
	if err := s.having.complete(); err != nil {
		return err
	}
	for _, u := range s.unions {
		if err := u.sel.Err(); err != nil {
			return err
		}
	}
	return nil
}

// SetID sets the identifier of the compiled statement.
func (s *Select) SetID(id string) *Select {
	s.setID(id)
	return s
}

// Columns adds projected columns. Strings are column references and may
// carry an alias, as in "t.name AS n".
func (s *Select) Columns(columns ...any) *Select {
	if s.err != nil {
		return s
	}
	cols, err := normalizeColumns(columns)
	if err != nil {
		s.fail(err)
		return s
	}
	s.columns = append(s.columns, cols...)
	return s
}

// Distinct selects only distinct rows.
func (s *Select) Distinct() *Select {
	s.distinct = true
	return s
}

// From adds tables to the FROM clause.
func (s *Select) From(tables ...any) *Select {
	if s.err != nil {
		return s
	}
	for _, t := range tables {
		e, err := tableExpr(t)
		if err != nil {
			s.fail(err)
			return s
		}
		s.from = append(s.from, e)
	}
	return s
}

// Join adds a join of the given mode. on may be nil.
func (s *Select) Join(mode JoinMode, table any, on *Where) *Select {
	s.addJoin(mode, table, on)
	return s
}

// InnerJoin adds an INNER JOIN.
func (s *Select) InnerJoin(table any, on *Where) *Select {
	return s.Join(JoinInner, table, on)
}

// LeftJoin adds a LEFT JOIN.
func (s *Select) LeftJoin(table any, on *Where) *Select {
	return s.Join(JoinLeft, table, on)
}

// RightJoin adds a RIGHT JOIN.
func (s *Select) RightJoin(table any, on *Where) *Select {
	return s.Join(JoinRight, table, on)
}

// NaturalJoin adds a NATURAL JOIN.
func (s *Select) NaturalJoin(table any) *Select {
	return s.Join(JoinNatural, table, nil)
}

// With adds a common table expression.
func (s *Select) With(name string, sub *Select) *Select {
	s.addWith(name, sub, false)
	return s
}

// WithRecursive adds a recursive common table expression.
func (s *Select) WithRecursive(name string, sub *Select) *Select {
	s.addWith(name, sub, true)
	return s
}

// Where adds the condition "column op value" to the WHERE clause. See
// [Where.Cond].
func (s *Select) Where(column any, op string, value any) *Select {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Cond(column, op, value) })
	return s
}

// WhereExpr adds a boolean expression, such as a Like or a *Where, to the
// WHERE clause.
func (s *Select) WhereExpr(e Expression) *Select {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Expr(e) })
	return s
}

// WhereRaw adds an opaque condition to the WHERE clause.
func (s *Select) WhereRaw(sql string, args ...any) *Select {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Raw(sql, args...) })
	return s
}

// WhereExists adds an EXISTS condition to the WHERE clause.
func (s *Select) WhereExists(sub *Select) *Select {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Exists(sub) })
	return s
}

// WhereNotExists adds a NOT EXISTS condition to the WHERE clause.
func (s *Select) WhereNotExists(sub *Select) *Select {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.NotExists(sub) })
	return s
}

// WhereGroup adds a nested group populated by fn to the WHERE clause.
func (s *Select) WhereGroup(c Combinator, fn func(*Where)) *Select {
	whereStep(&s.clauses, &s.filter, func(w *Where) { w.Group(c, fn) })
	return s
}

// Conditions returns the WHERE tree for direct use, for instance with Open
// and Close.
func (s *Select) Conditions() *Where {
	return s.conditions()
}

// GroupBy adds GROUP BY terms.
func (s *Select) GroupBy(columns ...any) *Select {
	if s.err != nil {
		return s
	}
	cols, err := normalizeColumns(columns)
	if err != nil {
		s.fail(err)
		return s
	}
	s.groupBy = append(s.groupBy, cols...)
	return s
}

// Having adds the condition "column op value" to the HAVING clause.
func (s *Select) Having(column any, op string, value any) *Select {
	if s.err != nil {
		return s
	}
	if s.having == nil {
		s.having = NewWhere()
	}
	if err := s.having.Cond(column, op, value).Err(); err != nil {
		s.fail(err)
	}
	return s
}

// OrderBy adds an ORDER BY term.
func (s *Select) OrderBy(column any, dir Direction) *Select {
	return s.OrderByNulls(column, dir, NullsDefault)
}

// OrderByNulls adds an ORDER BY term with explicit NULL placement.
func (s *Select) OrderByNulls(column any, dir Direction, nulls NullsOrder) *Select {
	if s.err != nil {
		return s
	}
	if dir != Asc && dir != Desc {
		s.fail(buildError("invalid sort direction %d for column %v", dir, column))
		return s
	}
	if nulls < NullsDefault || nulls > NullsLast {
		s.fail(buildError("invalid nulls order %d for column %v", nulls, column))
		return s
	}
	e, err := columnExpr(column)
	if err != nil {
		s.fail(err)
		return s
	}
	s.orderBy = append(s.orderBy, order{expr: e, dir: dir, nulls: nulls})
	return s
}

// Range sets LIMIT and OFFSET. A limit of zero means no limit.
func (s *Select) Range(limit, offset int) *Select {
	if s.err != nil {
		return s
	}
	if limit < 0 || offset < 0 {
		s.fail(buildError("invalid range: limit %d, offset %d", limit, offset))
		return s
	}
	s.limit, s.offset = limit, offset
	return s
}

// Limit sets LIMIT, keeping the offset.
func (s *Select) Limit(limit int) *Select {
	return s.Range(limit, s.offset)
}

// Offset sets OFFSET, keeping the limit.
func (s *Select) Offset(offset int) *Select {
	return s.Range(s.limit, offset)
}

// Union appends a UNION with other.
func (s *Select) Union(other *Select) *Select {
	return s.addUnion(other, false)
}

// UnionAll appends a UNION ALL with other.
func (s *Select) UnionAll(other *Select) *Select {
	return s.addUnion(other, true)
}

func (s *Select) addUnion(other *Select, all bool) *Select {
	if s.err != nil {
		return s
	}
	if other == s {
		s.fail(buildError("cannot union a select with itself"))
		return s
	}
	if _, err := checkExpr(other); err != nil {
		s.fail(err)
		return s
	}
	s.unions = append(s.unions, union{all: all, sel: other})
	return s
}

// ForUpdate locks the selected rows.
func (s *Select) ForUpdate() *Select {
	s.forUpdate = true
	return s
}

// Clone returns a deep copy of the statement.
func (s *Select) Clone() *Select {
	if s == nil {
		return nil
	}
	c := &Select{
		clauses:   s.clauses.clone(),
		filter:    filter{where: s.where.Clone()},
		distinct:  s.distinct,
		columns:   cloneExprs(s.columns),
		from:      cloneExprs(s.from),
		groupBy:   cloneExprs(s.groupBy),
		having:    s.having.Clone(),
		limit:     s.limit,
		offset:    s.offset,
		forUpdate: s.forUpdate,
	}
	for _, o := range s.orderBy {
		c.orderBy = append(c.orderBy, order{expr: cloneExpr(o.expr), dir: o.dir, nulls: o.nulls})
	}
	for _, u := range s.unions {
		c.unions = append(c.unions, union{all: u.all, sel: u.sel.Clone()})
	}
	return c
}
