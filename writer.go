// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/canonical/sqlcompose/dialect"
	"github.com/canonical/sqlcompose/internal/args"
	"github.com/canonical/sqlcompose/internal/placeholder"
)

// formatter renders every statement and expression variant. baseWriter
// implements it for generic SQL. Dialect writers embed *baseWriter and
// override single routines; baseWriter calls back through outer so the
// overrides apply at every depth of the statement graph.
//
// Every routine renders its parts left to right, so bound values reach the
// accumulator in the order their markers appear in the text.
type formatter interface {
	selectStmt(s *Select) (string, error)
	insertStmt(s *Insert) (string, error)
	updateStmt(s *Update) (string, error)
	deleteStmt(s *Delete) (string, error)
	mergeStmt(s *Merge) (string, error)

	column(e Column) (string, error)
	value(e Value) (string, error)
	raw(e Raw) (string, error)
	table(e Table) (string, error)
	constantRow(e ConstantRow) (string, error)
	constantTable(e ConstantTable) (string, error)
	comparison(e Comparison) (string, error)
	between(e Between) (string, error)
	like(e Like) (string, error)
	aliased(e Aliased) (string, error)
	cast(e Cast) (string, error)
	function(e Func) (string, error)
	subSelect(e *Select) (string, error)
	condition(e *Where) (string, error)

	tautology() string
	limit(limit, offset int) string
	orderTerm(o order) (string, error)
	returning(cols []Expression) (string, error)
	defaultValues() string
	lock() string
}

type baseWriter struct {
	// outer is the concrete dialect writer.
	outer   formatter
	dialect dialect.Dialect
	args    *args.Accumulator
}

var _ formatter = (*baseWriter)(nil)

// newWriter returns the writer for d, feeding acc.
func newWriter(d dialect.Dialect, acc *args.Accumulator) *baseWriter {
	w := &baseWriter{dialect: d, args: acc}
	switch d.Name() {
	case dialect.NamePostgres:
		w.outer = &postgresWriter{w}
	case dialect.NameMySQL:
		w.outer = &mysqlWriter{w}
	case dialect.NameSQLite:
		w.outer = &sqliteWriter{w}
	default:
		w.outer = w
	}
	return w
}

// statement dispatches on the statement variant.
func (w *baseWriter) statement(s Statement) (string, error) {
	switch s := s.(type) {
	case *Select:
		return w.outer.selectStmt(s)
	case *Insert:
		return w.outer.insertStmt(s)
	case *Update:
		return w.outer.updateStmt(s)
	case *Delete:
		return w.outer.deleteStmt(s)
	case *Merge:
		return w.outer.mergeStmt(s)
	case Raw:
		return w.outer.raw(s)
	}
	return "", compileError("unsupported statement %T", s)
}

// expression dispatches on the expression variant.
func (w *baseWriter) expression(e Expression) (string, error) {
	switch e := e.(type) {
	case Column:
		return w.outer.column(e)
	case Value:
		return w.outer.value(e)
	case Raw:
		return w.outer.raw(e)
	case Table:
		return w.outer.table(e)
	case ConstantRow:
		return w.outer.constantRow(e)
	case ConstantTable:
		return w.outer.constantTable(e)
	case Comparison:
		return w.outer.comparison(e)
	case Between:
		return w.outer.between(e)
	case Like:
		return w.outer.like(e)
	case Aliased:
		return w.outer.aliased(e)
	case Cast:
		return w.outer.cast(e)
	case Func:
		return w.outer.function(e)
	case *Select:
		return w.outer.subSelect(e)
	case *Where:
		return w.outer.condition(e)
	case nil:
		return "", compileError("nil expression")
	}
	return "", compileError("unsupported expression %T", e)
}

func (w *baseWriter) quote(name string) string {
	return w.dialect.QuoteIdentifier(name)
}

// quoteName quotes each dot separated part of name.
func (w *baseWriter) quoteName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p != "*" {
			parts[i] = w.quote(p)
		}
	}
	return strings.Join(parts, ".")
}

func (w *baseWriter) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = w.quote(n)
	}
	return strings.Join(quoted, ", ")
}

// bind adds a value to the accumulator and returns its marker.
func (w *baseWriter) bind(v any, typ string) string {
	w.args.Add(v, typ)
	return "?"
}

// list renders expressions separated by commas.
func (w *baseWriter) list(es []Expression) (string, error) {
	parts := make([]string, len(es))
	for i, e := range es {
		s, err := w.expression(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

func (w *baseWriter) values(vs []any) (string, error) {
	parts := make([]string, len(vs))
	for i, v := range vs {
		var s string
		var err error
		if e, ok := v.(Expression); ok {
			s, err = w.expression(e)
		} else {
			s, err = w.outer.value(Value{V: v})
		}
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

func (w *baseWriter) column(c Column) (string, error) {
	if c.Name == "" {
		return "", compileError("empty column name")
	}
	name := "*"
	if c.Name != "*" {
		name = w.quote(c.Name)
	}
	if c.Table == "" {
		return name, nil
	}
	return w.quoteName(c.Table) + "." + name, nil
}

func (w *baseWriter) value(v Value) (string, error) {
	if e, ok := v.V.(Expression); ok {
		return w.expression(e)
	}
	if _, ok := v.V.(driver.Valuer); ok || !isList(v.V) {
		return w.bind(v.V, v.Type), nil
	}
	items := listValues(v.V)
	if len(items) == 0 {
		return "", compileError("cannot bind an empty list")
	}
	markers := make([]string, len(items))
	for i, item := range items {
		if e, ok := item.(Expression); ok {
			m, err := w.expression(e)
			if err != nil {
				return "", err
			}
			markers[i] = m
			continue
		}
		markers[i] = w.bind(item, v.Type)
	}
	return "(" + strings.Join(markers, ", ") + ")", nil
}

func placeholderOptions(d dialect.Dialect) placeholder.Options {
	return placeholder.Options{
		Delimiters:       d.StringDelimiters(),
		BackslashEscapes: d.BackslashEscapes(),
	}
}

func (w *baseWriter) raw(r Raw) (string, error) {
	if strings.TrimSpace(r.SQL) == "" {
		return "", compileError("empty raw expression")
	}
	return placeholder.Expand(r.SQL, placeholderOptions(w.dialect), len(r.Args), func(n int, typ string) (string, error) {
		switch a := r.Args[n].(type) {
		case Value:
			if typ == "" {
				typ = a.Type
			}
			return w.outer.value(Value{V: a.V, Type: typ})
		case Expression:
			return w.expression(a)
		default:
			return w.outer.value(Value{V: a, Type: typ})
		}
	})
}

func (w *baseWriter) tableName(t Table) (string, error) {
	if t.Name == "" {
		return "", compileError("empty table name")
	}
	if t.Schema != "" {
		return w.quoteName(t.Schema) + "." + w.quote(t.Name), nil
	}
	return w.quote(t.Name), nil
}

func (w *baseWriter) table(t Table) (string, error) {
	name, err := w.tableName(t)
	if err != nil {
		return "", err
	}
	if t.Alias != "" {
		name += " AS " + w.quote(t.Alias)
	}
	return name, nil
}

func (w *baseWriter) constantRow(r ConstantRow) (string, error) {
	if len(r.Values) == 0 {
		return "", compileError("empty constant row")
	}
	vals, err := w.values(r.Values)
	if err != nil {
		return "", err
	}
	return "(" + vals + ")", nil
}

// constantRows renders the rows of a VALUES list, each wrapped by prefix
// and a closing parenthesis.
func (w *baseWriter) constantRows(t ConstantTable, prefix string) (string, error) {
	if t.Alias == "" {
		return "", compileError("constant table needs an alias")
	}
	if len(t.Rows) == 0 {
		return "", compileError("constant table %q has no rows", t.Alias)
	}
	width := len(t.Columns)
	if width == 0 {
		width = len(t.Rows[0])
	}
	rows := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != width {
			return "", compileError("constant table %q: row %d has %d values, expected %d", t.Alias, i, len(row), width)
		}
		vals, err := w.values(row)
		if err != nil {
			return "", err
		}
		rows[i] = prefix + vals + ")"
	}
	return strings.Join(rows, ", "), nil
}

func (w *baseWriter) constantTable(t ConstantTable) (string, error) {
	rows, err := w.constantRows(t, "(")
	if err != nil {
		return "", err
	}
	s := "(VALUES " + rows + ") AS " + w.quote(t.Alias)
	if len(t.Columns) > 0 {
		s += " (" + w.quoteList(t.Columns) + ")"
	}
	return s, nil
}

var comparisonOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true, "||": true,
	"AND": true, "OR": true,
}

func (w *baseWriter) comparison(c Comparison) (string, error) {
	op := normalizeOp(c.Op)
	if !operators[op] && !comparisonOps[op] {
		return "", compileError("unsupported operator %q", c.Op)
	}
	left, err := w.expression(c.Left)
	if err != nil {
		return "", err
	}
	right, err := w.expression(c.Right)
	if err != nil {
		return "", err
	}
	return left + " " + op + " " + right, nil
}

func (w *baseWriter) between(b Between) (string, error) {
	expr, err := w.expression(b.Expr)
	if err != nil {
		return "", err
	}
	low, err := w.expression(b.Low)
	if err != nil {
		return "", err
	}
	high, err := w.expression(b.High)
	if err != nil {
		return "", err
	}
	op := " BETWEEN "
	if b.Not {
		op = " NOT BETWEEN "
	}
	return expr + op + low + " AND " + high, nil
}

// likeParts renders the operand of a LIKE and binds its pattern. escape
// holds the ESCAPE clause when a value was spliced into the pattern.
func (w *baseWriter) likeParts(l Like) (expr, marker, escape string, err error) {
	expr, err = w.expression(l.Expr)
	if err != nil {
		return "", "", "", err
	}
	pattern := l.Pattern
	if l.Value != nil {
		wildcard := l.Wildcard
		if wildcard == "" {
			wildcard = DefaultWildcard
		}
		if pattern == "" {
			pattern = wildcard
		}
		if !strings.Contains(pattern, wildcard) {
			return "", "", "", compileError("LIKE pattern %q has no wildcard %q for value %v", pattern, wildcard, l.Value)
		}
		s, ok := l.Value.(string)
		if !ok {
			s = fmt.Sprint(l.Value)
		}
		pattern = strings.ReplaceAll(pattern, wildcard, w.dialect.EscapeLike(s))
		escape = " ESCAPE " + w.dialect.QuoteLiteral(string(dialect.LikeEscape))
	}
	if pattern == "" {
		return "", "", "", compileError("empty LIKE pattern")
	}
	return expr, w.bind(pattern, ""), escape, nil
}

func (w *baseWriter) like(l Like) (string, error) {
	expr, marker, escape, err := w.likeParts(l)
	if err != nil {
		return "", err
	}
	op := " LIKE "
	if l.Not {
		op = " NOT LIKE "
	}
	if l.CaseSensitive {
		return expr + op + marker + escape, nil
	}
	return "LOWER(" + expr + ")" + op + "LOWER(" + marker + ")" + escape, nil
}

var numericRx = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// aliased emits AS only when the alias says something the expression
// text does not.
func (w *baseWriter) aliased(a Aliased) (string, error) {
	text, err := w.expression(a.Expr)
	if err != nil {
		return "", err
	}
	if a.Alias == "" || a.Alias == text || numericRx.MatchString(a.Alias) {
		return text, nil
	}
	if c, ok := a.Expr.(Column); ok && c.Name == a.Alias {
		return text, nil
	}
	return text + " AS " + w.quote(a.Alias), nil
}

var typeNameRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_ ]*(\([0-9, ]+\))?(\[\])?$`)

func (w *baseWriter) castType(c Cast) (string, error) {
	if !typeNameRx.MatchString(c.Type) {
		return "", compileError("invalid cast type %q", c.Type)
	}
	expr, err := w.expression(c.Expr)
	if err != nil {
		return "", err
	}
	return expr, nil
}

func (w *baseWriter) cast(c Cast) (string, error) {
	expr, err := w.castType(c)
	if err != nil {
		return "", err
	}
	return "CAST(" + expr + " AS " + c.Type + ")", nil
}

var funcNameRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func (w *baseWriter) function(f Func) (string, error) {
	if !funcNameRx.MatchString(f.Name) {
		return "", compileError("invalid function name %q", f.Name)
	}
	params, err := w.list(f.Args)
	if err != nil {
		return "", err
	}
	return f.Name + "(" + params + ")", nil
}

func (w *baseWriter) subSelect(s *Select) (string, error) {
	body, err := w.outer.selectStmt(s)
	if err != nil {
		return "", err
	}
	return "(" + body + ")", nil
}

func (w *baseWriter) condition(wh *Where) (string, error) {
	if wh.Len() == 0 {
		return w.outer.tautology(), nil
	}
	s, err := w.conditions(wh)
	if err != nil {
		return "", err
	}
	return "(" + s + ")", nil
}

func (w *baseWriter) tautology() string {
	return "1"
}

// conditions renders a tree without enclosing parentheses.
func (w *baseWriter) conditions(wh *Where) (string, error) {
	if err := wh.complete(); err != nil {
		return "", err
	}
	if wh == nil {
		return w.outer.tautology(), nil
	}
	return w.group(wh.root, false)
}

func (w *baseWriter) group(g *group, nested bool) (string, error) {
	if len(g.conditions) == 0 {
		return w.outer.tautology(), nil
	}
	parts := make([]string, len(g.conditions))
	for i, c := range g.conditions {
		s, err := w.cond(c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	s := strings.Join(parts, " "+g.combinator.String()+" ")
	if nested {
		return "(" + s + ")", nil
	}
	return s, nil
}

func (w *baseWriter) cond(c condition) (string, error) {
	switch c := c.(type) {
	case *group:
		return w.group(c, true)
	case predicate:
		return w.predicate(c)
	case exprCondition:
		return w.expression(c.expr)
	case existsCondition:
		sub, err := w.outer.selectStmt(c.sub)
		if err != nil {
			return "", err
		}
		if c.not {
			return "NOT EXISTS (" + sub + ")", nil
		}
		return "EXISTS (" + sub + ")", nil
	}
	return "", compileError("unsupported condition %T", c)
}

func (w *baseWriter) predicate(p predicate) (string, error) {
	if v, ok := p.value.(Value); ok && (p.op == "IN" || p.op == "NOT IN") && isList(v.V) {
		if _, valuer := v.V.(driver.Valuer); !valuer && reflect.ValueOf(v.V).Len() == 0 {
			if p.op == "IN" {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
	}
	col, err := w.expression(p.column)
	if err != nil {
		return "", err
	}
	val, err := w.expression(p.value)
	if err != nil {
		return "", err
	}
	return col + " " + p.op + " " + val, nil
}

func (w *baseWriter) with(entries []with) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	recursive := false
	parts := make([]string, len(entries))
	for i, e := range entries {
		recursive = recursive || e.recursive
		sub, err := w.outer.selectStmt(e.sub)
		if err != nil {
			return "", err
		}
		parts[i] = w.quote(e.name) + " AS (" + sub + ")"
	}
	if recursive {
		return "WITH RECURSIVE " + strings.Join(parts, ", ") + " ", nil
	}
	return "WITH " + strings.Join(parts, ", ") + " ", nil
}

func (w *baseWriter) joins(js []*join) (string, error) {
	var b strings.Builder
	for _, j := range js {
		table, err := w.expression(j.table)
		if err != nil {
			return "", err
		}
		b.WriteString(" " + j.mode.String() + " " + table)
		if j.mode == JoinNatural {
			continue
		}
		on, err := w.conditions(j.on)
		if err != nil {
			return "", err
		}
		b.WriteString(" ON " + on)
	}
	return b.String(), nil
}

// foldJoins rewrites the joins of an UPDATE or DELETE: the first join
// becomes the lead table and its condition is ANDed with where.
func (w *baseWriter) foldJoins(kind string, js []*join, where *Where) (lead Expression, rest []*join, cond *Where, err error) {
	if len(js) == 0 {
		return nil, nil, where, nil
	}
	first := js[0]
	if first.mode != JoinInner && first.mode != JoinNatural {
		return nil, nil, nil, compileError("%s cannot start with %s of %v, only INNER or NATURAL joins can be rewritten", kind, first.mode, first.table)
	}
	return first.table, js[1:], and(first.on, where), nil
}

func (w *baseWriter) selectStmt(s *Select) (string, error) {
	// A sub-select can fail after it was attached to the outer statement.
	if err := s.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	with, err := w.with(s.with)
	if err != nil {
		return "", err
	}
	b.WriteString(with)
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		cols, err := w.list(s.columns)
		if err != nil {
			return "", err
		}
		b.WriteString(cols)
	}
	if len(s.from) > 0 {
		from, err := w.list(s.from)
		if err != nil {
			return "", err
		}
		b.WriteString(" FROM " + from)
	}
	joins, err := w.joins(s.joins)
	if err != nil {
		return "", err
	}
	b.WriteString(joins)
	if s.where.Len() > 0 {
		where, err := w.conditions(s.where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE " + where)
	}
	if len(s.groupBy) > 0 {
		groupBy, err := w.list(s.groupBy)
		if err != nil {
			return "", err
		}
		b.WriteString(" GROUP BY " + groupBy)
	}
	if s.having.Len() > 0 {
		having, err := w.conditions(s.having)
		if err != nil {
			return "", err
		}
		b.WriteString(" HAVING " + having)
	}
	for _, u := range s.unions {
		other, err := w.outer.selectStmt(u.sel)
		if err != nil {
			return "", err
		}
		if u.all {
			b.WriteString(" UNION ALL " + other)
		} else {
			b.WriteString(" UNION " + other)
		}
	}
	if len(s.orderBy) > 0 {
		terms := make([]string, len(s.orderBy))
		for i, o := range s.orderBy {
			term, err := w.outer.orderTerm(o)
			if err != nil {
				return "", err
			}
			terms[i] = term
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if s.limit > 0 || s.offset > 0 {
		b.WriteString(w.outer.limit(s.limit, s.offset))
	}
	if s.forUpdate {
		b.WriteString(w.outer.lock())
	}
	return b.String(), nil
}

func (w *baseWriter) orderTerm(o order) (string, error) {
	expr, err := w.expression(o.expr)
	if err != nil {
		return "", err
	}
	dir := " ASC"
	if o.dir == Desc {
		dir = " DESC"
	}
	switch o.nulls {
	case NullsFirst:
		return expr + dir + " NULLS FIRST", nil
	case NullsLast:
		return expr + dir + " NULLS LAST", nil
	}
	return expr + dir, nil
}

func (w *baseWriter) limit(limit, offset int) string {
	var s string
	if limit > 0 {
		s += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		s += " OFFSET " + strconv.Itoa(offset)
	}
	return s
}

func (w *baseWriter) lock() string {
	return " FOR UPDATE"
}

func (w *baseWriter) returning(cols []Expression) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	list, err := w.list(cols)
	if err != nil {
		return "", err
	}
	return " RETURNING " + list, nil
}

func (w *baseWriter) defaultValues() string {
	return " DEFAULT VALUES"
}

// rows renders the source of an INSERT: a column list followed by VALUES
// rows or a sub-select.
func (w *baseWriter) rows(r *rowSet, wrapSelect func(string) string) (string, error) {
	if len(r.columns) > 0 && len(r.rows) == 0 && r.sub == nil {
		return "", compileError("columns %s declared without rows", w.quoteList(r.columns))
	}
	var b strings.Builder
	if len(r.columns) > 0 {
		b.WriteString(" (" + w.quoteList(r.columns) + ")")
	}
	if r.sub != nil {
		sub, err := w.outer.selectStmt(r.sub)
		if err != nil {
			return "", err
		}
		if wrapSelect != nil {
			sub = wrapSelect(sub)
		}
		b.WriteString(" " + sub)
		return b.String(), nil
	}
	if len(r.rows) == 0 {
		return w.outer.defaultValues(), nil
	}
	rows := make([]string, len(r.rows))
	for i, row := range r.rows {
		vals, err := w.list(row)
		if err != nil {
			return "", err
		}
		rows[i] = "(" + vals + ")"
	}
	b.WriteString(" VALUES " + strings.Join(rows, ", "))
	return b.String(), nil
}

func (w *baseWriter) insertStmt(s *Insert) (string, error) {
	if s.table.Name == "" {
		return "", compileError("INSERT needs a target table")
	}
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
	b.WriteString("INSERT INTO " + table)
	rows, err := w.rows(&s.rowSet, nil)
	if err != nil {
		return "", err
	}
	b.WriteString(rows)
	returning, err := w.outer.returning(s.returning)
	if err != nil {
		return "", err
	}
	b.WriteString(returning)
	return b.String(), nil
}

func (w *baseWriter) assignments(sets []assignment) (string, error) {
	parts := make([]string, len(sets))
	for i, a := range sets {
		val, err := w.expression(a.value)
		if err != nil {
			return "", err
		}
		parts[i] = w.quote(a.column) + " = " + val
	}
	return strings.Join(parts, ", "), nil
}

func checkUpdate(s *Update) error {
	if s.table.Name == "" {
		return compileError("UPDATE needs a target table")
	}
	if len(s.sets) == 0 {
		return compileError("UPDATE of %q has no column assignments", s.table.ref())
	}
	return nil
}

func (w *baseWriter) updateStmt(s *Update) (string, error) {
	if err := checkUpdate(s); err != nil {
		return "", err
	}
	lead, rest, where, err := w.foldJoins("UPDATE", s.joins, s.where)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	with, err := w.with(s.with)
	if err != nil {
		return "", err
	}
	b.WriteString(with)
	table, err := w.outer.table(s.table)
	if err != nil {
		return "", err
	}
	sets, err := w.assignments(s.sets)
	if err != nil {
		return "", err
	}
	b.WriteString("UPDATE " + table + " SET " + sets)
	if lead != nil {
		from, err := w.expression(lead)
		if err != nil {
			return "", err
		}
		joins, err := w.joins(rest)
		if err != nil {
			return "", err
		}
		b.WriteString(" FROM " + from + joins)
	}
	if where.Len() > 0 {
		cond, err := w.conditions(where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE " + cond)
	}
	returning, err := w.outer.returning(s.returning)
	if err != nil {
		return "", err
	}
	b.WriteString(returning)
	return b.String(), nil
}

func (w *baseWriter) deleteStmt(s *Delete) (string, error) {
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
	table, err := w.outer.table(s.table)
	if err != nil {
		return "", err
	}
	b.WriteString("DELETE FROM " + table)
	if lead != nil {
		using, err := w.expression(lead)
		if err != nil {
			return "", err
		}
		joins, err := w.joins(rest)
		if err != nil {
			return "", err
		}
		b.WriteString(" USING " + using + joins)
	}
	if where.Len() > 0 {
		cond, err := w.conditions(where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE " + cond)
	}
	returning, err := w.outer.returning(s.returning)
	if err != nil {
		return "", err
	}
	b.WriteString(returning)
	return b.String(), nil
}

// excluded names the incoming row in MERGE and ON CONFLICT clauses.
const excluded = "excluded"

func checkMerge(s *Merge) error {
	if s.table.Name == "" {
		return compileError("MERGE needs a target table")
	}
	if s.mode != ConflictIgnore && s.mode != ConflictUpdate {
		return compileError("invalid conflict mode %d", int(s.mode))
	}
	if len(s.rows) == 0 && s.sub == nil {
		return compileError("cannot upsert default values")
	}
	if len(s.columns) == 0 {
		return compileError("MERGE into %q needs column names", s.table.ref())
	}
	return nil
}

func (w *baseWriter) mergeStmt(s *Merge) (string, error) {
	if err := checkMerge(s); err != nil {
		return "", err
	}
	if len(s.keys) == 0 {
		return "", compileError("MERGE into %q needs key columns", s.table.ref())
	}
	inserted := map[string]bool{}
	for _, c := range s.columns {
		inserted[c] = true
	}
	for _, k := range s.keys {
		if !inserted[k] {
			return "", compileError("MERGE key %q is not one of the merged columns", k)
		}
	}

	var b strings.Builder
	with, err := w.with(s.with)
	if err != nil {
		return "", err
	}
	b.WriteString(with)
	table, err := w.outer.table(s.table)
	if err != nil {
		return "", err
	}
	b.WriteString("MERGE INTO " + table + " USING ")

	if s.sub != nil {
		sub, err := w.outer.subSelect(s.sub)
		if err != nil {
			return "", err
		}
		b.WriteString(sub)
	} else {
		rows := make([]string, len(s.rows))
		for i, row := range s.rows {
			vals, err := w.list(row)
			if err != nil {
				return "", err
			}
			rows[i] = "(" + vals + ")"
		}
		b.WriteString("(VALUES " + strings.Join(rows, ", ") + ")")
	}
	src := w.quote(excluded)
	b.WriteString(" AS " + src + " (" + w.quoteList(s.columns) + ")")

	target := w.quoteName(s.table.ref())
	on := make([]string, len(s.keys))
	for i, k := range s.keys {
		on[i] = target + "." + w.quote(k) + " = " + src + "." + w.quote(k)
	}
	b.WriteString(" ON " + strings.Join(on, " AND "))

	if update := s.updateColumns(); len(update) > 0 {
		sets := make([]string, len(update))
		for i, c := range update {
			sets[i] = w.quote(c) + " = " + src + "." + w.quote(c)
		}
		b.WriteString(" WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", "))
	}

	vals := make([]string, len(s.columns))
	for i, c := range s.columns {
		vals[i] = src + "." + w.quote(c)
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (" + w.quoteList(s.columns) + ") VALUES (" + strings.Join(vals, ", ") + ")")
	return b.String(), nil
}

// onConflict renders a MERGE as INSERT ... ON CONFLICT, shared by the
// Postgres and SQLite writers.
func (w *baseWriter) onConflict(s *Merge, requireKeys bool, wrapSelect func(string) string) (string, error) {
	if err := checkMerge(s); err != nil {
		return "", err
	}
	if requireKeys && s.mode == ConflictUpdate && len(s.keys) == 0 {
		return "", compileError("%s: upsert into %q with update needs key columns", w.dialect.Name(), s.table.ref())
	}
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
	b.WriteString("INSERT INTO " + table)
	rows, err := w.rows(&s.rowSet, wrapSelect)
	if err != nil {
		return "", err
	}
	b.WriteString(rows)
	b.WriteString(" ON CONFLICT")
	if len(s.keys) > 0 {
		b.WriteString(" (" + w.quoteList(s.keys) + ")")
	}
	update := s.updateColumns()
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), nil
	}
	sets := make([]string, len(update))
	for i, c := range update {
		sets[i] = w.quote(c) + " = " + excluded + "." + w.quote(c)
	}
	b.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
	return b.String(), nil
}
